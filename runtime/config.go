package runtime

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
)

// ErrConfig reports an invocation that is rejected before any I/O.
var ErrConfig = errors.New("invalid tile configuration")

// Source selects where one side of a tile is connected.
type Source uint8

const (
	Memory Source = 0
	Stream Source = 1
)

func (s Source) String() string {
	if s == Stream {
		return "stream"
	}
	return "memory"
}

// Mode is the streaming setting of a tile, written as the two-digit code
// 10*read + write.
type Mode struct {
	Read  Source
	Write Source
}

// ParseMode decodes a mode code. Both digits must be 0 or 1.
func ParseMode(code int) (Mode, error) {
	read, write := code/10, code%10
	if code < 0 || read > 1 || write > 1 {
		return Mode{}, fmt.Errorf("%w: streaming setting %d must be one of 0, 1, 10, 11", ErrConfig, code)
	}
	return Mode{Read: Source(read), Write: Source(write)}, nil
}

// Code returns the two-digit form of m.
func (m Mode) Code() int {
	return 10*int(m.Read) + int(m.Write)
}

func (m Mode) String() string {
	return fmt.Sprintf("%02d (%s -> %s)", m.Code(), m.Read, m.Write)
}

// DeriveTile is the TileConfig.Tile value that derives the tile id from the
// input stream name.
const DeriveTile = -1

// TileConfig is one fully parsed tile invocation.
type TileConfig struct {
	Preset        string
	ReLU          *bool // nil keeps the preset's fusion flag
	MemoryPath    string
	InputStream   string
	OutputStreams []string
	Mode          Mode
	InputAddr     int64
	WeightAddr    int64
	BiasAddr      int64
	OutputAddr    int64
	Dims          kernels.Dims
	Tile          int
}

// Operator builds the compute unit named by the config.
func (c TileConfig) Operator() (kernels.Operator, error) {
	op, err := kernels.Lookup(c.Preset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.ReLU != nil {
		if op, err = kernels.WithReLU(op, *c.ReLU); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return op, nil
}

// Validate checks everything that can be checked without touching a file.
func (c TileConfig) Validate(op kernels.Operator) error {
	if err := op.Validate(c.Dims); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	for _, a := range []struct {
		name string
		addr int64
	}{
		{"input", c.InputAddr}, {"weight", c.WeightAddr},
		{"bias", c.BiasAddr}, {"output", c.OutputAddr},
	} {
		if err := core.CheckAddress(a.addr); err != nil {
			return fmt.Errorf("%w: %s address: %w", ErrConfig, a.name, err)
		}
	}
	if c.Mode.Read == Stream && c.InputStream == "" {
		return fmt.Errorf("%w: stream input requires an input channel", ErrConfig)
	}
	if c.Mode.Write == Stream && len(c.OutputStreams) == 0 {
		return fmt.Errorf("%w: stream output requires at least one destination", ErrConfig)
	}
	needMemory := c.Mode.Read == Memory || c.Mode.Write == Memory ||
		op.WeightCount(c.Dims) > 0 || op.BiasCount(c.Dims) > 0
	if needMemory && c.MemoryPath == "" {
		return fmt.Errorf("%w: memory image path is required", ErrConfig)
	}
	if c.Tile < DeriveTile || c.Tile > 255 {
		return fmt.Errorf("%w: tile id %d outside 0..255", ErrConfig, c.Tile)
	}
	return nil
}

// DeriveTileID returns the trailing decimal digit of a stream name. Names
// that do not end in a digit yield 0 and false.
func DeriveTileID(name string) (byte, bool) {
	base := filepath.Base(name)
	if base == "" {
		return 0, false
	}
	last := base[len(base)-1]
	if last < '0' || last > '9' {
		return 0, false
	}
	return last - '0', true
}

// ApplyLayout sets every address from the worst-case layout of op at base.
func (c *TileConfig) ApplyLayout(op kernels.Operator, base int64) error {
	l, err := kernels.Layout(op, base)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	c.InputAddr = l.Address(kernels.RegionInput)
	c.OutputAddr = l.Address(kernels.RegionOutput)
	if a := l.Address(kernels.RegionWeights); a >= 0 {
		c.WeightAddr = a
	}
	if a := l.Address(kernels.RegionBias); a >= 0 {
		c.BiasAddr = a
	}
	return nil
}

// Positional argument counts after the memory, input and destination names.
var tailArgs = map[kernels.Kind]int{
	kernels.KindConvolution:    9, // mode, 4 addresses, cin h w cout
	kernels.KindFullyConnected: 7, // mode, 4 addresses, cin cout
	kernels.KindMaxPool:        8, // mode, 2 addresses, c h w pool stride
}

// Usage returns the positional argument order for an operator kind.
func Usage(k kernels.Kind) string {
	switch k {
	case kernels.KindConvolution:
		return "memory input dest... mode inAddr weightAddr biasAddr outAddr cin height width cout"
	case kernels.KindFullyConnected:
		return "memory input dest... mode inAddr weightAddr biasAddr outAddr cin cout"
	case kernels.KindMaxPool:
		return "memory input dest... mode inAddr outAddr channels height width pool stride"
	}
	return ""
}

// MinArgs returns the minimum positional argument count for a kind.
func MinArgs(k kernels.Kind) int {
	return 3 + tailArgs[k]
}

// ResolvePreset maps an operator or preset name to a preset name.
func ResolvePreset(name string) (string, kernels.Kind, error) {
	if p, ok := kernels.Catalog[name]; ok {
		return p.Name, p.Kind, nil
	}
	kind, err := kernels.ParseKind(name)
	if err != nil {
		return "", kernels.KindUnknown, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return kernels.DefaultPreset(kind), kind, nil
}

// ParseArgs parses the positional arguments of one tile invocation. name is
// an operator kind ("conv", "maxpool", "fc") or a preset name. Arguments
// between the input channel and the mode code are multicast destinations.
func ParseArgs(name string, args []string) (TileConfig, error) {
	preset, kind, err := ResolvePreset(name)
	if err != nil {
		return TileConfig{}, err
	}
	if len(args) < MinArgs(kind) {
		return TileConfig{}, fmt.Errorf("%w: %s needs %d arguments (%s), got %d",
			ErrConfig, name, MinArgs(kind), Usage(kind), len(args))
	}

	ndest := len(args) - MinArgs(kind) + 1
	cfg := TileConfig{
		Preset:        preset,
		MemoryPath:    args[0],
		InputStream:   args[1],
		OutputStreams: append([]string(nil), args[2:2+ndest]...),
		Tile:          DeriveTile,
	}

	p := intParser{args: args[2+ndest:]}
	mode := p.next("mode")
	cfg.InputAddr = p.next64("input address")
	if kind != kernels.KindMaxPool {
		cfg.WeightAddr = p.next64("weight address")
		cfg.BiasAddr = p.next64("bias address")
	}
	cfg.OutputAddr = p.next64("output address")

	switch kind {
	case kernels.KindConvolution:
		cfg.Dims.Input = core.Shape{Channels: p.next("input channels"), Height: p.next("height"), Width: p.next("width")}
		cfg.Dims.OutputChannels = p.next("output channels")
	case kernels.KindFullyConnected:
		cfg.Dims.Input = core.Vector(p.next("input channels"))
		cfg.Dims.OutputChannels = p.next("output channels")
	case kernels.KindMaxPool:
		cfg.Dims.Input = core.Shape{Channels: p.next("channels"), Height: p.next("height"), Width: p.next("width")}
		cfg.Dims.PoolSize = p.next("pool size")
		cfg.Dims.Stride = p.next("stride")
	}
	if p.err != nil {
		return TileConfig{}, p.err
	}

	if cfg.Mode, err = ParseMode(mode); err != nil {
		return TileConfig{}, err
	}
	return cfg, nil
}

// intParser consumes decimal arguments in order and keeps the first error.
type intParser struct {
	args []string
	err  error
}

func (p *intParser) next64(name string) int64 {
	if p.err != nil {
		return 0
	}
	if len(p.args) == 0 {
		p.err = fmt.Errorf("%w: missing %s", ErrConfig, name)
		return 0
	}
	v, err := strconv.ParseInt(p.args[0], 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: %s %q is not an integer", ErrConfig, name, p.args[0])
		return 0
	}
	p.args = p.args[1:]
	return v
}

func (p *intParser) next(name string) int {
	return int(p.next64(name))
}
