// Package runtime implements the tile runner.
//
// A tile is one invocation of a fixed-function compute unit. The runner takes
// a parsed TileConfig and walks it through a single pass:
//  1. ParseConfig: build the operator and validate every dimension, address
//     and connection before any file is touched
//  2. ResolveInputs: load the input from memory or drain it from a stream,
//     then load weights and bias from memory
//  3. Execute: apply the operator inside a per-invocation Arena
//  4. ResolveOutputs: write the result to memory or multicast it to every
//     destination stream, tagged with the tile id
//
// I/O failures are lenient by default, matching the hardware harness: they
// are logged, a failed read yields zeros and a failed write is skipped.
// Options.Strict turns them into errors.
package runtime

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sbl8/tilesim/kernels"
	"github.com/sbl8/tilesim/memory"
	"github.com/sbl8/tilesim/stream"
)

// Phase names one step of a tile invocation.
type Phase uint8

const (
	PhaseParseConfig Phase = iota
	PhaseResolveInputs
	PhaseExecute
	PhaseResolveOutputs
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseParseConfig:
		return "parse config"
	case PhaseResolveInputs:
		return "resolve inputs"
	case PhaseExecute:
		return "execute"
	case PhaseResolveOutputs:
		return "resolve outputs"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// Options configures runner behavior.
type Options struct {
	MaxStreamElements int
	Strict            bool
	Verbose           bool
	Logger            *log.Logger
	// Opener resolves stream names. Nil selects file channels of
	// MaxStreamElements capacity.
	Opener stream.Opener
	// OpenMemory resolves the memory image path. Nil selects hex files.
	OpenMemory func(path string) memory.Store
}

// DefaultOptions provides the hardware-model defaults.
func DefaultOptions() Options {
	return Options{
		MaxStreamElements: stream.DefaultMaxElements,
		Logger:            log.New(os.Stderr, "", log.LstdFlags),
	}
}

// RunStats tracks what one invocation moved.
type RunStats struct {
	Tile           byte
	InputElements  int
	OutputElements int
	Destinations   int
	Warnings       int
	Latency        time.Duration
}

// Tile is a configured, validated tile invocation.
type Tile struct {
	cfg   TileConfig
	op    kernels.Operator
	opts  Options
	log   *log.Logger
	tag   byte
	mem   memory.Store
	arena *Arena
	stats RunStats
}

// New runs the ParseConfig phase. Every error it returns wraps ErrConfig.
func New(cfg TileConfig, opts Options) (*Tile, error) {
	op, err := cfg.Operator()
	if err != nil {
		return nil, err
	}
	return NewWithOperator(op, cfg, opts)
}

// NewWithOperator is New for a caller-built operator.
func NewWithOperator(op kernels.Operator, cfg TileConfig, opts Options) (*Tile, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: no operator", ErrConfig)
	}
	if err := cfg.Validate(op); err != nil {
		return nil, err
	}

	if opts.MaxStreamElements <= 0 {
		opts.MaxStreamElements = stream.DefaultMaxElements
	}
	if opts.Opener == nil {
		opts.Opener = stream.FileOpener(opts.MaxStreamElements)
	}
	if opts.OpenMemory == nil {
		opts.OpenMemory = func(path string) memory.Store { return memory.Open(path) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	t := &Tile{cfg: cfg, op: op, opts: opts}
	t.tag = t.resolveTag(logger)
	t.log = log.New(logger.Writer(), fmt.Sprintf("%stile %d: ", logger.Prefix(), t.tag), logger.Flags())
	t.stats.Tile = t.tag

	if cfg.MemoryPath != "" {
		t.mem = opts.OpenMemory(cfg.MemoryPath)
	}
	arena, err := NewArena(op, cfg.Dims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	t.arena = arena
	return t, nil
}

func (t *Tile) resolveTag(logger *log.Logger) byte {
	if t.cfg.Tile != DeriveTile {
		return byte(t.cfg.Tile)
	}
	id, ok := DeriveTileID(t.cfg.InputStream)
	if !ok && t.cfg.Mode.Write == Stream {
		logger.Printf("warning: cannot derive tile id from %q, tagging outputs 0", t.cfg.InputStream)
	}
	return id
}

// ID returns the source tag written with every streamed output element.
func (t *Tile) ID() byte { return t.tag }

// Config returns the tile's configuration.
func (t *Tile) Config() TileConfig { return t.cfg }

// Arena exposes the operand buffers of the last run.
func (t *Tile) Arena() *Arena { return t.arena }

// Run performs ResolveInputs, Execute and ResolveOutputs once.
func (t *Tile) Run() (RunStats, error) {
	start := time.Now()
	if t.opts.Verbose {
		t.banner()
	}

	if err := t.resolveInputs(); err != nil {
		return t.stats, fmt.Errorf("%s: %w", PhaseResolveInputs, err)
	}
	if err := t.op.Apply(t.arena.Output(), t.arena.Input(), t.arena.Weights(), t.arena.Bias(), t.cfg.Dims); err != nil {
		return t.stats, fmt.Errorf("%s: %w", PhaseExecute, err)
	}
	if err := t.resolveOutputs(); err != nil {
		return t.stats, fmt.Errorf("%s: %w", PhaseResolveOutputs, err)
	}

	t.stats.Latency = time.Since(start)
	if t.opts.Verbose {
		t.log.Printf("%s: %d elements out in %v", PhaseDone, t.stats.OutputElements, t.stats.Latency)
	}
	return t.stats, nil
}

func (t *Tile) banner() {
	c := t.cfg
	t.log.Printf("operator: %s (%s)", c.Preset, t.op.Kind())
	t.log.Printf("memoryFileName: %s", c.MemoryPath)
	t.log.Printf("inputStream: %s", c.InputStream)
	for i, d := range c.OutputStreams {
		t.log.Printf("outputStream[%d]: %s", i, d)
	}
	t.log.Printf("streamingSetting: %s", c.Mode)
	t.log.Printf("addresses: input %d weight %d bias %d output %d", c.InputAddr, c.WeightAddr, c.BiasAddr, c.OutputAddr)
	t.log.Printf("input: %s, output: %s", c.Dims.Input, t.op.OutputShape(c.Dims))
	if c.Dims.OutputChannels > 0 {
		t.log.Printf("outputChannels: %d", c.Dims.OutputChannels)
	}
	if t.op.Kind() == kernels.KindMaxPool {
		t.log.Printf("pool: %d stride: %d", c.Dims.PoolSize, c.Dims.Stride)
	}
}

// soften applies the I/O policy: strict runs fail, lenient runs log and go on.
func (t *Tile) soften(err error) error {
	if err == nil {
		return nil
	}
	if t.opts.Strict {
		return err
	}
	t.stats.Warnings++
	t.log.Printf("warning: %v", err)
	return nil
}

func (t *Tile) resolveInputs() error {
	want := t.cfg.Dims.Input.Len()
	var values []float32
	var err error

	switch t.cfg.Mode.Read {
	case Stream:
		var batch stream.Batch
		batch, err = t.opts.Opener(t.cfg.InputStream).Drain()
		values = batch.Values
		if err == nil && batch.Len() != want {
			err = fmt.Errorf("drained %d elements from %s, expected %d", batch.Len(), t.cfg.InputStream, want)
		}
	default:
		values, err = t.mem.ReadElements(t.cfg.InputAddr, want)
		if err != nil {
			values = nil
		}
	}
	n, fillErr := t.arena.Fill(kernels.RegionInput, values)
	if fillErr != nil {
		return fillErr
	}
	t.stats.InputElements = n
	if err := t.soften(err); err != nil {
		return err
	}

	if err := t.load(kernels.RegionWeights, t.cfg.WeightAddr, t.op.WeightCount(t.cfg.Dims)); err != nil {
		return err
	}
	return t.load(kernels.RegionBias, t.cfg.BiasAddr, t.op.BiasCount(t.cfg.Dims))
}

// load reads a parameter region from memory. A failed lenient read leaves
// the region zeroed.
func (t *Tile) load(region string, addr int64, count int) error {
	if count == 0 {
		return nil
	}
	values, err := t.mem.ReadElements(addr, count)
	if err != nil {
		if zerr := t.arena.ZeroRegion(region); zerr != nil {
			return zerr
		}
		return t.soften(fmt.Errorf("load %s: %w", region, err))
	}
	_, err = t.arena.Fill(region, values)
	return err
}

func (t *Tile) resolveOutputs() error {
	out := t.arena.Output()
	t.stats.OutputElements = len(out)

	if t.cfg.Mode.Write == Memory {
		t.stats.Destinations = 1
		return t.soften(t.mem.WriteElements(t.cfg.OutputAddr, out))
	}

	dests := make([]stream.Channel, len(t.cfg.OutputStreams))
	for i, name := range t.cfg.OutputStreams {
		dests[i] = t.opts.Opener(name)
	}
	t.stats.Destinations = len(dests)
	err := stream.Multicast(dests, t.tag, out)
	if err == nil || t.opts.Strict {
		return err
	}
	// one warning per failed destination
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		t.stats.Warnings++
		t.log.Printf("warning: %v", e)
	}
	return nil
}

// IsConfigError reports whether err was raised before any I/O.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, kernels.ErrDimension)
}
