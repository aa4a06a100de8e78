package kernels

import (
	"fmt"
	"sort"

	"github.com/sbl8/tilesim/core"
)

// MaxImageSize bounds the spatial extent of every preset unit.
const MaxImageSize = 256

// Preset describes a named hardware unit.
type Preset struct {
	Name string
	Kind Kind
	New  func() (Operator, error)
}

// Catalog maps preset names to the hardware units they reproduce.
var Catalog = map[string]Preset{
	"conv8_16_5": {
		Name: "conv8_16_5",
		Kind: KindConvolution,
		New: func() (Operator, error) {
			return NewConvolution(ConvConfig{
				MaxInputChannels: 8, MaxOutputChannels: 16,
				MaxHeight: MaxImageSize, MaxWidth: MaxImageSize,
				FilterSize: 5, Stride: 1,
			})
		},
	},
	"convR8_32_5": {
		Name: "convR8_32_5",
		Kind: KindConvolution,
		New: func() (Operator, error) {
			return NewConvolution(ConvConfig{
				MaxInputChannels: 16, MaxOutputChannels: 128,
				MaxHeight: MaxImageSize, MaxWidth: MaxImageSize,
				FilterSize: 5, Stride: 1, ReLU: true,
			})
		},
	},
	"maxp2_2": {
		Name: "maxp2_2",
		Kind: KindMaxPool,
		New: func() (Operator, error) {
			return NewMaxPool(PoolConfig{
				MaxChannels: 32, MaxHeight: MaxImageSize, MaxWidth: MaxImageSize,
				PoolSize: 2, Stride: 2,
			})
		},
	},
	"maxP2_2": {
		Name: "maxP2_2",
		Kind: KindMaxPool,
		New: func() (Operator, error) {
			return NewMaxPool(PoolConfig{
				MaxChannels: 16, MaxHeight: MaxImageSize, MaxWidth: MaxImageSize,
				PoolSize: 2, Stride: 2, Fixed: true, ReLU: true,
			})
		},
	},
	"fc128_64": {
		Name: "fc128_64",
		Kind: KindFullyConnected,
		New: func() (Operator, error) {
			return NewFullyConnected(DefaultFCConfig())
		},
	},
}

// DefaultPreset returns the preset used when only an operator kind is given.
func DefaultPreset(k Kind) string {
	switch k {
	case KindConvolution:
		return "conv8_16_5"
	case KindMaxPool:
		return "maxp2_2"
	case KindFullyConnected:
		return "fc128_64"
	}
	return ""
}

// Lookup builds the operator for a preset name.
func Lookup(name string) (Operator, error) {
	p, ok := Catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return p.New()
}

// PresetNames lists the catalog in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Catalog))
	for name := range Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Region names used by Layout.
const (
	RegionInput   = "input"
	RegionWeights = "weights"
	RegionBias    = "bias"
	RegionOutput  = "output"
)

// Layout plans the worst-case memory regions of op starting at base. Offsets
// do not depend on runtime dimensions, so any invocation of the unit fits.
func Layout(op Operator, base int64) (core.Layout, error) {
	var d Dims
	switch o := op.(type) {
	case *Convolution:
		d = Dims{
			Input:          core.Shape{Channels: o.cfg.MaxInputChannels, Height: o.cfg.MaxHeight, Width: o.cfg.MaxWidth},
			OutputChannels: o.cfg.MaxOutputChannels,
		}
	case *MaxPool:
		d = Dims{Input: core.Shape{Channels: o.cfg.MaxChannels, Height: o.cfg.MaxHeight, Width: o.cfg.MaxWidth}}
	case *FullyConnected:
		d = Dims{Input: core.Vector(o.cfg.MaxInputChannels), OutputChannels: o.cfg.MaxOutputChannels}
	default:
		return core.Layout{}, fmt.Errorf("no layout for operator %s", op.Kind())
	}

	specs := []core.RegionSpec{{Name: RegionInput, Elements: d.Input.Len()}}
	if n := op.WeightCount(d); n > 0 {
		specs = append(specs, core.RegionSpec{Name: RegionWeights, Elements: n})
	}
	if n := op.BiasCount(d); n > 0 {
		specs = append(specs, core.RegionSpec{Name: RegionBias, Elements: n})
	}
	specs = append(specs, core.RegionSpec{Name: RegionOutput, Elements: op.OutputShape(d).Len()})
	return core.PlanLayout(base, specs...)
}

// WithReLU returns a copy of op with its fused ReLU flag set to on.
func WithReLU(op Operator, on bool) (Operator, error) {
	switch o := op.(type) {
	case *Convolution:
		cfg := o.cfg
		cfg.ReLU = on
		return NewConvolution(cfg)
	case *MaxPool:
		cfg := o.cfg
		cfg.ReLU = on
		return NewMaxPool(cfg)
	case *FullyConnected:
		cfg := o.cfg
		cfg.ReLU = on
		return NewFullyConnected(cfg)
	}
	return nil, fmt.Errorf("operator %s has no ReLU flag", op.Kind())
}
