package kernels

import (
	"errors"

	"github.com/sbl8/tilesim/core"
)

// FCConfig holds the static limits of a fully-connected unit.
type FCConfig struct {
	MaxInputChannels  int
	MaxOutputChannels int
	ReLU              bool
}

// DefaultFCConfig returns the 128x64 unit with ReLU enabled.
func DefaultFCConfig() FCConfig {
	return FCConfig{MaxInputChannels: 128, MaxOutputChannels: 64, ReLU: true}
}

func (c FCConfig) Validate() error {
	if c.MaxInputChannels <= 0 || c.MaxOutputChannels <= 0 {
		return errors.New("fc: limits must be positive")
	}
	return nil
}

// FullyConnected computes out[co] = sum(in[cin] * w[co*Cin+cin]) + bias[co].
// The input is treated as a flat vector of Dims.Input.Len() elements.
type FullyConnected struct {
	cfg FCConfig
}

func NewFullyConnected(cfg FCConfig) (*FullyConnected, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FullyConnected{cfg: cfg}, nil
}

func (f *FullyConnected) Config() FCConfig { return f.cfg }

func (f *FullyConnected) Kind() Kind { return KindFullyConnected }

func (f *FullyConnected) Validate(d Dims) error {
	if err := limit("input channels", d.Input.Len(), f.cfg.MaxInputChannels); err != nil {
		return err
	}
	return limit("output channels", d.OutputChannels, f.cfg.MaxOutputChannels)
}

func (f *FullyConnected) OutputShape(d Dims) core.Shape {
	return core.Vector(d.OutputChannels)
}

func (f *FullyConnected) WeightCount(d Dims) int { return d.OutputChannels * d.Input.Len() }

func (f *FullyConnected) BiasCount(d Dims) int { return d.OutputChannels }

func (f *FullyConnected) Apply(dst, input, weights, bias []float32, d Dims) error {
	if err := checkBuffers(f, dst, input, weights, bias, d); err != nil {
		return err
	}

	cin := d.Input.Len()
	for co := 0; co < d.OutputChannels; co++ {
		row := weights[co*cin : (co+1)*cin]
		var sum float32
		for i, x := range input[:cin] {
			sum += float32(x * row[i])
		}
		v := sum + bias[co]
		if f.cfg.ReLU {
			v = relu(v)
		}
		dst[co] = v
	}
	return nil
}
