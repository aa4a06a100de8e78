package kernels

import (
	"errors"
	"fmt"

	"github.com/sbl8/tilesim/core"
)

// ConvConfig holds the static limits of a convolution unit.
type ConvConfig struct {
	MaxInputChannels  int
	MaxOutputChannels int
	MaxHeight         int
	MaxWidth          int
	FilterSize        int
	Stride            int
	Pad               int // zero padding; 0 is valid mode
	ReLU              bool
}

// Validate checks the config itself.
func (c ConvConfig) Validate() error {
	if c.MaxInputChannels <= 0 || c.MaxOutputChannels <= 0 || c.MaxHeight <= 0 || c.MaxWidth <= 0 {
		return errors.New("conv: limits must be positive")
	}
	if c.FilterSize <= 0 || c.Stride <= 0 {
		return errors.New("conv: filter size and stride must be positive")
	}
	if c.Pad < 0 {
		return errors.New("conv: negative padding")
	}
	return nil
}

// Convolution is a cross-correlation unit with per-output-channel bias.
type Convolution struct {
	cfg ConvConfig
}

// NewConvolution creates a convolution unit.
func NewConvolution(cfg ConvConfig) (*Convolution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Convolution{cfg: cfg}, nil
}

// Config returns the unit's static limits.
func (c *Convolution) Config() ConvConfig { return c.cfg }

func (c *Convolution) Kind() Kind { return KindConvolution }

func (c *Convolution) Validate(d Dims) error {
	if err := limit("input channels", d.Input.Channels, c.cfg.MaxInputChannels); err != nil {
		return err
	}
	if err := limit("height", d.Input.Height, c.cfg.MaxHeight); err != nil {
		return err
	}
	if err := limit("width", d.Input.Width, c.cfg.MaxWidth); err != nil {
		return err
	}
	if err := limit("output channels", d.OutputChannels, c.cfg.MaxOutputChannels); err != nil {
		return err
	}
	span := c.cfg.FilterSize - 2*c.cfg.Pad
	if d.Input.Height < span || d.Input.Width < span {
		return fmt.Errorf("%w: %dx%d input smaller than %dx%d filter",
			ErrDimension, d.Input.Height, d.Input.Width, c.cfg.FilterSize, c.cfg.FilterSize)
	}
	return nil
}

func (c *Convolution) outSize(in int) int {
	return (in+2*c.cfg.Pad-c.cfg.FilterSize)/c.cfg.Stride + 1
}

func (c *Convolution) OutputShape(d Dims) core.Shape {
	return core.Shape{
		Channels: d.OutputChannels,
		Height:   c.outSize(d.Input.Height),
		Width:    c.outSize(d.Input.Width),
	}
}

// WeightCount is Cout x Cin x F x F, laid out in that order.
func (c *Convolution) WeightCount(d Dims) int {
	f := c.cfg.FilterSize
	return d.OutputChannels * d.Input.Channels * f * f
}

func (c *Convolution) BiasCount(d Dims) int { return d.OutputChannels }

func (c *Convolution) Apply(dst, input, weights, bias []float32, d Dims) error {
	if err := checkBuffers(c, dst, input, weights, bias, d); err != nil {
		return err
	}

	in := d.Input
	out := c.OutputShape(d)
	f, s, p := c.cfg.FilterSize, c.cfg.Stride, c.cfg.Pad

	for co := 0; co < out.Channels; co++ {
		for h := 0; h < out.Height; h++ {
			for w := 0; w < out.Width; w++ {
				var sum float32
				for cin := 0; cin < in.Channels; cin++ {
					kernel := weights[(co*in.Channels+cin)*f*f:]
					for m := 0; m < f; m++ {
						i := h*s + m - p
						if i < 0 || i >= in.Height {
							continue
						}
						for n := 0; n < f; n++ {
							j := w*s + n - p
							if j < 0 || j >= in.Width {
								continue
							}
							sum += float32(input[in.Index(cin, i, j)] * kernel[m*f+n])
						}
					}
				}
				v := sum + bias[co]
				if c.cfg.ReLU {
					v = relu(v)
				}
				dst[out.Index(co, h, w)] = v
			}
		}
	}
	return nil
}
