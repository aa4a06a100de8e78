package kernels

import (
	"errors"
	"fmt"
	"math"

	"github.com/sbl8/tilesim/core"
)

// PoolConfig holds the static limits of a max-pooling unit.
type PoolConfig struct {
	MaxChannels int
	MaxHeight   int
	MaxWidth    int
	PoolSize    int // default window when Dims.PoolSize is zero
	Stride      int // default stride when Dims.Stride is zero
	// Fixed units reject any runtime window or stride other than their own.
	Fixed bool
	ReLU  bool
}

func (c PoolConfig) Validate() error {
	if c.MaxChannels <= 0 || c.MaxHeight <= 0 || c.MaxWidth <= 0 {
		return errors.New("maxpool: limits must be positive")
	}
	if c.PoolSize <= 0 || c.Stride <= 0 {
		return errors.New("maxpool: pool size and stride must be positive")
	}
	return nil
}

// MaxPool takes the maximum of each PxP window of every channel.
type MaxPool struct {
	cfg PoolConfig
}

// NewMaxPool creates a max-pooling unit.
func NewMaxPool(cfg PoolConfig) (*MaxPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MaxPool{cfg: cfg}, nil
}

func (p *MaxPool) Config() PoolConfig { return p.cfg }

func (p *MaxPool) Kind() Kind { return KindMaxPool }

// window resolves the runtime pool size and stride.
func (p *MaxPool) window(d Dims) (size, stride int) {
	size, stride = d.PoolSize, d.Stride
	if size == 0 {
		size = p.cfg.PoolSize
	}
	if stride == 0 {
		stride = p.cfg.Stride
	}
	return size, stride
}

func (p *MaxPool) Validate(d Dims) error {
	if err := limit("channels", d.Input.Channels, p.cfg.MaxChannels); err != nil {
		return err
	}
	if err := limit("height", d.Input.Height, p.cfg.MaxHeight); err != nil {
		return err
	}
	if err := limit("width", d.Input.Width, p.cfg.MaxWidth); err != nil {
		return err
	}
	if d.PoolSize < 0 || d.Stride < 0 {
		return fmt.Errorf("%w: negative pool size or stride", ErrDimension)
	}
	size, stride := p.window(d)
	if p.cfg.Fixed && (size != p.cfg.PoolSize || stride != p.cfg.Stride) {
		return fmt.Errorf("%w: unit is fixed at pool %d stride %d, got pool %d stride %d",
			ErrDimension, p.cfg.PoolSize, p.cfg.Stride, size, stride)
	}
	if d.Input.Height < size || d.Input.Width < size {
		return fmt.Errorf("%w: %dx%d input smaller than %dx%d window",
			ErrDimension, d.Input.Height, d.Input.Width, size, size)
	}
	return nil
}

func (p *MaxPool) OutputShape(d Dims) core.Shape {
	size, stride := p.window(d)
	return core.Shape{
		Channels: d.Input.Channels,
		Height:   (d.Input.Height-size)/stride + 1,
		Width:    (d.Input.Width-size)/stride + 1,
	}
}

func (p *MaxPool) WeightCount(Dims) int { return 0 }

func (p *MaxPool) BiasCount(Dims) int { return 0 }

// Apply ignores weights and bias.
func (p *MaxPool) Apply(dst, input, weights, bias []float32, d Dims) error {
	if err := checkBuffers(p, dst, input, weights, bias, d); err != nil {
		return err
	}

	in := d.Input
	out := p.OutputShape(d)
	size, stride := p.window(d)

	for c := 0; c < out.Channels; c++ {
		for h := 0; h < out.Height; h++ {
			for w := 0; w < out.Width; w++ {
				best := float32(math.Inf(-1))
				for i := h * stride; i < h*stride+size; i++ {
					for j := w * stride; j < w*stride+size; j++ {
						if v := input[in.Index(c, i, j)]; v > best {
							best = v
						}
					}
				}
				if p.cfg.ReLU {
					best = relu(best)
				}
				dst[out.Index(c, h, w)] = best
			}
		}
	}
	return nil
}
