// Package kernels provides the fixed-function compute operators of a tile.
//
// Each operator models one hardware compute unit: it takes an input feature
// map plus weights and biases that the tile loaded from memory, performs a
// single fused kernel and writes the result into a caller-owned buffer.
//
// Available operators:
//   - Convolution: cross-correlation with per-output-channel bias, optional ReLU
//   - MaxPool: sliding-window maximum per channel, optional ReLU
//   - FullyConnected: dense matrix-vector product with bias, ReLU by default
//
// Operators are bit-exact reference models, not fast kernels. All arithmetic
// is float32, accumulated left to right, and every product is rounded to
// float32 before it is added so the compiler cannot fuse it into an FMA.
//
// Static limits (channel counts, image size, filter size) live in a per-kernel
// config struct and are checked before any computation. Named presets in
// Catalog reproduce the limits of the individual hardware kernels.
package kernels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sbl8/tilesim/core"
)

// Kind enumerates the operator variants.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConvolution
	KindMaxPool
	KindFullyConnected
)

func (k Kind) String() string {
	switch k {
	case KindConvolution:
		return "conv"
	case KindMaxPool:
		return "maxpool"
	case KindFullyConnected:
		return "fc"
	default:
		return "unknown"
	}
}

// ParseKind accepts the short and long operator names.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "conv", "convolution":
		return KindConvolution, nil
	case "maxpool", "pool":
		return KindMaxPool, nil
	case "fc", "fullyconnected", "dense":
		return KindFullyConnected, nil
	}
	return KindUnknown, fmt.Errorf("unknown operator %q", name)
}

// ErrDimension reports a runtime dimension outside the operator's limits.
var ErrDimension = errors.New("dimension out of range")

// Dims carries the runtime shape parameters of one invocation.
type Dims struct {
	Input          core.Shape
	OutputChannels int // conv, fc
	PoolSize       int // maxpool; 0 selects the configured window
	Stride         int // maxpool; 0 selects the configured stride
}

// Operator is the pluggable compute contract shared by every tile.
type Operator interface {
	Kind() Kind
	// Validate checks d against the operator's static limits.
	Validate(d Dims) error
	OutputShape(d Dims) core.Shape
	WeightCount(d Dims) int
	BiasCount(d Dims) int
	// Apply computes dst from input, weights and bias. Slices may be longer
	// than required; only the leading elements are used.
	Apply(dst, input, weights, bias []float32, d Dims) error
}

// Run allocates the output buffer and applies op.
func Run(op Operator, input, weights, bias []float32, d Dims) ([]float32, error) {
	if err := op.Validate(d); err != nil {
		return nil, err
	}
	dst := make([]float32, op.OutputShape(d).Len())
	if err := op.Apply(dst, input, weights, bias, d); err != nil {
		return nil, err
	}
	return dst, nil
}

// checkBuffers verifies that every operand slice is large enough.
func checkBuffers(op Operator, dst, input, weights, bias []float32, d Dims) error {
	if err := op.Validate(d); err != nil {
		return err
	}
	need := []struct {
		name string
		have int
		want int
	}{
		{"input", len(input), d.Input.Len()},
		{"weights", len(weights), op.WeightCount(d)},
		{"bias", len(bias), op.BiasCount(d)},
		{"output", len(dst), op.OutputShape(d).Len()},
	}
	for _, n := range need {
		if n.have < n.want {
			return fmt.Errorf("%s: %s buffer holds %d elements, need %d", op.Kind(), n.name, n.have, n.want)
		}
	}
	return nil
}

func limit(name string, v, max int) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s %d must be positive", ErrDimension, name, v)
	}
	if v > max {
		return fmt.Errorf("%w: %s %d exceeds maximum %d", ErrDimension, name, v, max)
	}
	return nil
}

// relu implements Rectified Linear Unit. NaN and -0 map to 0.
func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// ReLU applies relu in place.
func ReLU(data []float32) {
	for i, x := range data {
		data[i] = relu(x)
	}
}
