package core

import (
	"errors"
	"fmt"
)

// Shape describes a channel-major feature map. Fully-connected vectors use
// Height = Width = 1.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

// Vector returns the shape of a flat vector of n channels.
func Vector(n int) Shape {
	return Shape{Channels: n, Height: 1, Width: 1}
}

// Len returns the number of elements in the shape.
func (s Shape) Len() int {
	return s.Channels * s.Height * s.Width
}

// Index returns the flat offset of (c, row, col).
func (s Shape) Index(c, row, col int) int {
	return c*s.Height*s.Width + row*s.Width + col
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return errors.New("shape dimensions must be positive")
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}
