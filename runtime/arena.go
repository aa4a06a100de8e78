package runtime

import (
	"fmt"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
)

// ArenaRegion is a named element range of the arena.
type ArenaRegion struct {
	Offset int
	Size   int
	Name   string
}

// Arena holds every operand of one tile invocation in a single float32
// buffer. It is sized for the runtime dimensions and laid out as
//  1. Input (feature map or vector)
//  2. Weights (empty for pooling)
//  3. Bias (empty for pooling)
//  4. Output
//
// A Tile builds its arena once and every Run refills it, so regions that a
// run does not load are cleared before use.
type Arena struct {
	buffer  []float32
	regions map[string]ArenaRegion
	order   []string
}

// NewArena plans the regions for op at dims d.
func NewArena(op kernels.Operator, d kernels.Dims) (*Arena, error) {
	l, err := core.PlanLayout(0,
		core.RegionSpec{Name: kernels.RegionInput, Elements: d.Input.Len()},
		core.RegionSpec{Name: kernels.RegionWeights, Elements: op.WeightCount(d)},
		core.RegionSpec{Name: kernels.RegionBias, Elements: op.BiasCount(d)},
		core.RegionSpec{Name: kernels.RegionOutput, Elements: op.OutputShape(d).Len()},
	)
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}

	a := &Arena{
		buffer:  make([]float32, l.End()/core.ElementBytes),
		regions: make(map[string]ArenaRegion, len(l.Regions)),
	}
	for _, r := range l.Regions {
		a.regions[r.Name] = ArenaRegion{
			Offset: int(r.Offset / core.ElementBytes),
			Size:   int(r.Size / core.ElementBytes),
			Name:   r.Name,
		}
		a.order = append(a.order, r.Name)
	}
	return a, nil
}

// Region returns the specified ArenaRegion.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	r, ok := a.regions[name]
	return r, ok
}

// Regions lists the regions in layout order.
func (a *Arena) Regions() []ArenaRegion {
	out := make([]ArenaRegion, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.regions[name])
	}
	return out
}

// Slice returns the backing elements of a region, or nil.
func (a *Arena) Slice(name string) []float32 {
	r, ok := a.regions[name]
	if !ok {
		return nil
	}
	return a.buffer[r.Offset : r.Offset+r.Size : r.Offset+r.Size]
}

func (a *Arena) Input() []float32   { return a.Slice(kernels.RegionInput) }
func (a *Arena) Weights() []float32 { return a.Slice(kernels.RegionWeights) }
func (a *Arena) Bias() []float32    { return a.Slice(kernels.RegionBias) }
func (a *Arena) Output() []float32  { return a.Slice(kernels.RegionOutput) }

// Fill copies values into the named region. Values beyond the region are
// dropped and a short source leaves the tail zeroed. It returns the number
// of elements copied.
func (a *Arena) Fill(name string, values []float32) (int, error) {
	dst := a.Slice(name)
	if dst == nil {
		return 0, fmt.Errorf("region %s not found", name)
	}
	n := copy(dst, values)
	clear(dst[n:])
	return n, nil
}

// ZeroRegion sets every element of a region to zero.
func (a *Arena) ZeroRegion(name string) error {
	dst := a.Slice(name)
	if dst == nil {
		return fmt.Errorf("region %s not found", name)
	}
	clear(dst)
	return nil
}

// TotalSize returns the arena capacity in elements.
func (a *Arena) TotalSize() int {
	return len(a.buffer)
}
