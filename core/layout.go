package core

import "fmt"

// Region is a named byte range of the memory image.
type Region struct {
	Name   string
	Offset int64 // byte address
	Size   int64 // bytes
}

// End returns the first byte address past the region.
func (r Region) End() int64 {
	return r.Offset + r.Size
}

// Overlaps reports whether r and o share any byte.
func (r Region) Overlaps(o Region) bool {
	return r.Offset < o.End() && o.Offset < r.End()
}

// RegionSpec requests a region large enough for Elements float32 values.
type RegionSpec struct {
	Name     string
	Elements int
}

// Layout is an ordered set of non-overlapping regions packed from a base
// address.
type Layout struct {
	Base    int64
	Regions []Region
}

// PlanLayout packs the requested regions back to back starting at base. Each
// region is sized for its worst-case element count so that later pipeline
// stages can reuse the same offsets whatever the runtime shape.
func PlanLayout(base int64, specs ...RegionSpec) (Layout, error) {
	if err := CheckAddress(base); err != nil {
		return Layout{}, err
	}
	l := Layout{Base: base}
	offset := base
	for _, spec := range specs {
		if spec.Elements < 0 {
			return Layout{}, fmt.Errorf("region %s: negative element count %d", spec.Name, spec.Elements)
		}
		if _, ok := l.Region(spec.Name); ok {
			return Layout{}, fmt.Errorf("duplicate region %s", spec.Name)
		}
		size := int64(spec.Elements) * ElementBytes
		l.Regions = append(l.Regions, Region{Name: spec.Name, Offset: offset, Size: size})
		offset += size
	}
	return l, nil
}

// Region looks up a region by name.
func (l Layout) Region(name string) (Region, bool) {
	for _, r := range l.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Address returns the byte address of the named region, or -1.
func (l Layout) Address(name string) int64 {
	if r, ok := l.Region(name); ok {
		return r.Offset
	}
	return -1
}

// End returns the first byte address past the last region.
func (l Layout) End() int64 {
	if len(l.Regions) == 0 {
		return l.Base
	}
	return l.Regions[len(l.Regions)-1].End()
}
