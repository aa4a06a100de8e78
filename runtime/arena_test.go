package runtime

import (
	"testing"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
)

func TestNewArena(t *testing.T) {
	t.Parallel()
	op, err := kernels.Lookup("conv8_16_5")
	if err != nil {
		t.Fatal(err)
	}
	d := kernels.Dims{Input: core.Shape{Channels: 2, Height: 8, Width: 8}, OutputChannels: 3}

	arena, err := NewArena(op, d)
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	want := map[string]int{
		kernels.RegionInput:   128,
		kernels.RegionWeights: 150,
		kernels.RegionBias:    3,
		kernels.RegionOutput:  48,
	}
	total := 0
	for name, size := range want {
		region, ok := arena.Region(name)
		if !ok {
			t.Errorf("Region %s not found", name)
			continue
		}
		if region.Size != size {
			t.Errorf("Region %s has %d elements, want %d", name, region.Size, size)
		}
		if got := len(arena.Slice(name)); got != size {
			t.Errorf("Slice %s has %d elements, want %d", name, got, size)
		}
		total += size
	}
	if arena.TotalSize() != total {
		t.Errorf("TotalSize = %d, want %d", arena.TotalSize(), total)
	}
}

func TestArenaMemoryLayout(t *testing.T) {
	t.Parallel()
	op, err := kernels.Lookup("fc128_64")
	if err != nil {
		t.Fatal(err)
	}
	arena, err := NewArena(op, kernels.Dims{Input: core.Vector(16), OutputChannels: 4})
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	regions := arena.Regions()
	for i := 0; i < len(regions)-1; i++ {
		if regions[i].Offset+regions[i].Size > regions[i+1].Offset {
			t.Errorf("Region %s overlaps with %s", regions[i].Name, regions[i+1].Name)
		}
	}

	// writes through one region never leak into the next
	w := arena.Weights()
	w = append(w, 99)
	if arena.Bias()[0] != 0 {
		t.Errorf("append to weights overwrote bias: %f (len %d)", arena.Bias()[0], len(w))
	}
}

func TestArenaPoolHasNoParameters(t *testing.T) {
	t.Parallel()
	op, err := kernels.Lookup("maxP2_2")
	if err != nil {
		t.Fatal(err)
	}
	arena, err := NewArena(op, kernels.Dims{Input: core.Shape{Channels: 1, Height: 4, Width: 4}})
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}
	if len(arena.Weights()) != 0 || len(arena.Bias()) != 0 {
		t.Error("pooling arena has parameter storage")
	}
	if len(arena.Output()) != 4 {
		t.Errorf("output has %d elements, want 4", len(arena.Output()))
	}
}

func TestArenaFillAndZero(t *testing.T) {
	t.Parallel()
	op, err := kernels.Lookup("fc128_64")
	if err != nil {
		t.Fatal(err)
	}
	arena, err := NewArena(op, kernels.Dims{Input: core.Vector(4), OutputChannels: 1})
	if err != nil {
		t.Fatal(err)
	}

	n, err := arena.Fill(kernels.RegionInput, []float32{1, 2, 3, 4, 5, 6})
	if err != nil || n != 4 {
		t.Fatalf("Fill = %d, %v; want 4", n, err)
	}
	n, err = arena.Fill(kernels.RegionInput, []float32{7})
	if err != nil || n != 1 {
		t.Fatalf("Fill = %d, %v; want 1", n, err)
	}
	for i, want := range []float32{7, 0, 0, 0} {
		if got := arena.Input()[i]; got != want {
			t.Errorf("Index %d: got %f, want %f", i, got, want)
		}
	}

	if err := arena.ZeroRegion(kernels.RegionInput); err != nil {
		t.Fatal(err)
	}
	if arena.Input()[0] != 0 {
		t.Error("ZeroRegion left data behind")
	}
	if err := arena.ZeroRegion("Scratch"); err == nil {
		t.Error("expected error for unknown region")
	}
	if _, err := arena.Fill("Scratch", nil); err == nil {
		t.Error("expected error for unknown region")
	}
}
