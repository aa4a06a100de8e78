package model

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sbl8/tilesim/runtime"
)

// poolNode builds a 1x4x4 pooling tile; addresses are byte offsets.
func poolNode(t *testing.T, id uint16, in, out, mode, inAddr, outAddr string) Node {
	t.Helper()
	cfg, err := runtime.ParseArgs("maxp2_2", []string{"mem.txt", in, out, mode, inAddr, outAddr, "1", "4", "4", "2", "2"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	return Node{ID: id, Config: cfg}
}

func ids(nodes []Node) []uint16 {
	out := make([]uint16, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func equalIDs(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderFollowsStreams(t *testing.T) {
	g := &Graph{Nodes: []Node{
		poolNode(t, 3, "s2", "-", "10", "0", "1000"),
		poolNode(t, 2, "s1", "s2", "11", "0", "0"),
		poolNode(t, 1, "-", "s1", "1", "0", "0"),
	}}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if got, want := ids(order), []uint16{1, 2, 3}; !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderIsStable(t *testing.T) {
	g := &Graph{Nodes: []Node{
		poolNode(t, 5, "-", "-", "0", "0", "1000"),
		poolNode(t, 4, "-", "-", "0", "2000", "3000"),
		poolNode(t, 9, "-", "-", "0", "4000", "5000"),
	}}
	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if got, want := ids(order), []uint16{5, 4, 9}; !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestMemoryConflictKeepsDeclarationOrder(t *testing.T) {
	// node 1 writes bytes 64..79 which node 2 reads, so 1 must run first;
	// stream s7 runs from node 2 back to node 1 and closes a cycle
	writer := poolNode(t, 1, "s7", "-", "10", "0", "64")
	reader := poolNode(t, 2, "-", "s7", "1", "64", "0")

	g := &Graph{Nodes: []Node{writer, reader}}
	if _, err := g.Order(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Order = %v, want cycle error", err)
	}

	// without the stream the memory edge alone orders them
	reader = poolNode(t, 2, "-", "-", "0", "64", "200")
	g = &Graph{Nodes: []Node{writer, reader}}
	reads, writes, err := reader.Access()
	if err != nil {
		t.Fatal(err)
	}
	if len(reads) != 1 || len(writes) != 1 || reads[0].Offset != 64 || reads[0].Size != 64 {
		t.Errorf("unexpected access sets %v %v", reads, writes)
	}
	if err := g.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if got, want := ids(g.Nodes), []uint16{1, 2}; !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestProducersKeepDeclarationOrder(t *testing.T) {
	g := &Graph{Nodes: []Node{
		poolNode(t, 1, "-", "s4", "1", "0", "0"),
		poolNode(t, 2, "-", "s4", "1", "100", "0"),
		poolNode(t, 3, "s4", "-", "10", "0", "1000"),
	}}
	adj, err := g.edges()
	if err != nil {
		t.Fatal(err)
	}
	has := func(from, to int) bool {
		for _, j := range adj[from] {
			if j == to {
				return true
			}
		}
		return false
	}
	if !has(0, 1) || !has(0, 2) || !has(1, 2) {
		t.Errorf("missing edges: %v", adj)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Graph{}).Validate(); err == nil {
		t.Error("empty graph should not validate")
	}

	dup := &Graph{Nodes: []Node{
		poolNode(t, 1, "-", "-", "0", "0", "100"),
		poolNode(t, 1, "-", "-", "0", "200", "300"),
	}}
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Validate = %v, want duplicate error", err)
	}

	readers := &Graph{Nodes: []Node{
		poolNode(t, 1, "s1", "-", "10", "0", "100"),
		poolNode(t, 2, "s1", "-", "10", "0", "300"),
	}}
	if err := readers.Validate(); err == nil || !strings.Contains(err.Error(), "two readers") {
		t.Errorf("Validate = %v, want reader error", err)
	}

	bad := poolNode(t, 1, "-", "-", "0", "0", "100")
	bad.Config.Dims.Input.Channels = 64
	if err := (&Graph{Nodes: []Node{bad}}).Validate(); !runtime.IsConfigError(err) {
		t.Errorf("Validate = %v, want config error", err)
	}
}

func TestSaveLoad(t *testing.T) {
	on := true
	n := poolNode(t, 7, "s1", "s2", "11", "0", "0")
	n.Line = 12
	n.Config.ReLU = &on
	g := &Graph{Nodes: []Node{n}}

	path := filepath.Join(t.TempDir(), "plan.gob")
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d", loaded.NodeCount())
	}
	got := loaded.Nodes[0]
	if got.ID != 7 || got.Line != 12 || got.Config.Preset != "maxp2_2" || got.Config.ReLU == nil || !*got.Config.ReLU {
		t.Errorf("loaded node %+v", got)
	}
	if got.Config.OutputStreams[0] != "s2" || got.Config.Mode != n.Config.Mode {
		t.Errorf("loaded config %+v", got.Config)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing file")
	}
}
