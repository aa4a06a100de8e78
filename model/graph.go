// Package model defines the dataflow graph of a multi-tile pipeline.
//
// Each Node is one tile invocation. Edges are implied by what the tiles touch:
//   - a stream edge runs from every producer of a channel to its single reader
//   - producers of the same channel keep their declaration order, since that
//     order fixes the FIFO contents
//   - tiles whose memory regions conflict (read/write or write/write) keep
//     their declaration order
//
// Graphs are built by the pipeline parser, validated, then ordered with a
// stable topological sort so that independent tiles run in the order they
// were written. A validated graph can be cached with SerializeGob.
package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
	"github.com/sbl8/tilesim/runtime"
)

// Node is one tile invocation in a pipeline.
type Node struct {
	ID     uint16
	Line   int // source line, 0 when built in code
	Config runtime.TileConfig
}

func (n Node) String() string {
	if n.Line > 0 {
		return fmt.Sprintf("node %d (%s, line %d)", n.ID, n.Config.Preset, n.Line)
	}
	return fmt.Sprintf("node %d (%s)", n.ID, n.Config.Preset)
}

// Inputs lists the streams the node drains.
func (n Node) Inputs() []string {
	if n.Config.Mode.Read == runtime.Stream {
		return []string{n.Config.InputStream}
	}
	return nil
}

// Outputs lists the streams the node appends to.
func (n Node) Outputs() []string {
	if n.Config.Mode.Write == runtime.Stream {
		return n.Config.OutputStreams
	}
	return nil
}

// Access returns the memory regions the node reads and writes.
func (n Node) Access() (reads, writes []core.Region, err error) {
	op, err := n.Config.Operator()
	if err != nil {
		return nil, nil, err
	}
	c := n.Config
	region := func(name string, addr int64, count int) core.Region {
		return core.Region{Name: name, Offset: addr, Size: int64(count) * core.ElementBytes}
	}
	if c.Mode.Read == runtime.Memory {
		reads = append(reads, region(kernels.RegionInput, c.InputAddr, c.Dims.Input.Len()))
	}
	if k := op.WeightCount(c.Dims); k > 0 {
		reads = append(reads, region(kernels.RegionWeights, c.WeightAddr, k))
	}
	if k := op.BiasCount(c.Dims); k > 0 {
		reads = append(reads, region(kernels.RegionBias, c.BiasAddr, k))
	}
	if c.Mode.Write == runtime.Memory {
		writes = append(writes, region(kernels.RegionOutput, c.OutputAddr, op.OutputShape(c.Dims).Len()))
	}
	return reads, writes, nil
}

// Graph is an ordered list of tile invocations.
type Graph struct {
	Nodes []Node
}

// NodeCount returns the number of nodes in the graph
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// Validate checks graph consistency: unique ids, valid tile configs and at
// most one reader per stream.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	ids := make(map[uint16]bool)
	readers := make(map[string]Node)
	for _, node := range g.Nodes {
		if ids[node.ID] {
			return fmt.Errorf("duplicate node ID: %d", node.ID)
		}
		ids[node.ID] = true

		op, err := node.Config.Operator()
		if err != nil {
			return fmt.Errorf("%s: %w", node, err)
		}
		if err := node.Config.Validate(op); err != nil {
			return fmt.Errorf("%s: %w", node, err)
		}

		for _, s := range node.Inputs() {
			if prev, ok := readers[s]; ok {
				return fmt.Errorf("stream %s has two readers: %s and %s", s, prev, node)
			}
			readers[s] = node
		}
	}
	return nil
}

// edges returns, for each node index, the indices that must run after it.
func (g *Graph) edges() ([][]int, error) {
	n := len(g.Nodes)
	adj := make([][]int, n)
	seen := make(map[[2]int]bool)
	add := func(from, to int) {
		if from == to || seen[[2]int{from, to}] {
			return
		}
		seen[[2]int{from, to}] = true
		adj[from] = append(adj[from], to)
	}

	reads := make([][]core.Region, n)
	writes := make([][]core.Region, n)
	for i, node := range g.Nodes {
		r, w, err := node.Access()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node, err)
		}
		reads[i], writes[i] = r, w
	}

	reader := make(map[string]int)
	for i, node := range g.Nodes {
		for _, s := range node.Inputs() {
			reader[s] = i
		}
	}
	producers := make(map[string][]int)
	for i, node := range g.Nodes {
		for _, s := range node.Outputs() {
			if r, ok := reader[s]; ok {
				add(i, r)
			}
			for _, p := range producers[s] {
				add(p, i)
			}
			producers[s] = append(producers[s], i)
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if overlapsAny(writes[i], reads[j]) || overlapsAny(reads[i], writes[j]) || overlapsAny(writes[i], writes[j]) {
				add(i, j)
			}
		}
	}
	return adj, nil
}

func overlapsAny(a, b []core.Region) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Overlaps(y) {
				return true
			}
		}
	}
	return false
}

// Order returns the nodes in execution order. Among ready nodes the one
// declared first always runs first. A dependency cycle is an error.
func (g *Graph) Order() ([]Node, error) {
	adj, err := g.edges()
	if err != nil {
		return nil, err
	}

	inDegree := make([]int, len(g.Nodes))
	for _, next := range adj {
		for _, j := range next {
			inDegree[j]++
		}
	}

	// Kahn's algorithm, always taking the lowest ready index
	done := make([]bool, len(g.Nodes))
	order := make([]Node, 0, len(g.Nodes))
	for len(order) < len(g.Nodes) {
		current := -1
		for i := range g.Nodes {
			if !done[i] && inDegree[i] == 0 {
				current = i
				break
			}
		}
		if current < 0 {
			var stuck []string
			for i, node := range g.Nodes {
				if !done[i] {
					stuck = append(stuck, node.String())
				}
			}
			return nil, fmt.Errorf("dependency cycle among %v", stuck)
		}
		done[current] = true
		order = append(order, g.Nodes[current])
		for _, j := range adj[current] {
			inDegree[j]--
		}
	}
	return order, nil
}

// Optimize reorders the nodes into execution order in place.
func (g *Graph) Optimize() error {
	order, err := g.Order()
	if err != nil {
		return err
	}
	g.Nodes = order
	return nil
}

// SerializeGob writes the Graph using gob encoding
func (g *Graph) SerializeGob() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g.Nodes); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeGob reads a Graph from gob-encoded data
func DeserializeGob(data []byte) (*Graph, error) {
	var nodes []Node
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&nodes); err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes}, nil
}

// Save writes the gob form of g to path.
func (g *Graph) Save(path string) error {
	data, err := g.SerializeGob()
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a graph written by Save.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	g, err := DeserializeGob(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return g, nil
}
