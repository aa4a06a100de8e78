package pipeline

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sbl8/tilesim/model"
	"github.com/sbl8/tilesim/runtime"
	"github.com/sbl8/tilesim/stream"
)

// CompileOptions configures graph preparation.
type CompileOptions struct {
	ValidateGraph  bool // check configs, ids and stream readers
	OptimizeLayout bool // reorder nodes into execution order
	Verbose        bool
	Logger         *log.Logger
}

// DefaultOptions provides sensible compilation defaults
func DefaultOptions() CompileOptions {
	return CompileOptions{
		ValidateGraph:  true,
		OptimizeLayout: true,
	}
}

// Prepare validates and orders a parsed graph.
func Prepare(g *model.Graph, opts CompileOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.ValidateGraph {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("validation error: %w", err)
		}
		if opts.Verbose {
			logger.Printf("graph validation passed (%d tiles)", g.NodeCount())
		}
	}
	if opts.OptimizeLayout {
		if err := g.Optimize(); err != nil {
			return fmt.Errorf("ordering error: %w", err)
		}
		if opts.Verbose {
			for i, n := range g.Nodes {
				logger.Printf("step %d: %s", i, n)
			}
		}
	}
	return nil
}

// Compile parses a script, prepares it and writes the graph to out.
func Compile(src, out string, opts CompileOptions) error {
	g, err := ParseFile(src)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if err := Prepare(g, opts); err != nil {
		return err
	}
	if err := g.Save(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// RunOptions configures a pipeline run.
type RunOptions struct {
	Tile runtime.Options
	// InProcess carries streams produced inside the pipeline on bounded
	// in-memory queues. Streams nobody in the pipeline produces stay files.
	InProcess bool
}

// DefaultRunOptions uses file channels and the runtime defaults.
func DefaultRunOptions() RunOptions {
	return RunOptions{Tile: runtime.DefaultOptions()}
}

// Stats summarises a pipeline run.
type Stats struct {
	Tiles    []runtime.RunStats
	Warnings int
	Latency  time.Duration
}

// Run executes the graph's tiles one at a time in execution order. The
// graph is validated and ordered first; it is not modified.
func Run(g *model.Graph, opts RunOptions) (Stats, error) {
	var stats Stats
	start := time.Now()

	if err := g.Validate(); err != nil {
		return stats, err
	}
	order, err := g.Order()
	if err != nil {
		return stats, err
	}

	tileOpts := opts.Tile
	if opts.InProcess {
		tileOpts.Opener = hybridOpener(g, tileOpts.MaxStreamElements)
	}

	for _, node := range order {
		tile, err := runtime.New(node.Config, tileOpts)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", node, err)
		}
		ts, err := tile.Run()
		stats.Tiles = append(stats.Tiles, ts)
		stats.Warnings += ts.Warnings
		if err != nil {
			return stats, fmt.Errorf("%s: %w", node, err)
		}
	}
	stats.Latency = time.Since(start)
	return stats, nil
}

// hybridOpener sends streams both produced and consumed inside g to queues.
// Everything else, including outputs meant for readers outside the
// pipeline, stays on file channels.
func hybridOpener(g *model.Graph, max int) stream.Opener {
	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, s := range n.Outputs() {
			produced[s] = true
		}
		for _, s := range n.Inputs() {
			consumed[s] = true
		}
	}
	queues := stream.NewQueueSet(max)
	files := stream.FileOpener(max)
	return func(name string) stream.Channel {
		if produced[name] && consumed[name] {
			return queues.Get(name)
		}
		return files(name)
	}
}
