package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/tebeka/atexit"

	"github.com/sbl8/tilesim/model"
	"github.com/sbl8/tilesim/pipeline"
	"github.com/sbl8/tilesim/stream"
)

func main() {
	var (
		out       = flag.String("o", "", "Compile the script to this plan file instead of running it")
		plan      = flag.Bool("plan", false, "Input is a compiled plan, not a script")
		inProcess = flag.Bool("inprocess", false, "Carry streams produced inside the pipeline on in-memory queues")
		strict    = flag.Bool("strict", false, "Stop on the first memory or stream I/O error")
		maxStream = flag.Int("max-stream", stream.DefaultMaxElements, "Stream channel capacity in elements")
		verbose   = flag.Bool("verbose", false, "Enable verbose output")
		version   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("tilepipe - tile pipeline runner v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <script|plan>\n", os.Args[0])
		flag.PrintDefaults()
		atexit.Exit(1)
	}
	src := args[0]

	logger := log.New(os.Stderr, "tilepipe: ", log.LstdFlags)
	copts := pipeline.DefaultOptions()
	copts.Verbose = *verbose
	copts.Logger = logger

	if *out != "" {
		if err := pipeline.Compile(src, *out, copts); err != nil {
			atexit.Fatalf("compilation failed: %v", err)
		}
		fmt.Printf("Successfully compiled %s -> %s\n", src, *out)
		atexit.Exit(0)
	}

	var (
		g   *model.Graph
		err error
	)
	if *plan {
		g, err = model.Load(src)
	} else {
		g, err = pipeline.ParseFile(src)
	}
	if err != nil {
		atexit.Fatalf("failed to load pipeline: %v", err)
	}
	if err := pipeline.Prepare(g, copts); err != nil {
		atexit.Fatalf("%v", err)
	}

	ropts := pipeline.DefaultRunOptions()
	ropts.InProcess = *inProcess
	ropts.Tile.Strict = *strict
	ropts.Tile.Verbose = *verbose
	ropts.Tile.MaxStreamElements = *maxStream

	stats, err := pipeline.Run(g, ropts)
	if err != nil {
		logger.Printf("run failed after %d tiles: %v", len(stats.Tiles), err)
		atexit.Exit(2)
	}
	if *verbose {
		logger.Printf("ran %d tiles in %v with %d warnings", len(stats.Tiles), stats.Latency, stats.Warnings)
	}
	atexit.Exit(0)
}
