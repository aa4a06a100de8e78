package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/tebeka/atexit"

	"github.com/sbl8/tilesim/kernels"
	tile "github.com/sbl8/tilesim/runtime"
	"github.com/sbl8/tilesim/stream"
)

const version = "1.0.0"

func main() {
	var (
		tileID    = flag.Int("tile", tile.DeriveTile, "Source tag for streamed outputs (default: trailing digit of the input stream)")
		relu      = flag.Bool("relu", false, "Force the fused ReLU on")
		noReLU    = flag.Bool("norelu", false, "Force the fused ReLU off")
		layout    = flag.Int64("layout", -1, "Take every address from the preset layout at this base address")
		strict    = flag.Bool("strict", false, "Fail on memory and stream I/O errors instead of warning")
		maxStream = flag.Int("max-stream", stream.DefaultMaxElements, "Stream channel capacity in elements")
		verbose   = flag.Bool("verbose", false, "Print every resolved argument")
		showVer   = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVer {
		fmt.Printf("tilerun - tile simulator v%s\n", version)
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
		atexit.Exit(1)
	}

	_, kind, err := tile.ResolvePreset(args[0])
	if err != nil {
		atexit.Fatalf("tilerun: %v", err)
	}
	if len(args)-1 < tile.MinArgs(kind) {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] %s %s\n", os.Args[0], args[0], tile.Usage(kind))
		flag.PrintDefaults()
		atexit.Exit(1)
	}

	cfg, err := tile.ParseArgs(args[0], args[1:])
	if err != nil {
		atexit.Fatalf("tilerun: %v", err)
	}
	cfg.Tile = *tileID
	switch {
	case *relu && *noReLU:
		atexit.Fatalf("tilerun: -relu and -norelu are mutually exclusive")
	case *relu || *noReLU:
		on := *relu
		cfg.ReLU = &on
	}
	if *layout >= 0 {
		op, err := cfg.Operator()
		if err != nil {
			atexit.Fatalf("tilerun: %v", err)
		}
		if err := cfg.ApplyLayout(op, *layout); err != nil {
			atexit.Fatalf("tilerun: %v", err)
		}
	}

	opts := tile.DefaultOptions()
	opts.Strict = *strict
	opts.Verbose = *verbose
	opts.MaxStreamElements = *maxStream

	t, err := tile.New(cfg, opts)
	if err != nil {
		atexit.Fatalf("tilerun: %v", err)
	}

	stats, err := t.Run()
	if *verbose {
		atexit.Register(func() {
			log.Printf("tile %d: %d in, %d out, %d destinations, %d warnings, %v",
				stats.Tile, stats.InputElements, stats.OutputElements, stats.Destinations, stats.Warnings, stats.Latency)
		})
	}
	if err != nil {
		log.Printf("tilerun: %v", err)
		atexit.Exit(2)
	}
	atexit.Exit(0)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <operator|preset> <args...>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Operators:\n")
	for _, k := range []kernels.Kind{kernels.KindConvolution, kernels.KindMaxPool, kernels.KindFullyConnected} {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", k, tile.Usage(k))
	}
	fmt.Fprintf(os.Stderr, "\nPresets:\n")
	for _, name := range kernels.PresetNames() {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", name, kernels.Catalog[name].Kind)
	}
	fmt.Fprintf(os.Stderr, "\nmode is 10*read + write, 0 = memory, 1 = stream\n\nOptions:\n")
	flag.PrintDefaults()
}
