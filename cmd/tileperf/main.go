package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tebeka/atexit"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/kernels"
	"github.com/sbl8/tilesim/memory"
	"github.com/sbl8/tilesim/stream"
)

var (
	testType = flag.String("test", "all", "Test type: all, operators, memory, stream")
	size     = flag.Int("size", 32, "Feature map height and width")
	count    = flag.Int("count", 4096, "Elements per memory/stream transfer")
	iter     = flag.Int("iter", 10, "Number of iterations")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	fmt.Printf("Tile Simulator Performance Analysis Tool\n")
	fmt.Printf("========================================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Feature Map: %dx%d\n", *size, *size)
	fmt.Printf("Transfer Size: %d elements\n", *count)
	fmt.Printf("Iterations: %d\n", *iter)
	fmt.Printf("\n")

	dir, err := os.MkdirTemp("", "tileperf")
	if err != nil {
		atexit.Fatalf("tileperf: %v", err)
	}
	atexit.Register(func() { os.RemoveAll(dir) })

	switch *testType {
	case "all":
		runOperatorTests()
		runMemoryTests(dir)
		runStreamTests(dir)
	case "operators":
		runOperatorTests()
	case "memory":
		runMemoryTests(dir)
	case "stream":
		runStreamTests(dir)
	default:
		fmt.Printf("Unknown test type: %s\n", *testType)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func runOperatorTests() {
	fmt.Printf("Operator Performance\n")
	fmt.Printf("--------------------\n")

	hw := min(*size, kernels.MaxImageSize)
	tests := []struct {
		preset string
		dims   kernels.Dims
	}{
		{"conv8_16_5", kernels.Dims{Input: core.Shape{Channels: 8, Height: hw, Width: hw}, OutputChannels: 16}},
		{"convR8_32_5", kernels.Dims{Input: core.Shape{Channels: 16, Height: hw, Width: hw}, OutputChannels: 32}},
		{"maxp2_2", kernels.Dims{Input: core.Shape{Channels: 32, Height: hw, Width: hw}}},
		{"maxP2_2", kernels.Dims{Input: core.Shape{Channels: 16, Height: hw, Width: hw}}},
		{"fc128_64", kernels.Dims{Input: core.Vector(128), OutputChannels: 64}},
	}

	for _, test := range tests {
		op, err := kernels.Lookup(test.preset)
		if err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
		if err := op.Validate(test.dims); err != nil {
			fmt.Printf("%-12s: skipped (%v)\n", test.preset, err)
			continue
		}
		input := generateFloat32(test.dims.Input.Len())
		weights := generateFloat32(op.WeightCount(test.dims))
		bias := generateFloat32(op.BiasCount(test.dims))
		dst := make([]float32, op.OutputShape(test.dims).Len())

		start := time.Now()
		for i := 0; i < *iter; i++ {
			if err := op.Apply(dst, input, weights, bias, test.dims); err != nil {
				atexit.Fatalf("tileperf: %s: %v", test.preset, err)
			}
		}
		duration := time.Since(start)

		macs := float64(macCount(op, test.dims)) * float64(*iter)
		fmt.Printf("%-12s: %v (%.2f MMAC/s)\n", test.preset, duration, macs/duration.Seconds()/1e6)
		if *verbose {
			fmt.Printf("  %s -> %s\n", test.dims.Input, op.OutputShape(test.dims))
		}
	}
	fmt.Printf("\n")
}

// macCount returns the multiply-accumulates (or comparisons) of one Apply.
func macCount(op kernels.Operator, d kernels.Dims) int {
	if w := op.WeightCount(d); w > 0 {
		return op.OutputShape(d).Len() * w / op.BiasCount(d)
	}
	return d.Input.Len()
}

func runMemoryTests(dir string) {
	fmt.Printf("Hex Memory Image Performance\n")
	fmt.Printf("----------------------------\n")

	path := filepath.Join(dir, "memory.txt")
	if err := memory.Init(path, int64(*count)*core.ElementBytes); err != nil {
		atexit.Fatalf("tileperf: %v", err)
	}
	values := generateFloat32(*count)

	start := time.Now()
	for i := 0; i < *iter; i++ {
		if err := memory.WriteElements(path, 0, values); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
	}
	writeTime := time.Since(start)

	start = time.Now()
	for i := 0; i < *iter; i++ {
		if _, err := memory.ReadElements(path, 0, *count); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
	}
	readTime := time.Since(start)

	fmt.Printf("WriteElements:               %v (%.2f Melem/s)\n", writeTime, throughput(writeTime))
	fmt.Printf("ReadElements:                %v (%.2f Melem/s)\n", readTime, throughput(readTime))
	fmt.Printf("\n")
}

func runStreamTests(dir string) {
	fmt.Printf("Stream Channel Performance\n")
	fmt.Printf("--------------------------\n")

	path := filepath.Join(dir, "stream0")
	if err := stream.Init(path); err != nil {
		atexit.Fatalf("tileperf: %v", err)
	}
	values := generateFloat32(*count)
	queue := stream.NewQueue("perf", *count)

	var appendTime, drainTime, queueTime time.Duration
	for i := 0; i < *iter; i++ {
		start := time.Now()
		if err := stream.Append(path, 1, values, stream.DefaultMaxElements); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
		appendTime += time.Since(start)

		start = time.Now()
		if _, err := stream.Drain(path, stream.DefaultMaxElements); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
		drainTime += time.Since(start)

		start = time.Now()
		if err := queue.Append(1, values); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
		if _, err := queue.Drain(); err != nil {
			atexit.Fatalf("tileperf: %v", err)
		}
		queueTime += time.Since(start)
	}

	fmt.Printf("File Append:                 %v (%.2f Melem/s)\n", appendTime, throughput(appendTime))
	fmt.Printf("File Drain:                  %v (%.2f Melem/s)\n", drainTime, throughput(drainTime))
	fmt.Printf("Queue Append+Drain:          %v (%.2f Melem/s)\n", queueTime, throughput(queueTime))
	if *verbose {
		fmt.Printf("  File/queue ratio: %.2fx\n", float64(appendTime+drainTime)/float64(queueTime))
	}
	fmt.Printf("\n")
}

func throughput(d time.Duration) float64 {
	return float64(*count*(*iter)) / d.Seconds() / 1e6
}

func generateFloat32(size int) []float32 {
	data := make([]float32, size)
	for i := range data {
		data[i] = rand.Float32()*200 - 100 // Range: -100 to 100
	}
	return data
}
