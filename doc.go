// Package tilesim is a functional simulator for the tiles of a neural-network
// accelerator.
//
// Each tile emulates one fixed-function compute unit (2-D convolution, max
// pooling or a fully-connected layer). A tile reads its operands from a
// simulated device memory or drains them from an inter-tile stream, runs one
// fused kernel, and writes the result back to memory or multicasts it to one
// or more downstream streams tagged with its own id.
//
// # Architecture Overview
//
//   - Memory image: a flat byte space stored as one "XX\n" hex line per byte,
//     shared by every tile and persisted between invocations
//   - Stream channels: bounded FIFOs of source-tagged float32 elements with an
//     element-count header, drained in full by their single reader
//   - Operators: bit-exact float32 reference kernels with static limits and
//     named hardware presets
//   - Tile runner: one pass of resolve inputs, execute, resolve outputs
//
// # Basic Usage
//
//	// Create a memory image and two channels
//	tilemem init memory.txt 4194304
//	tilemem stream-init link1 link2
//
//	// Convolve from memory into two streams, tagged as tile 1
//	tilerun -tile 1 conv memory.txt - link1 link2 1 0 2097152 2109952 2110016 3 32 32 16
//
//	// Run a whole pipeline script
//	tilepipe -verbose net.tp
//
// # Package Structure
//
//   - core: hex codec, address arithmetic, shapes and memory layouts
//   - memory: the hex memory image store
//   - stream: file channels, in-process queues and multicast
//   - kernels: operators and presets
//   - runtime: the tile runner and its per-invocation arena
//   - model: pipeline dependency graph
//   - pipeline: script parser and serial runner
//   - cmd: command-line tools (tilerun, tilemem, tilepipe, tileperf)
package tilesim
