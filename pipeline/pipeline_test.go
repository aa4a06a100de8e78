package pipeline

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/tilesim/memory"
	"github.com/sbl8/tilesim/model"
	"github.com/sbl8/tilesim/runtime"
	"github.com/sbl8/tilesim/stream"
)

func TestParseScript(t *testing.T) {
	t.Parallel()
	src := `
# three independent pooling tiles
let mem m.txt

iterate i 0 2 {
    tile i maxp2_2 mem s{i} out{i} 11 0 0 1 4 4 2 2
}
tile 10 fc relu tag=42 mem in - 0 0 16 32 40 4 2
`
	g, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Equal(t, 4, g.NodeCount())

	for i := 0; i < 3; i++ {
		n := g.Nodes[i]
		require.Equal(t, uint16(i), n.ID)
		require.Equal(t, 6, n.Line)
		require.Equal(t, "m.txt", n.Config.MemoryPath)
		require.Equal(t, fmt.Sprintf("s%d", i), n.Config.InputStream)
		require.Equal(t, []string{fmt.Sprintf("out%d", i)}, n.Config.OutputStreams)
	}

	fc := g.Nodes[3]
	require.Equal(t, uint16(10), fc.ID)
	require.Equal(t, "fc128_64", fc.Config.Preset)
	require.Equal(t, 42, fc.Config.Tile)
	require.NotNil(t, fc.Config.ReLU)
	require.True(t, *fc.Config.ReLU)
	require.Equal(t, int64(40), fc.Config.OutputAddr)
}

func TestParseLayoutOption(t *testing.T) {
	t.Parallel()
	g, err := Parse([]byte("tile 1 conv8_16_5 layout=0 m.txt - - 0 9 9 9 9 1 8 8 1\n"))
	require.NoError(t, err)
	cfg := g.Nodes[0].Config
	require.Equal(t, int64(0), cfg.InputAddr)
	require.Equal(t, int64(2097152), cfg.WeightAddr)
	require.Equal(t, int64(2109952), cfg.BiasAddr)
	require.Equal(t, int64(2110016), cfg.OutputAddr)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown directive", "\nnode 1 2 3 4\n", "line 2: unknown directive"},
		{"bad id", "tile x conv\n", "invalid tile id"},
		{"short tile", "tile 1 conv m.txt\n", "invalid tile configuration"},
		{"unterminated", "iterate i 0 1 {\ntile i fc m - - 0 0 0 0 0 1 1\n", "unterminated"},
		{"missing brace", "iterate i 0 1\ntile i fc\n", "missing '{'"},
		{"bad let", "let x\n", "let needs"},
		{"bad tag", "tile 1 fc tag=300 m - - 0 0 0 0 0 1 1\n", "invalid tag"},
		{"bad bound", "iterate i 0 n {\n}\n", "invalid iterate bound"},
		{"nested", "iterate i 0 1 {\niterate j 0 1 {\n}\n", "line 2 (i=0): nested iterate"},
		{"block line", "iterate i 0 1 {\n\ntile i conv m.txt\n}\n", "line 3 (i=0)"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.src))
		require.Error(t, err, tt.name)
		require.Contains(t, err.Error(), tt.want, tt.name)
	}
}

func TestParseLetRedefinition(t *testing.T) {
	t.Parallel()
	src := `
let mem a.txt
let mem b.txt
let src mem
tile 1 maxp2_2 mem - out1 1 0 300 1 2 2 2 2
iterate i 0 0 {
    let mem c{i}.txt
    tile 2 maxp2_2 mem - out2 1 0 300 1 2 2 2 2
}
tile 3 maxp2_2 src - out3 1 0 300 1 2 2 2 2
`
	g, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Equal(t, 3, g.NodeCount())
	require.Equal(t, "b.txt", g.Nodes[0].Config.MemoryPath)
	require.Equal(t, "c0.txt", g.Nodes[1].Config.MemoryPath)
	require.Equal(t, 8, g.Nodes[1].Line)
	// src was bound to the value of mem at that point
	require.Equal(t, "b.txt", g.Nodes[2].Config.MemoryPath)
}

func TestExpandVariable(t *testing.T) {
	t.Parallel()
	require.Equal(t, "tile 3 fc s3 i3x", expandVariable("tile  i fc s{i}  i3x", "i", 3))
}

// writeConvPool writes a two-tile script: a convolution streaming into a
// pooling tile, declared in reverse order.
func writeConvPool(t *testing.T, dir string) (script, mem, link string) {
	t.Helper()
	mem = filepath.Join(dir, "memory.txt")
	require.NoError(t, memory.Init(mem, 512))
	input := make([]float32, 36)
	for i := range input {
		input[i] = float32(i)
	}
	weights := make([]float32, 25)
	weights[12] = 1
	require.NoError(t, memory.WriteElements(mem, 0, input))
	require.NoError(t, memory.WriteElements(mem, 144, weights))
	require.NoError(t, memory.WriteElements(mem, 244, []float32{0.5}))

	link = filepath.Join(dir, "link1")
	src := strings.Join([]string{
		"let mem " + mem,
		"let link " + link,
		"tile 2 maxp2_2 mem link - 10 0 300 1 2 2 2 2",
		"tile 1 conv8_16_5 tag=5 mem - link 1 0 144 244 0 1 6 6 1",
	}, "\n")
	script = filepath.Join(dir, "net.tp")
	require.NoError(t, os.WriteFile(script, []byte(src), 0o644))
	return script, mem, link
}

func quietRunOptions() RunOptions {
	opts := DefaultRunOptions()
	opts.Tile.Logger = log.New(&bytes.Buffer{}, "", 0)
	opts.Tile.Strict = true
	return opts
}

func TestRunFileChannels(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script, mem, link := writeConvPool(t, dir)
	require.NoError(t, stream.Init(link))

	g, err := ParseFile(script)
	require.NoError(t, err)
	stats, err := Run(g, quietRunOptions())
	require.NoError(t, err)
	require.Len(t, stats.Tiles, 2)
	require.Equal(t, byte(5), stats.Tiles[0].Tile)
	require.Zero(t, stats.Warnings)

	out, err := memory.ReadElements(mem, 300, 1)
	require.NoError(t, err)
	require.Equal(t, []float32{21.5}, out)

	n, err := stream.Len(link)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunInProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script, mem, link := writeConvPool(t, dir)

	g, err := ParseFile(script)
	require.NoError(t, err)
	opts := quietRunOptions()
	opts.InProcess = true
	_, err = Run(g, opts)
	require.NoError(t, err)

	out, err := memory.ReadElements(mem, 300, 1)
	require.NoError(t, err)
	require.Equal(t, []float32{21.5}, out)

	// the link never touched the disk
	_, err = os.Stat(link)
	require.True(t, os.IsNotExist(err))
}

func TestRunInProcessKeepsExternalOutputs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, mem, link := writeConvPool(t, dir)
	out := filepath.Join(dir, "out3")
	require.NoError(t, stream.Init(out))

	src := strings.Join([]string{
		"tile 2 maxp2_2 tag=7 " + mem + " " + link + " " + out + " 11 0 300 1 2 2 2 2",
		"tile 1 conv8_16_5 tag=5 " + mem + " - " + link + " 1 0 144 244 0 1 6 6 1",
	}, "\n")
	g, err := Parse([]byte(src))
	require.NoError(t, err)
	opts := quietRunOptions()
	opts.InProcess = true
	_, err = Run(g, opts)
	require.NoError(t, err)

	n, err := stream.Len(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	batch, err := stream.Drain(out, stream.DefaultMaxElements)
	require.NoError(t, err)
	require.Equal(t, []float32{21.5}, batch.Values)
	require.Equal(t, []byte{7}, batch.Tags)

	_, err = os.Stat(link)
	require.True(t, os.IsNotExist(err))
}

func TestRunStopsOnStrictFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script, _, _ := writeConvPool(t, dir)

	g, err := ParseFile(script)
	require.NoError(t, err)
	// the link file was never initialised
	stats, err := Run(g, quietRunOptions())
	require.ErrorIs(t, err, stream.ErrIO)
	require.Len(t, stats.Tiles, 1)
	require.Contains(t, err.Error(), "node 1")
}

func TestCompile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script, _, _ := writeConvPool(t, dir)
	plan := filepath.Join(dir, "net.plan")

	var logs bytes.Buffer
	opts := DefaultOptions()
	opts.Verbose = true
	opts.Logger = log.New(&logs, "", 0)
	require.NoError(t, Compile(script, plan, opts))
	require.Contains(t, logs.String(), "step 0: node 1")

	g, err := model.Load(plan)
	require.NoError(t, err)
	require.Equal(t, 2, g.NodeCount())
	require.Equal(t, uint16(1), g.Nodes[0].ID)
	require.Equal(t, uint16(2), g.Nodes[1].ID)
	require.Equal(t, runtime.Mode{Read: runtime.Memory, Write: runtime.Stream}, g.Nodes[0].Config.Mode)
}
