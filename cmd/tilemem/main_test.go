package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/tilesim/core"
	"github.com/sbl8/tilesim/memory"
	"github.com/sbl8/tilesim/stream"
)

func TestWriteReadDump(t *testing.T) {
	t.Parallel()
	image := filepath.Join(t.TempDir(), "memory.txt")
	require.NoError(t, initImage([]string{image, "32"}))

	require.NoError(t, write([]string{image, "4", "1", "-2.5"}, nil))
	require.NoError(t, write([]string{image, "12"}, strings.NewReader("0.5\n3\n")))

	var out bytes.Buffer
	require.NoError(t, read([]string{image, "4", "4"}, &out))
	require.Equal(t, "1\n-2.5\n0.5\n3\n", out.String())

	out.Reset()
	require.NoError(t, dump([]string{image, "0", "8"}, &out))
	require.Equal(t, "00000000  00 00 00 00 00 00 80 3F\n", out.String())
}

func TestLoadBinaryParameters(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	image := filepath.Join(dir, "memory.txt")
	require.NoError(t, initImage([]string{image, "64"}))

	// weights followed by biases in one file
	params := []float32{0.25, -1, 3.5, 1e-3, 7}
	raw := make([]byte, len(params)*core.ElementBytes)
	for i, v := range params {
		core.PutFloat32(raw[i*core.ElementBytes:], v)
	}
	bin := filepath.Join(dir, "params.bin")
	require.NoError(t, os.WriteFile(bin, raw, 0o644))

	require.NoError(t, load([]string{image, "0", bin}))
	got, err := memory.ReadElements(image, 0, 5)
	require.NoError(t, err)
	require.Equal(t, params, got)

	require.NoError(t, load([]string{image, "40", bin, "3", "2"}))
	got, err = memory.ReadElements(image, 40, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{1e-3, 7}, got)

	require.Error(t, load([]string{image, "0", bin, "4", "2"}))
	require.Error(t, load([]string{image, "0", bin, "1"}))
	require.NoError(t, os.WriteFile(bin, raw[:6], 0o644))
	require.Error(t, load([]string{image, "0", bin}))
	require.Error(t, load([]string{image, "0", filepath.Join(dir, "absent.bin")}))
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()
	require.Error(t, initImage([]string{"x"}))
	require.Error(t, initImage([]string{"x", "big"}))
	require.Error(t, write([]string{"x", "0", "nan?"}, nil))
	require.Error(t, read([]string{"x", "zero", "1"}, &bytes.Buffer{}))
	require.Error(t, layout([]string{"conv9_9_9"}, &bytes.Buffer{}))
}

func TestLayout(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	require.NoError(t, layout([]string{"conv8_16_5"}, &out))
	require.Contains(t, out.String(), "weights     2097152")
	require.Contains(t, out.String(), "output      2110016")
}

func TestStreamCommands(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, b := filepath.Join(dir, "s1"), filepath.Join(dir, "s2")
	require.NoError(t, streamInit([]string{a, b}))
	require.NoError(t, stream.Append(a, 4, []float32{1.5, 2}, stream.DefaultMaxElements))

	var out bytes.Buffer
	require.NoError(t, streamLen([]string{a, b}, &out))
	require.Equal(t, a+" 2\n"+b+" 0\n", out.String())

	out.Reset()
	require.NoError(t, drain([]string{a}, stream.DefaultMaxElements, &out))
	require.Equal(t, "4 1.5\n4 2\n", out.String())

	require.NoError(t, stream.Append(a, 1, []float32{1, 2, 3}, stream.DefaultMaxElements))
	require.ErrorIs(t, drain([]string{a}, 2, &bytes.Buffer{}), stream.ErrCapacity)
}
