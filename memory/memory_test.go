package memory

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.txt")
	require.NoError(t, Init(path, size))
	return path
}

func TestInitWritesZeroLines(t *testing.T) {
	t.Parallel()
	path := newImage(t, 4)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "00\n00\n00\n00\n", string(data))

	size, err := Size(path)
	require.NoError(t, err)
	require.EqualValues(t, 4, size)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	path := newImage(t, 256)

	values := []float32{
		0,
		float32(math.Copysign(0, -1)),
		-3.75,
		1e30,
		-1e-30,
		math.SmallestNonzeroFloat32,
		1.1754942e-38, // largest subnormal
		math.MaxFloat32,
	}
	for _, addr := range []int64{0, 4, 40, 100} {
		require.NoError(t, WriteElements(path, addr, values))
		got, err := ReadElements(path, addr, len(values))
		require.NoError(t, err)
		require.Len(t, got, len(values))
		for i := range values {
			require.Equal(t, math.Float32bits(values[i]), math.Float32bits(got[i]),
				"addr %d index %d", addr, i)
		}
	}
}

func TestWriteUsesTextOffset(t *testing.T) {
	t.Parallel()
	path := newImage(t, 8)

	require.NoError(t, WriteElements(path, 4, []float32{1.0}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Equal(t, []string{"00", "00", "00", "00", "00", "00", "80", "3F"}, lines)
}

func TestWriteNeverCreates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "absent.txt")

	err := WriteElements(path, 0, []float32{1})
	require.ErrorIs(t, err, ErrIO)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "store must not create the image")
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := ReadElements(filepath.Join(t.TempDir(), "absent.txt"), 0, 1)
	require.ErrorIs(t, err, ErrIO)
}

func TestReadPastEndIsZero(t *testing.T) {
	t.Parallel()
	path := newImage(t, 4)
	require.NoError(t, WriteElements(path, 0, []float32{2.5}))

	got, err := ReadElements(path, 0, 3)
	require.NoError(t, err)
	require.Equal(t, []float32{2.5, 0, 0}, got)

	got, err = ReadElements(path, 1000, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, got)
}

func TestWritePastEndFillsGap(t *testing.T) {
	t.Parallel()
	path := newImage(t, 4)

	require.NoError(t, WriteElements(path, 12, []float32{-1}))

	size, err := Size(path)
	require.NoError(t, err)
	require.EqualValues(t, 16, size)

	got, err := ReadElements(path, 0, 4)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0, 0, -1}, got)
}

func TestHexFileStore(t *testing.T) {
	t.Parallel()
	var store Store = Open(newImage(t, 32))

	require.NoError(t, store.WriteElements(8, []float32{1, 2, 3}))
	got, err := store.ReadElements(8, 3)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, got)
}

func TestReadBytes(t *testing.T) {
	t.Parallel()
	path := newImage(t, 8)
	require.NoError(t, WriteElements(path, 0, []float32{1.0}))

	raw, err := ReadBytes(path, 0, 6)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00}, raw)
}

func TestNegativeArguments(t *testing.T) {
	t.Parallel()
	path := newImage(t, 4)

	_, err := ReadElements(path, -4, 1)
	require.Error(t, err)
	require.Error(t, WriteElements(path, -4, []float32{1}))
	_, err = ReadElements(path, 0, -1)
	require.Error(t, err)
	require.Error(t, Init(path, -1))
}
