// Package memory implements the simulated device memory shared by all tiles.
//
// The memory image is a text file holding one byte per line as two uppercase
// hex digits, so byte address a lives at text offset 3a. Tiles read and write
// float32 tensors at agreed byte addresses; nothing in the image records
// shapes or region boundaries, which are the caller's responsibility.
//
// The store never creates the backing file. Images are created up front by
// Init (see cmd/tilemem) and then persist across tile invocations.
package memory

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sbl8/tilesim/core"
)

// ErrIO reports a backing file that could not be opened, read or written.
var ErrIO = errors.New("memory image I/O")

// Store is addressed float32 access to a memory image.
type Store interface {
	ReadElements(addr int64, count int) ([]float32, error)
	WriteElements(addr int64, values []float32) error
}

// HexFile is a Store backed by a hex text image on disk.
type HexFile struct {
	Path string
}

// Open returns a store for the image at path. The file is not touched until
// the first access.
func Open(path string) *HexFile {
	return &HexFile{Path: path}
}

// ReadElements reads count values starting at byte address addr.
func (h *HexFile) ReadElements(addr int64, count int) ([]float32, error) {
	return ReadElements(h.Path, addr, count)
}

// WriteElements overwrites values starting at byte address addr.
func (h *HexFile) WriteElements(addr int64, values []float32) error {
	return WriteElements(h.Path, addr, values)
}

// ReadElements reads count little-endian float32 values from the image at
// path, starting at byte address addr. Bytes past the end of the image read
// as zero.
func ReadElements(path string, addr int64, count int) ([]float32, error) {
	if err := core.CheckAddress(addr); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("negative element count %d", count)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, core.TextBytes(count))
	n, err := f.ReadAt(buf, core.TextOffset(addr))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	return core.DecodeFloat32s(buf[:n], count)
}

// WriteElements overwrites 4·len(values) bytes of the image at path starting
// at byte address addr. The file must already exist. Writing past the end of
// the image first fills the gap with zero bytes so every line stays valid.
func WriteElements(path string, addr int64, values []float32) error {
	if err := core.CheckAddress(addr); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := writeAt(f, core.TextOffset(addr), core.EncodeFloat32s(values)); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	return nil
}

func writeAt(f *os.File, off int64, text []byte) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size%core.LineWidth != 0 {
		return fmt.Errorf("%w: image length %d is not a whole number of lines", core.ErrMalformed, size)
	}
	if off > size {
		gap := bytes.Repeat([]byte("00\n"), int((off-size)/core.LineWidth))
		if _, err := f.WriteAt(gap, size); err != nil {
			return err
		}
	}
	_, err = f.WriteAt(text, off)
	return err
}

// Init creates (or truncates) a zero-filled image of size bytes at path.
func Init(path string, size int64) error {
	if size < 0 {
		return fmt.Errorf("negative image size %d", size)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	w := bufio.NewWriterSize(f, 64*1024)
	for i := int64(0); i < size; i++ {
		if _, err := w.WriteString("00\n"); err != nil {
			f.Close()
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return f.Close()
}

// Size returns the number of addressable bytes currently materialised in the
// image at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return info.Size() / core.LineWidth, nil
}

// ReadBytes returns count raw bytes starting at addr, zero past the end.
func ReadBytes(path string, addr int64, count int) ([]byte, error) {
	if err := core.CheckAddress(addr); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, count*core.LineWidth)
	n, err := f.ReadAt(buf, core.TextOffset(addr))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	raw := make([]byte, count)
	if _, err := core.DecodeBytes(buf[:n], raw); err != nil {
		return nil, err
	}
	return raw, nil
}
