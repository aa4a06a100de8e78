package stream

import (
	"fmt"
	"io"
	"os"

	"github.com/sbl8/tilesim/core"
)

// FileChannel is a Channel backed by a hex text file.
type FileChannel struct {
	Path        string
	MaxElements int
}

// Open returns a file channel for path. A non-positive max selects
// DefaultMaxElements.
func Open(path string, max int) *FileChannel {
	if max <= 0 {
		max = DefaultMaxElements
	}
	return &FileChannel{Path: path, MaxElements: max}
}

// FileOpener returns an Opener producing file channels of the given capacity.
func FileOpener(max int) Opener {
	return func(name string) Channel {
		return Open(name, max)
	}
}

func (c *FileChannel) Name() string { return c.Path }

func (c *FileChannel) Drain() (Batch, error) { return Drain(c.Path, c.MaxElements) }

func (c *FileChannel) Append(tag byte, values []float32) error {
	return Append(c.Path, tag, values, c.MaxElements)
}

func (c *FileChannel) Len() (int, error) { return Len(c.Path) }

// Init creates (or truncates) an empty channel file at path.
func Init(path string) error {
	if err := os.WriteFile(path, core.EncodeHeader(0), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Len reads the element count header of the channel at path.
func Len(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	size, err := readHeader(f)
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

// Drain consumes the channel at path. If the header claims more than max
// elements the channel is left untouched and ErrCapacity is returned.
// Otherwise every element is read, the header is reset to zero and flushed.
func Drain(path string, max int) (Batch, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	size, err := readHeader(f)
	if err != nil {
		return Batch{}, err
	}
	if int64(size) > int64(max) {
		return Batch{}, capacityError(path, int64(size), int64(max))
	}

	buf := make([]byte, int64(size)*core.TaggedWidth)
	n, err := f.ReadAt(buf, core.ElementOffset(0))
	if err != nil && err != io.EOF {
		return Batch{}, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	tags, values, err := core.DecodeTagged(buf[:n], int(size))
	if err != nil {
		return Batch{}, fmt.Errorf("%s: %w", path, err)
	}

	if _, err := f.WriteAt(core.EncodeHeader(0), 0); err != nil {
		return Batch{}, fmt.Errorf("%w: reset %s: %w", ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		return Batch{}, fmt.Errorf("%w: sync %s: %w", ErrIO, path, err)
	}
	return Batch{Tags: tags, Values: values}, nil
}

// Append queues values on the channel at path, each tagged with tag. The new
// header is written first, then the elements at the offset implied by the old
// header. Growing past max elements is refused before anything is written.
func Append(path string, tag byte, values []float32, max int) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := appendTo(f, tag, values, max); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	return nil
}

func appendTo(f *os.File, tag byte, values []float32, max int) error {
	old, err := readHeader(f)
	if err != nil {
		return err
	}
	size := int64(old) + int64(len(values))
	if size > int64(max) {
		return capacityError(f.Name(), size, int64(max))
	}

	if _, err := f.WriteAt(core.EncodeHeader(uint32(size)), 0); err != nil {
		return fmt.Errorf("%w: write header %s: %w", ErrIO, f.Name(), err)
	}
	if _, err := f.WriteAt(core.EncodeTagged(tag, values), core.ElementOffset(int64(old))); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, f.Name(), err)
	}
	return nil
}

func readHeader(f *os.File) (uint32, error) {
	buf := make([]byte, core.HeaderWidth)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("%w: read header %s: %w", ErrIO, f.Name(), err)
	}
	size, err := core.ParseHeader(buf[:n])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return size, nil
}
