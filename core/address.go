package core

import "fmt"

// TextOffset maps a byte address in the memory image to its offset in the
// backing text file.
func TextOffset(addr int64) int64 {
	return addr * LineWidth
}

// ElementOffset maps the index of a stream element to its text offset, past
// the header.
func ElementOffset(index int64) int64 {
	return HeaderWidth + index*TaggedWidth
}

// TextBytes returns the text length of n float32 values.
func TextBytes(n int) int {
	return n * ElementBytes * LineWidth
}

// ImageSize returns the text length of a memory image holding size bytes.
func ImageSize(size int64) int64 {
	return size * LineWidth
}

// CheckAddress rejects addresses that cannot be mapped into the image.
func CheckAddress(addr int64) error {
	if addr < 0 {
		return fmt.Errorf("negative address %d", addr)
	}
	return nil
}
