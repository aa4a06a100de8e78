// Package core provides the primitives shared by every simulated tile.
//
// The simulated device memory and the inter-tile streams are both plain text
// files in which every byte is stored on its own line as two uppercase hex
// digits followed by a newline. This package owns that encoding and the
// address arithmetic that goes with it, so the memory store and the stream
// channels agree on it byte for byte.
//
// Key components:
//   - Hex line codec for raw bytes, little-endian float32 values and
//     source-tagged stream elements
//   - Stream header codec (eight hex digits plus newline)
//   - Address helpers mapping byte addresses and element indices to text offsets
//   - Shape and Layout descriptions for tensors placed in memory
//
// Every numeric value is a 4-byte IEEE-754 binary32 stored little-endian, and
// every addressable byte occupies exactly LineWidth text bytes.
package core

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

// Encoding geometry
const (
	LineWidth    = 3 // "XX\n"
	HeaderWidth  = 9 // "XXXXXXXX\n"
	ElementBytes = 4 // binary32
	TaggedBytes  = 1 + ElementBytes
	TaggedWidth  = TaggedBytes * LineWidth
)

const upperHex = "0123456789ABCDEF"

// ErrMalformed reports text that is not in the one-byte-per-line hex format.
var ErrMalformed = errors.New("malformed hex text")

// AppendByteLine appends b to dst as a "%02X\n" line.
func AppendByteLine(dst []byte, b byte) []byte {
	return append(dst, upperHex[b>>4], upperHex[b&0x0F], '\n')
}

// EncodeBytes renders raw bytes as hex lines.
func EncodeBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)*LineWidth)
	for _, b := range data {
		out = AppendByteLine(out, b)
	}
	return out
}

// DecodeBytes parses complete lines of text into dst and returns how many
// bytes were decoded. A trailing partial line is ignored.
func DecodeBytes(text []byte, dst []byte) (int, error) {
	n := len(text) / LineWidth
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		line := text[i*LineWidth : (i+1)*LineWidth]
		if line[2] != '\n' {
			return i, fmt.Errorf("%w: line %d not newline terminated", ErrMalformed, i)
		}
		if _, err := hex.Decode(dst[i:i+1], line[:2]); err != nil {
			return i, fmt.Errorf("%w: line %d: %v", ErrMalformed, i, err)
		}
	}
	return n, nil
}

// PutFloat32 stores v into b in the native little-endian binary32 layout.
func PutFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// Float32 reads a little-endian binary32 value from b.
func Float32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// EncodeFloat32s renders values as 4 hex lines each.
func EncodeFloat32s(values []float32) []byte {
	out := make([]byte, 0, len(values)*ElementBytes*LineWidth)
	var raw [ElementBytes]byte
	for _, v := range values {
		PutFloat32(raw[:], v)
		for _, b := range raw {
			out = AppendByteLine(out, b)
		}
	}
	return out
}

// DecodeFloat32s parses count values from text. Bytes missing from the end of
// text decode as zero, matching a zero-initialised memory image.
func DecodeFloat32s(text []byte, count int) ([]float32, error) {
	raw := make([]byte, count*ElementBytes)
	if _, err := DecodeBytes(text, raw); err != nil {
		return nil, err
	}
	values := make([]float32, count)
	for i := range values {
		values[i] = Float32(raw[i*ElementBytes:])
	}
	return values, nil
}

// EncodeHeader renders a stream element count as "%08X\n".
func EncodeHeader(count uint32) []byte {
	return []byte(fmt.Sprintf("%08X\n", count))
}

// ParseHeader parses a stream element count. An empty header is a fresh,
// never-written stream and reads as zero.
func ParseHeader(text []byte) (uint32, error) {
	if len(text) == 0 {
		return 0, nil
	}
	if len(text) < HeaderWidth || text[HeaderWidth-1] != '\n' {
		return 0, fmt.Errorf("%w: stream header %q", ErrMalformed, text)
	}
	var raw [4]byte
	if _, err := hex.Decode(raw[:], text[:HeaderWidth-1]); err != nil {
		return 0, fmt.Errorf("%w: stream header: %v", ErrMalformed, err)
	}
	return binary.BigEndian.Uint32(raw[:]), nil
}

// EncodeTagged renders values as stream elements, each prefixed with tag.
func EncodeTagged(tag byte, values []float32) []byte {
	out := make([]byte, 0, len(values)*TaggedWidth)
	var raw [ElementBytes]byte
	for _, v := range values {
		out = AppendByteLine(out, tag)
		PutFloat32(raw[:], v)
		for _, b := range raw {
			out = AppendByteLine(out, b)
		}
	}
	return out
}

// DecodeTagged parses count stream elements from text. Elements missing from
// the end of text decode as tag 0, value 0.
func DecodeTagged(text []byte, count int) ([]byte, []float32, error) {
	raw := make([]byte, count*TaggedBytes)
	if _, err := DecodeBytes(text, raw); err != nil {
		return nil, nil, err
	}
	tags := make([]byte, count)
	values := make([]float32, count)
	for i := 0; i < count; i++ {
		rec := raw[i*TaggedBytes:]
		tags[i] = rec[0]
		values[i] = Float32(rec[1:])
	}
	return tags, values, nil
}
