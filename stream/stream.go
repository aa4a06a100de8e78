// Package stream implements the inter-tile streaming channels.
//
// A channel is a FIFO of source-tagged float32 elements. On disk it is a hex
// text file: an eight-digit element count header followed by one five-line
// record per element (source tag byte, then the four value bytes). Producers
// append by bumping the header and writing past the old tail; the single
// consumer drains everything at once and resets the header to zero, modelling
// a hardware FIFO that cannot be re-read.
//
// File channels do no locking. Callers must serialise every access to a given
// channel; the pipeline harness does this by running tiles in topological
// order. Queue provides the same protocol in process for harnesses that want
// real synchronisation instead of file races.
package stream

import (
	"errors"
	"fmt"
)

// DefaultMaxElements is the channel capacity used by the hardware model:
// one MiB of float32 payload.
const DefaultMaxElements = 1024 * 1024 / 4

var (
	// ErrIO reports a channel backing file that could not be accessed.
	ErrIO = errors.New("stream I/O")
	// ErrCapacity reports a channel whose element count exceeds its capacity.
	ErrCapacity = errors.New("stream capacity exceeded")
)

// Batch is the content of a drained channel, in arrival order.
type Batch struct {
	Tags   []byte
	Values []float32
}

// Len returns the number of elements in the batch.
func (b Batch) Len() int {
	return len(b.Values)
}

// Channel is one end-to-end interconnect link between tiles.
type Channel interface {
	// Name identifies the channel in logs and errors.
	Name() string
	// Drain consumes and returns every element currently queued.
	Drain() (Batch, error)
	// Append queues values, each tagged with the producing tile's id.
	Append(tag byte, values []float32) error
	// Len reports the queued element count without consuming it.
	Len() (int, error)
}

// Opener resolves a channel name (a file path for file channels) to a Channel.
type Opener func(name string) Channel

// Multicast appends values to every channel in order. Each destination keeps
// its own header and consumption state; a failure on one destination does not
// stop delivery to the others.
func Multicast(dests []Channel, tag byte, values []float32) error {
	var errs []error
	for _, ch := range dests {
		if err := ch.Append(tag, values); err != nil {
			errs = append(errs, fmt.Errorf("multicast to %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func capacityError(name string, size, max int64) error {
	return fmt.Errorf("%w: %s holds %d elements, capacity %d", ErrCapacity, name, size, max)
}
