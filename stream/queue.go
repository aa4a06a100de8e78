package stream

import "sync"

type element struct {
	tag   byte
	value float32
}

// Queue is an in-process bounded channel with the same drain and append
// semantics as a file channel. A whole Append or Drain happens under one lock,
// so concurrent producers interleave by batch, never by element.
type Queue struct {
	name string
	mu   sync.Mutex
	ch   chan element
}

// NewQueue creates a queue holding at most max elements. A non-positive max
// selects DefaultMaxElements.
func NewQueue(name string, max int) *Queue {
	if max <= 0 {
		max = DefaultMaxElements
	}
	return &Queue{name: name, ch: make(chan element, max)}
}

func (q *Queue) Name() string { return q.name }

// Append queues every value or none of them.
func (q *Queue) Append(tag byte, values []float32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if size := len(q.ch) + len(values); size > cap(q.ch) {
		return capacityError(q.name, int64(size), int64(cap(q.ch)))
	}
	for _, v := range values {
		q.ch <- element{tag: tag, value: v}
	}
	return nil
}

// Drain removes and returns every queued element.
func (q *Queue) Drain() (Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.ch)
	b := Batch{Tags: make([]byte, n), Values: make([]float32, n)}
	for i := 0; i < n; i++ {
		e := <-q.ch
		b.Tags[i] = e.tag
		b.Values[i] = e.value
	}
	return b, nil
}

func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch), nil
}

// QueueSet hands out one Queue per channel name.
type QueueSet struct {
	max    int
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewQueueSet creates an empty set whose queues hold max elements each.
func NewQueueSet(max int) *QueueSet {
	return &QueueSet{max: max, queues: make(map[string]*Queue)}
}

// Get returns the queue for name, creating it on first use.
func (s *QueueSet) Get(name string) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		q = NewQueue(name, s.max)
		s.queues[name] = q
	}
	return q
}

// Opener adapts the set to the Opener signature.
func (s *QueueSet) Opener() Opener {
	return func(name string) Channel {
		return s.Get(name)
	}
}
