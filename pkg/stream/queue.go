package stream

import "sync"

// DefaultQueueCapacity bounds how many messages a disconnected
// connection may buffer before the oldest is dropped.
const DefaultQueueCapacity = 100

// Queue is a bounded FIFO message buffer. At capacity, pushing evicts
// the oldest entry; evictions are counted, not surfaced as errors.
type Queue struct {
	mu       sync.Mutex
	capacity int
	entries  []Message
	dropped  uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &Queue{capacity: capacity}
}

// Push appends a message, evicting the oldest entry first when the
// queue is full. It reports whether an eviction happened.
func (q *Queue) Push(message Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false

	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.dropped++
		evicted = true
	}

	q.entries = append(q.entries, message)

	return evicted
}

// Drain removes and returns all queued messages in insertion order. A
// message pushed while the caller is delivering a drained batch lands in
// the now-empty queue and is picked up by the next drain.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil

	return entries
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Dropped returns how many messages have been evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}
