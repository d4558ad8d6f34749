package gateway

import "sync"

// Buffer is a fixed-capacity ring of inbound messages. Push overwrites the
// oldest entry once the buffer is full; Snapshot returns the most recent
// entries newest-first. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	buf      []InboundMessage
	capacity int
	pos      int // next write position
	full     bool
}

// NewBuffer creates a buffer with the given capacity. Capacity must be
// positive; values below one are clamped to one.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		buf:      make([]InboundMessage, capacity),
		capacity: capacity,
	}
}

// Push inserts a message, evicting the oldest entry when over capacity.
func (b *Buffer) Push(msg InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.pos] = msg
	b.pos = (b.pos + 1) % b.capacity
	if b.pos == 0 {
		b.full = true
	}
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return b.capacity
	}
	return b.pos
}

// Snapshot returns up to limit of the most recent messages, newest first.
// A limit of zero or less returns everything in the buffer.
func (b *Buffer) Snapshot(limit int) []InboundMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.pos
	if b.full {
		n = b.capacity
	}
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]InboundMessage, 0, n)
	// Walk backwards from the last written slot.
	for i := 1; i <= n; i++ {
		idx := (b.pos - i + b.capacity) % b.capacity
		result = append(result, b.buf[idx])
	}
	return result
}
