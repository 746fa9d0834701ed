package terminal

import "sync"

// Buffer is a thread-safe circular buffer for raw terminal output. When full,
// the oldest bytes are overwritten.
type Buffer struct {
	data  []byte
	head  int
	count int
	total int64
	mu    sync.RWMutex
}

// NewBuffer creates a buffer retaining the last size bytes.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{data: make([]byte, size)}
}

// Write appends p, dropping the oldest bytes on overflow.
func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	size := len(b.data)
	if len(p) >= size {
		copy(b.data, p[len(p)-size:])
		b.head, b.count = 0, size
		return len(p), nil
	}
	for _, c := range p {
		b.data[(b.head+b.count)%size] = c
		if b.count == size {
			b.head = (b.head + 1) % size
		} else {
			b.count++
		}
	}
	return len(p), nil
}

// ReadAll drains and returns the buffered bytes.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.snapshot()
	b.head, b.count = 0, 0
	return out
}

// Snapshot returns the buffered bytes without draining them.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot()
}

func (b *Buffer) snapshot() []byte {
	out := make([]byte, b.count)
	end := b.head + b.count
	if end <= len(b.data) {
		copy(out, b.data[b.head:end])
		return out
	}
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:end-len(b.data)])
	return out
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Total returns the number of bytes ever written.
func (b *Buffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
