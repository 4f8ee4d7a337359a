package audio

import "sync"

// Buffer is the ring of samples shared by the scheduler goroutine, which
// writes, and the device callback, which reads. One lock guards both sides.
// Writes never wait: when the ring is full the oldest samples are overwritten.
type Buffer struct {
	mu      sync.Mutex
	data    []float32
	head, n int
	dropped uint64
	closed  bool
}

// NewBuffer creates a closed buffer holding up to capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]float32, capacity), closed: true}
}

// Open makes the buffer accept writes.
func (b *Buffer) Open() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Close drops buffered audio and rejects further writes.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.head, b.n = 0, 0
	b.mu.Unlock()
}

// Write appends samples and returns how many were accepted. If they do not
// fit, the oldest buffered samples are evicted to make room; a write larger
// than the whole ring keeps only its tail. Writes to a closed buffer are
// dropped.
func (b *Buffer) Write(samples []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	size := len(b.data)
	if len(samples) > size {
		b.dropped += uint64(b.n + len(samples) - size)
		samples = samples[len(samples)-size:]
		b.head, b.n = 0, 0
	}
	if over := b.n + len(samples) - size; over > 0 {
		b.head = (b.head + over) % size
		b.n -= over
		b.dropped += uint64(over)
	}
	tail := (b.head + b.n) % size
	for i, s := range samples {
		b.data[(tail+i)%size] = s
	}
	b.n += len(samples)
	return len(samples)
}

// Read fills out with buffered samples, padding the remainder with silence.
// It never blocks and returns how many real samples were copied.
func (b *Buffer) Read(out []float32) int {
	b.mu.Lock()
	count := min(len(out), b.n)
	for i := 0; i < count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	b.head = (b.head + count) % len(b.data)
	b.n -= count
	b.mu.Unlock()

	clear(out[count:])
	return count
}

// Clear drops buffered audio.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head, b.n = 0, 0
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Dropped returns how many samples were evicted by overflowing writes.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
