package recording

import "sync"

// DefaultPartSize is the flush threshold of a ChunkBuffer.
const DefaultPartSize = 10 * 1024 * 1024

// Part is one numbered unit handed off for upload.
type Part struct {
	Number int32
	Data   []byte
}

// ChunkBuffer coalesces captured fragments into parts. Every time the buffered
// size reaches the threshold it cuts exactly one threshold-sized part, so
// fewer than threshold bytes remain buffered after each append. Flush hands
// off whatever is left. Part numbers start at 1 and increase by one per part.
type ChunkBuffer struct {
	threshold int
	sink      func(Part)

	// sinkMu keeps parts reaching the sink in number order.
	sinkMu   sync.Mutex
	mu       sync.Mutex
	pending  []byte
	next     int32
	captured int64
	frozen   bool
}

// NewChunkBuffer returns a buffer handing parts to sink.
func NewChunkBuffer(threshold int, sink func(Part)) *ChunkBuffer {
	if threshold <= 0 {
		threshold = DefaultPartSize
	}
	return &ChunkBuffer{threshold: threshold, sink: sink, next: 1}
}

// Append adds a fragment and cuts any full parts.
func (b *ChunkBuffer) Append(fragment []byte) error {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()

	b.mu.Lock()
	if b.frozen {
		b.mu.Unlock()
		return ErrBufferFrozen
	}
	b.pending = append(b.pending, fragment...)
	b.captured += int64(len(fragment))
	var parts []Part
	for len(b.pending) >= b.threshold {
		parts = append(parts, b.cutLocked(b.threshold))
	}
	b.mu.Unlock()

	for _, p := range parts {
		b.sink(p)
	}
	return nil
}

// Flush hands off all buffered bytes as one part. It reports false, consuming
// no part number, when the buffer is empty. Flush works on a frozen buffer.
func (b *ChunkBuffer) Flush() bool {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	p := b.cutLocked(len(b.pending))
	b.mu.Unlock()

	b.sink(p)
	return true
}

func (b *ChunkBuffer) cutLocked(n int) Part {
	data := make([]byte, n)
	copy(data, b.pending[:n])
	rest := len(b.pending) - n
	if rest == 0 {
		b.pending = nil
	} else {
		b.pending = append(make([]byte, 0, rest), b.pending[n:]...)
	}
	p := Part{Number: b.next, Data: data}
	b.next++
	return p
}

// Freeze rejects further appends.
func (b *ChunkBuffer) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

// Captured is the total of all appended bytes.
func (b *ChunkBuffer) Captured() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captured
}

// Buffered is the number of bytes not yet cut into a part.
func (b *ChunkBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// NextPartNumber is the number the next part will get.
func (b *ChunkBuffer) NextPartNumber() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}
