package pty

import "sync"

// ringBuffer is a memory-bounded FIFO of output bytes with a monotonic
// absolute offset, so an attaching subscriber can detect gaps between the
// snapshot it received and the first live event that follows it.
type ringBuffer struct {
	mu         sync.Mutex
	maxBytes   int64
	size       int64
	chunks     []ringChunk
	nextOffset int64
}

type ringChunk struct {
	offset int64
	data   []byte
}

const defaultRingMaxBytes = 1 << 20 // 1 MiB

func newRingBuffer(maxBytes int64) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultRingMaxBytes
	}
	return &ringBuffer{maxBytes: maxBytes}
}

// append records data and returns the absolute offset its first byte was
// written at. Oldest chunks are evicted once the buffer exceeds maxBytes.
func (b *ringBuffer) append(data []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	offset := b.nextOffset
	cp := make([]byte, len(data))
	copy(cp, data)
	b.chunks = append(b.chunks, ringChunk{offset: offset, data: cp})
	b.size += int64(len(cp))
	b.nextOffset += int64(len(cp))

	for b.size > b.maxBytes && len(b.chunks) > 0 {
		removed := b.chunks[0]
		b.size -= int64(len(removed.data))
		b.chunks = b.chunks[1:]
	}
	return offset
}

// snapshot returns every retained byte concatenated, along with the
// absolute offset of its first byte and the offset immediately after its
// last byte (== the offset the next append will use).
func (b *ringBuffer) snapshot() (data []byte, startOffset, endOffset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	endOffset = b.nextOffset
	if len(b.chunks) == 0 {
		return nil, endOffset, endOffset
	}
	startOffset = b.chunks[0].offset
	for _, c := range b.chunks {
		data = append(data, c.data...)
	}
	return data, startOffset, endOffset
}
