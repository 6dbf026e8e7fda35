// Package buffer implements the fixed-size QueueBuffer described in
// spec.md §3-4: a byte slab allocated once and recycled forever, with a
// parse cursor and a remaining-bytes counter.
//
// The type is grounded on the teacher's disk-backed segment
// (tutorial/v2/mq/core/storage/segment.go, a fixed-capacity, cursor
// tracked byte area written to a file); here the same shape is used for
// a purely in-memory slab since these buffers are never persisted.
package buffer

import "errors"

// HeaderSize is the minimum number of bytes a Kafka v0 message record
// needs before its length can be read at all: the offset (8 bytes) and
// declared size (4 bytes) that prefix every record.
const HeaderSize = 12

// ErrExhausted is returned by Advance when the cursor would run past
// the buffer's filled region.
var ErrExhausted = errors.New("buffer: cursor advanced past filled region")

// QueueBuffer is one fixed-size byte array reused across the lifetime
// of a PartitionQueue. It is never reallocated after New.
type QueueBuffer struct {
	storage []byte
	cursor  int
	// messageSetSize is the number of unconsumed bytes remaining from
	// cursor onward. It starts equal to the number of bytes the
	// receiver wrote into storage and decreases as the consumer
	// advances the cursor.
	messageSetSize int
}

// New allocates a QueueBuffer with a storage slab of size maxBytes.
func New(maxBytes int) *QueueBuffer {
	return &QueueBuffer{storage: make([]byte, maxBytes)}
}

// Cap returns the buffer's fixed capacity.
func (b *QueueBuffer) Cap() int { return len(b.storage) }

// Reset rewinds the buffer to empty, ready to be filled again. Callers
// must hold whatever lock protects buffer state transitions (the owning
// PartitionQueue's mutex).
func (b *QueueBuffer) Reset() {
	b.cursor = 0
	b.messageSetSize = 0
}

// Fill exposes the backing slab for a network read of exactly n bytes,
// and marks n bytes as pending consumption starting at offset 0.
func (b *QueueBuffer) Fill(n int) []byte {
	if n > len(b.storage) {
		n = len(b.storage)
	}
	b.cursor = 0
	b.messageSetSize = n
	return b.storage[:n]
}

// Remaining is the number of unconsumed bytes still readable at Cursor.
func (b *QueueBuffer) Remaining() int { return b.messageSetSize }

// Exhausted reports whether fewer than HeaderSize bytes remain, meaning
// no further record can possibly be parsed from this buffer.
func (b *QueueBuffer) Exhausted() bool { return b.messageSetSize < HeaderSize }

// Bytes returns the unconsumed slice starting at the cursor.
func (b *QueueBuffer) Bytes() []byte {
	return b.storage[b.cursor : b.cursor+b.messageSetSize]
}

// Advance moves the cursor forward by n bytes, shrinking the remaining
// count. It is an error to advance past the filled region.
func (b *QueueBuffer) Advance(n int) error {
	if n > b.messageSetSize {
		return ErrExhausted
	}
	b.cursor += n
	b.messageSetSize -= n
	return nil
}

// Pool preallocates a fixed ring of QueueBuffers of a uniform size, the
// per-partition allocation spec.md §5 calls out ("no runtime growth").
type Pool struct {
	bufs []*QueueBuffer
}

// NewPool allocates count buffers of maxBytes each.
func NewPool(count, maxBytes int) *Pool {
	p := &Pool{bufs: make([]*QueueBuffer, count)}
	for i := range p.bufs {
		p.bufs[i] = New(maxBytes)
	}
	return p
}

// All returns every buffer owned by the pool, for seeding a
// PartitionQueue's free list at construction time.
func (p *Pool) All() []*QueueBuffer { return p.bufs }

// Len is the number of buffers in the pool.
func (p *Pool) Len() int { return len(p.bufs) }
