package broker

import (
	"container/list"
	"sync"

	"kcore/internal/buffer"
	"kcore/internal/queue"
	"kcore/internal/wire"
)

// Kind identifies which decode path a pending response needs once the
// receiver pops its in-flight entry.
type Kind int

const (
	KindMetadata Kind = iota
	KindOffset
	KindFetch
	KindProduce
)

type rpcReply struct {
	metadata *wire.MetadataResponse
	offset   *wire.OffsetResponse
	err      error
}

// produceBufRef ties one partition's already-sent message set back to
// the buffer it came from, so a produce ack can return that buffer to
// its queue's free list (spec.md §9's resolved open question: acked
// buffers must be returned to free, not leaked).
type produceBufRef struct {
	topic     string
	partition int32
	queue     *queue.PartitionQueue
	buf       *buffer.QueueBuffer
}

// inflightEntry is one outstanding request, in the order it was
// written to the wire. The receiver never inspects a decoded
// correlation id to route a response — spec.md §5 requires dispatch by
// strict FIFO order alone, since real broker responses don't echo the
// request's api key.
type inflightEntry struct {
	kind        Kind
	replyTo     chan rpcReply
	produceBufs []produceBufRef
}

// inflightLog is the FIFO of outstanding requests for one connection.
type inflightLog struct {
	mu      sync.Mutex
	entries *list.List
}

func newInflightLog() *inflightLog {
	return &inflightLog{entries: list.New()}
}

func (l *inflightLog) push(e inflightEntry) {
	l.mu.Lock()
	l.entries.PushBack(e)
	l.mu.Unlock()
}

func (l *inflightLog) pop() (inflightEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	front := l.entries.Front()
	if front == nil {
		return inflightEntry{}, false
	}
	l.entries.Remove(front)
	return front.Value.(inflightEntry), true
}

func (l *inflightLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}
