// Package queue implements PartitionQueue (spec.md §3-4.1): a two-list
// free/filled ring of preallocated buffers for one (topic, partition),
// used both as the sink for fetched messages and the source of produce
// payloads.
//
// Locking follows the discipline in spec.md §5: the queue's own mutex
// guards list membership and is never held while calling back into a
// RequestBundler. A queue notifies its bundler only after releasing its
// own lock, which keeps the two mutexes' acquisition order one-way
// (bundler may call back into a queue while holding its own lock; a
// queue never calls into a bundler while holding its own).
package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"kcore/internal/buffer"
)

// ErrClosed is returned by any blocking or buffer-yielding operation
// once the queue has been detached/cancelled (Consumer/Producer dropped).
var ErrClosed = errors.New("queue: closed")

// BundlerHandle is the callback surface a RequestBundler exposes to the
// queues it owns. Kept as an interface here (rather than importing the
// bundler package) to avoid a import cycle: bundler imports queue to
// hold *PartitionQueue references, so queue cannot import bundler back.
type BundlerHandle interface {
	// NotifyReady tells the bundler that q just became eligible for
	// its next batch (a buffer of the type the bundler watches for
	// became available, and q.request_pending is false).
	NotifyReady(q *PartitionQueue)
}

// PartitionQueue is the buffer ring for one (topic, partition).
type PartitionQueue struct {
	Topic     string
	Partition int32

	mu       sync.Mutex
	freeCV   *sync.Cond
	filledCV *sync.Cond

	free   *list.List // of *buffer.QueueBuffer
	filled *list.List // of *buffer.QueueBuffer
	last   *buffer.QueueBuffer

	nbufs int

	nextOffsetToFetch int64

	bundler        BundlerHandle
	requestPending bool

	err    error
	closed bool
}

// New builds a PartitionQueue seeded with every buffer in pool's free
// list, matching spec.md's invariant that the total buffer count is
// fixed for the lifetime of the queue.
func New(topic string, partition int32, pool *buffer.Pool, startOffset int64) *PartitionQueue {
	q := &PartitionQueue{
		Topic:             topic,
		Partition:         partition,
		free:              list.New(),
		filled:            list.New(),
		nbufs:             pool.Len(),
		nextOffsetToFetch: startOffset,
	}
	q.freeCV = sync.NewCond(&q.mu)
	q.filledCV = sync.NewCond(&q.mu)
	for _, b := range pool.All() {
		q.free.PushBack(b)
	}
	return q
}

// NBuffers returns the fixed total buffer count owned by this queue.
func (q *PartitionQueue) NBuffers() int { return q.nbufs }

// SetBundler and ClearBundler are called by a RequestBundler after it
// has released its own mutex; see the package doc for the locking order.
func (q *PartitionQueue) SetBundler(b BundlerHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bundler = b
}

func (q *PartitionQueue) ClearBundler() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bundler = nil
	q.requestPending = false
}

func (q *PartitionQueue) HasBundler() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bundler != nil
}

func (q *PartitionQueue) SetRequestPending(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requestPending = v
}

func (q *PartitionQueue) RequestPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requestPending
}

// NextOffsetToFetch and SetNextOffsetToFetch track the fetch cursor.
// SetNextOffsetToFetch does not enforce monotonicity itself — the
// caller is either the receiver (always advancing) or a metadata-driven
// seek resolving a -1/-2 sentinel, both of which are the only legal
// writers per spec.md §3.
func (q *PartitionQueue) NextOffsetToFetch() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextOffsetToFetch
}

func (q *PartitionQueue) SetNextOffsetToFetch(off int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextOffsetToFetch = off
}

// HasFree reports whether a free buffer is available without acquiring one.
func (q *PartitionQueue) HasFree() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.free.Len() > 0
}

// HasFilled reports whether a filled buffer is available without
// acquiring one.
func (q *PartitionQueue) HasFilled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filled.Len() > 0
}

// TryAcquireFree pops the front of the free list if non-empty. Used by
// the receiver, which has already confirmed availability via the
// bundler's ready-list bookkeeping.
func (q *PartitionQueue) TryAcquireFree() (*buffer.QueueBuffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.free.Front()
	if e == nil {
		return nil, false
	}
	q.free.Remove(e)
	return e.Value.(*buffer.QueueBuffer), true
}

// TryAcquireFilled pops the front of the filled list if non-empty. Used
// by the pusher when serializing a produce batch.
func (q *PartitionQueue) TryAcquireFilled() (*buffer.QueueBuffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.filled.Front()
	if e == nil {
		return nil, false
	}
	q.filled.Remove(e)
	return e.Value.(*buffer.QueueBuffer), true
}

// ReleaseFree returns buf to the free list — used by the produce-ack
// path per spec.md §9's resolved open question — and wakes any producer
// blocked in WaitFree. If the queue is attached to a bundler and no
// request is currently pending, the bundler is notified once the
// queue's own lock has been released.
func (q *PartitionQueue) ReleaseFree(buf *buffer.QueueBuffer) {
	q.mu.Lock()
	buf.Reset()
	q.free.PushBack(buf)
	q.freeCV.Signal()
	notify := q.bundler != nil && !q.requestPending
	b := q.bundler
	q.mu.Unlock()
	if notify {
		b.NotifyReady(q)
	}
}

// ReleaseFilled returns buf to the filled list — used by the receiver
// after fetching data, and by a Producer once it has written a payload
// — and wakes any consumer blocked in WaitFilled.
func (q *PartitionQueue) ReleaseFilled(buf *buffer.QueueBuffer) {
	q.mu.Lock()
	q.filled.PushBack(buf)
	q.filledCV.Signal()
	notify := q.bundler != nil && !q.requestPending
	b := q.bundler
	q.mu.Unlock()
	if notify {
		b.NotifyReady(q)
	}
}

// WaitFilled is the consumer-side blocking read described in spec.md
// §4.1: if a buffer is currently being read (last), it is returned to
// free first (and the bundler notified, since a free buffer just
// appeared); then the call blocks until a filled buffer is available.
func (q *PartitionQueue) WaitFilled(ctx context.Context) (*buffer.QueueBuffer, error) {
	q.mu.Lock()
	if q.last != nil {
		q.last.Reset()
		q.free.PushBack(q.last)
		q.freeCV.Signal()
		q.last = nil
	}
	notify := q.bundler != nil && !q.requestPending
	b := q.bundler
	q.mu.Unlock()
	if notify {
		b.NotifyReady(q)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.filled.Len() == 0 && q.err == nil && !q.closed {
		if !q.waitCancelable(ctx, q.filledCV) {
			return nil, ctx.Err()
		}
	}
	if e := q.filled.Front(); e != nil {
		q.filled.Remove(e)
		q.last = e.Value.(*buffer.QueueBuffer)
		return q.last, nil
	}
	if q.err != nil {
		return nil, q.err
	}
	return nil, ErrClosed
}

// TryWaitFilled is the non-blocking counterpart to WaitFilled, used by
// a Consumer's non-blocking read path: it performs the same "release
// last to free" step but returns immediately with ok=false instead of
// blocking when no filled buffer is available yet.
func (q *PartitionQueue) TryWaitFilled() (buf *buffer.QueueBuffer, ok bool, err error) {
	q.mu.Lock()
	if q.last != nil {
		q.last.Reset()
		q.free.PushBack(q.last)
		q.freeCV.Signal()
		q.last = nil
	}
	notify := q.bundler != nil && !q.requestPending
	b := q.bundler
	if e := q.filled.Front(); e != nil {
		q.filled.Remove(e)
		q.last = e.Value.(*buffer.QueueBuffer)
		buf = q.last
		ok = true
	} else if q.err != nil {
		err = q.err
	} else if q.closed {
		err = ErrClosed
	}
	q.mu.Unlock()
	if notify {
		b.NotifyReady(q)
	}
	return buf, ok, err
}

// WaitFree is the producer-side blocking write-acquire: block until a
// free buffer exists, then hand it to the caller to fill.
func (q *PartitionQueue) WaitFree(ctx context.Context) (*buffer.QueueBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.free.Len() == 0 && q.err == nil && !q.closed {
		if !q.waitCancelable(ctx, q.freeCV) {
			return nil, ctx.Err()
		}
	}
	if q.err != nil {
		return nil, q.err
	}
	if q.closed {
		return nil, ErrClosed
	}
	e := q.free.Front()
	q.free.Remove(e)
	return e.Value.(*buffer.QueueBuffer), nil
}

// waitCancelable waits on cv, but also returns early (false) if ctx is
// already done. sync.Cond has no native context support, so cancellation
// is implemented by having a companion goroutine broadcast when ctx is
// done; this mirrors the teacher's own preference for explicit done
// channels (internal/network/tcp's ctx.Done() selects) layered on top of
// the queue's condition variables.
func (q *PartitionQueue) waitCancelable(ctx context.Context, cv *sync.Cond) bool {
	if ctx.Done() == nil {
		cv.Wait()
		return true
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			cv.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
		close(done)
	}()
	cv.Wait()
	close(stop)
	<-done
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

// Fail injects a fatal error into the queue (spec.md §4.1
// throw_exception): the next blocking operation observes it. Already
// filled buffers remain readable until drained — Fail does not clear
// the filled list.
func (q *PartitionQueue) Fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
	q.filledCV.Broadcast()
	q.freeCV.Broadcast()
}

// Err returns the injected fatal error, if any.
func (q *PartitionQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close marks the queue as cancelled (Consumer/Producer dropped) and
// wakes any blocked waiter.
func (q *PartitionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.filledCV.Broadcast()
	q.freeCV.Broadcast()
}

// Closed reports whether Close was called.
func (q *PartitionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Counts returns (free, filled, hasLast) for invariant checking in
// tests: free+filled+(hasLast?1:0) must always equal NBuffers().
func (q *PartitionQueue) Counts() (free, filled int, hasLast bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.free.Len(), q.filled.Len(), q.last != nil
}
