package broker

import (
	"context"
	"testing"
	"time"

	"kcore/internal/bundler"
	"kcore/internal/buffer"
	"kcore/internal/queue"
	"kcore/internal/wire"
)

// TestHandleProduceAcksDoesNotStrandQueueOnFreeBufferRelease guards
// against the produce path deadlocking after the first acked message: a
// free buffer reappearing on a produce queue must never wake the
// produce bundler, which only ever watches for filled buffers. If it
// did, the queue would be marked request_pending with nothing in
// flight and never get woken again once its two preallocated buffers
// fill up.
func TestHandleProduceAcksDoesNotStrandQueueOnFreeBufferRelease(t *testing.T) {
	pool := buffer.NewPool(2, 64)
	q := queue.New("t", 0, pool, 0)
	pb := bundler.New(bundler.KindProduce)
	pb.AddQueue(q) // not ready yet: no filled buffer

	buf, ok := q.TryAcquireFree()
	if !ok {
		t.Fatal("TryAcquireFree() = false, want true")
	}
	buf.Fill(4)
	q.ReleaseFilled(buf) // mirrors WriteMessage, makes the queue ready
	if pb.ReadyCount() != 1 {
		t.Fatalf("ReadyCount() = %d, want 1", pb.ReadyCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := pb.NextBatch(ctx, 1, time.Second) // mirrors pusherLoop
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("NextBatch() len = %d, want 1", len(batch))
	}
	filled, ok := batch[0].TryAcquireFilled()
	if !ok {
		t.Fatal("TryAcquireFilled() = false, want true")
	}

	c := &Connection{ProducerBundler: pb}
	entry := inflightEntry{
		kind:        KindProduce,
		produceBufs: []produceBufRef{{topic: "t", partition: 0, queue: q, buf: filled}},
	}
	resp := &wire.ProduceResponse{Topics: []wire.ProduceTopicResponse{{
		Topic:      "t",
		Partitions: []wire.ProducePartitionResponse{{Partition: 0, ErrorCode: wire.ErrNone}},
	}}}

	c.handleProduceAcks(entry, resp)

	if pb.ReadyCount() != 0 {
		t.Fatalf("ReadyCount() after ack = %d, want 0 (a free buffer must not wake the produce bundler)", pb.ReadyCount())
	}
	if q.RequestPending() {
		t.Fatal("queue.RequestPending() = true after ack, want false")
	}
	if !q.HasFree() {
		t.Fatal("acked buffer was not returned to the free list")
	}

	// The queue must still be able to complete a full second round trip:
	// fill the freed buffer again and confirm the bundler wakes for it.
	buf2, ok := q.TryAcquireFree()
	if !ok {
		t.Fatal("TryAcquireFree() (second round) = false, want true")
	}
	buf2.Fill(4)
	q.ReleaseFilled(buf2)
	if pb.ReadyCount() != 1 {
		t.Fatalf("ReadyCount() after second fill = %d, want 1 (bundler must still be reachable)", pb.ReadyCount())
	}
}
