// Package producer implements the symmetric half of spec.md §4.5's
// Consumer/Producer façades: a user-facing handle that acquires a free
// buffer, drops a fully-formed message set into it, and releases it as
// filled for the pusher to pick up.
package producer

import (
	"context"
	"fmt"

	"kcore/internal/client"
	"kcore/internal/compress"
	"kcore/internal/config"
	"kcore/internal/kerrors"
	"kcore/pkg/message"
)

// Producer owns {topic, partition, queue} and the compression codec to
// apply before framing a record.
type Producer struct {
	cl          *client.Client
	worker      *client.Worker
	compression config.Compression
}

// New wraps an already-registered worker as a Producer façade. Callers
// go through kclient.Client.NewProducer rather than calling this
// directly.
func New(cl *client.Client, worker *client.Worker, compression config.Compression) *Producer {
	return &Producer{cl: cl, worker: worker, compression: compression}
}

func (p *Producer) Topic() string    { return p.worker.Topic }
func (p *Producer) Partition() int32 { return p.worker.Partition }
func (p *Producer) Err() error       { return p.worker.Queue.Err() }

// Close detaches the producer's queue and returns its buffers.
func (p *Producer) Close() {
	p.cl.UnregisterWorker(p.worker)
}

// WriteMessage blocks until a free buffer is available, then encodes
// one record (optionally compressed) into it and marks it filled. Each
// call fills exactly one buffer with exactly one outer record — for a
// compressed codec that record's value is itself a nested message set
// containing just this one inner record, matching the "compressed
// record must be the sole entry" invariant from the consume side.
func (p *Producer) WriteMessage(ctx context.Context, key, value []byte) error {
	body := value
	attr := byte(0)
	if p.compression != config.CompressionNone {
		inner := message.EncodeRecord(0, 0, key, value)
		compressed, err := compress.Encode(p.compression, inner)
		if err != nil {
			return kerrors.Protocol("compress", err)
		}
		body = compressed
		attr = compress.AttrCode(p.compression)
		key = nil
	}

	rec := message.EncodeRecord(0, attr, key, body)

	buf, err := p.worker.Queue.WaitFree(ctx)
	if err != nil {
		return err
	}
	if len(rec) > buf.Cap() {
		p.worker.Queue.ReleaseFree(buf)
		return kerrors.Protocol("write message", fmt.Errorf("record size %d exceeds buffer capacity %d", len(rec), buf.Cap()))
	}
	dst := buf.Fill(len(rec))
	copy(dst, rec)
	p.worker.Queue.ReleaseFilled(buf)
	return nil
}
