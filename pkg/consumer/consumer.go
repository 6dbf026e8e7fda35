// Package consumer implements the Consumer façade from spec.md §4.5:
// a user-facing handle over one (topic, partition) that owns a
// PartitionQueue and translates filled buffers into Message values.
package consumer

import (
	"context"
	"errors"

	"kcore/internal/buffer"
	"kcore/internal/client"
	"kcore/internal/compress"
	"kcore/internal/config"
	"kcore/internal/kerrors"
	"kcore/pkg/message"
)

// ErrNoMessage is returned by TryNextMessage when the current buffer is
// exhausted and no filled buffer is available without blocking. This
// is the module's resolution of spec.md §9's open question: rather than
// a zero-valued Message that could be mistaken for a real empty
// message, exhaustion is a distinct, explicit sentinel.
var ErrNoMessage = errors.New("consumer: no message available without blocking")

// errNeedBuffer is an internal signal that the current parse source is
// exhausted and the caller must supply the next filled buffer, blocking
// or not depending on which exported method is driving parseOne.
var errNeedBuffer = errors.New("consumer: buffer exhausted")

// Consumer owns {topic, partition, queue, current buffer} per spec.md
// §4.5's Consumer/Producer façades.
type Consumer struct {
	cl     *client.Client
	worker *client.Worker

	buf   *buffer.QueueBuffer
	inner []byte // decompressed inner message set awaiting per-record parse
}

// New wraps an already-registered worker as a Consumer façade. Callers
// go through kclient.Client.NewConsumer rather than calling this
// directly.
func New(cl *client.Client, worker *client.Worker) *Consumer {
	return &Consumer{cl: cl, worker: worker}
}

func (c *Consumer) Topic() string    { return c.worker.Topic }
func (c *Consumer) Partition() int32 { return c.worker.Partition }
func (c *Consumer) Err() error       { return c.worker.Queue.Err() }

// Close detaches the consumer's queue and returns its buffers.
func (c *Consumer) Close() {
	c.cl.UnregisterWorker(c.worker)
}

// NextMessage blocks until a message is available, the queue's
// injected error fires, or ctx is done. Order preservation (spec.md
// §8: "offsets emitted by next_message() are strictly increasing") is
// guaranteed by the underlying record stream, not re-checked here.
func (c *Consumer) NextMessage(ctx context.Context) (message.Message, error) {
	for {
		msg, err := c.parseOne()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, errNeedBuffer) {
			return message.Message{}, err
		}
		if qerr := c.worker.Queue.Err(); qerr != nil {
			return message.Message{}, qerr
		}
		buf, werr := c.worker.Queue.WaitFilled(ctx)
		if werr != nil {
			return message.Message{}, werr
		}
		c.buf = buf
	}
}

// TryNextMessage is the non-blocking counterpart: it never calls
// WaitFilled, returning ErrNoMessage instead of blocking when the
// current buffer is exhausted and nothing new has arrived yet.
func (c *Consumer) TryNextMessage() (message.Message, error) {
	msg, err := c.parseOne()
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, errNeedBuffer) {
		return message.Message{}, err
	}
	if qerr := c.worker.Queue.Err(); qerr != nil {
		return message.Message{}, qerr
	}
	buf, ok, werr := c.worker.Queue.TryWaitFilled()
	if werr != nil {
		return message.Message{}, werr
	}
	if !ok {
		return message.Message{}, ErrNoMessage
	}
	c.buf = buf
	return c.parseOneOrFail()
}

func (c *Consumer) parseOneOrFail() (message.Message, error) {
	msg, err := c.parseOne()
	if errors.Is(err, errNeedBuffer) {
		return message.Message{}, ErrNoMessage
	}
	return msg, err
}

// parseOne attempts to decode exactly one record from whichever source
// is active — a decompressed inner message set takes priority over the
// outer buffer, since spec.md §4.5 requires a compressed record to be
// the sole entry in its outer message set.
func (c *Consumer) parseOne() (message.Message, error) {
	if len(c.inner) > 0 {
		rec, n, err := message.DecodeRecord(c.inner)
		if err != nil {
			c.inner = nil
			return message.Message{}, kerrors.Protocol("decode inner record", err)
		}
		c.inner = c.inner[n:]
		return rec.Message, nil
	}
	if c.buf == nil {
		return message.Message{}, errNeedBuffer
	}
	rec, n, err := message.DecodeRecord(c.buf.Bytes())
	if err != nil {
		if errors.Is(err, message.ErrPartialTail) {
			c.buf = nil
			return message.Message{}, errNeedBuffer
		}
		return message.Message{}, kerrors.CRC("decode record", err)
	}
	if aerr := c.buf.Advance(n); aerr != nil {
		return message.Message{}, aerr
	}

	codec := compress.FromAttrCode(rec.Attr)
	if codec == config.CompressionNone {
		return rec.Message, nil
	}
	raw, derr := compress.Decode(codec, rec.Message.Value)
	if derr != nil {
		return message.Message{}, kerrors.Protocol("decompress", derr)
	}
	c.inner = raw
	c.buf = nil
	return c.parseOne()
}
