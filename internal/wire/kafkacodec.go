package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// bufPool recycles scratch buffers used while assembling a request
// body, the same shape as the teacher's protocol.bufferPool
// (sync.Pool of *bytes.Buffer), fixing the original's habit of
// returning a buffer to the pool and then continuing to read from its
// backing array afterward.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuf() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBuf(b *bytes.Buffer) { bufPool.Put(b) }

// KafkaV0Codec implements Codec for API version 0 requests, framed as
// { size int32 }{ apiKey int16, apiVersion int16, correlationID int32,
// clientID string, body }, the same length-prefix-then-header shape as
// the teacher's RequestHeader in internal/core/protocol/types.go,
// generalized from that file's single hardcoded (Produce) framing to
// all four request kinds.
type KafkaV0Codec struct{}

var _ Codec = KafkaV0Codec{}

func (KafkaV0Codec) writeFrame(w io.Writer, apiKey ApiKey, correlationID int32, clientID string, body *bytes.Buffer) error {
	hdr := getBuf()
	defer putBuf(hdr)
	if err := binary.Write(hdr, binary.BigEndian, int16(apiKey)); err != nil {
		return err
	}
	if err := binary.Write(hdr, binary.BigEndian, int16(0)); err != nil { // api version
		return err
	}
	if err := binary.Write(hdr, binary.BigEndian, correlationID); err != nil {
		return err
	}
	if err := writeString(hdr, clientID); err != nil {
		return err
	}
	total := int32(hdr.Len() + body.Len())
	if err := binary.Write(w, binary.BigEndian, total); err != nil {
		return err
	}
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

func (c KafkaV0Codec) SerializeMetadataRequest(w io.Writer, clientID string, correlationID int32, topics []string) error {
	body := getBuf()
	defer putBuf(body)
	if err := binary.Write(body, binary.BigEndian, int32(len(topics))); err != nil {
		return err
	}
	for _, t := range topics {
		if err := writeString(body, t); err != nil {
			return err
		}
	}
	return c.writeFrame(w, ApiMetadata, correlationID, clientID, body)
}

func (c KafkaV0Codec) SerializeFetchRequest(w io.Writer, clientID string, correlationID int32, req *FetchRequest) error {
	body := getBuf()
	defer putBuf(body)
	if err := binary.Write(body, binary.BigEndian, int32(len(req.Topics))); err != nil {
		return err
	}
	for _, t := range req.Topics {
		if err := writeString(body, t.Topic); err != nil {
			return err
		}
		if err := binary.Write(body, binary.BigEndian, int32(len(t.Partitions))); err != nil {
			return err
		}
		for _, p := range t.Partitions {
			if err := binary.Write(body, binary.BigEndian, p.Partition); err != nil {
				return err
			}
			if err := binary.Write(body, binary.BigEndian, p.FetchOffset); err != nil {
				return err
			}
			if err := binary.Write(body, binary.BigEndian, p.MaxBytes); err != nil {
				return err
			}
		}
	}
	return c.writeFrame(w, ApiFetch, correlationID, clientID, body)
}

func (c KafkaV0Codec) SerializeProduceRequest(w io.Writer, clientID string, correlationID int32, req *ProduceRequest) error {
	body := getBuf()
	defer putBuf(body)
	if err := binary.Write(body, binary.BigEndian, req.Acks); err != nil {
		return err
	}
	if err := binary.Write(body, binary.BigEndian, req.TimeoutMs); err != nil {
		return err
	}
	if err := binary.Write(body, binary.BigEndian, int32(len(req.Topics))); err != nil {
		return err
	}
	for _, t := range req.Topics {
		if err := writeString(body, t.Topic); err != nil {
			return err
		}
		if err := binary.Write(body, binary.BigEndian, int32(len(t.Partitions))); err != nil {
			return err
		}
		for _, p := range t.Partitions {
			if err := binary.Write(body, binary.BigEndian, p.Partition); err != nil {
				return err
			}
			if err := writeBytes(body, p.MessageSet); err != nil {
				return err
			}
		}
	}
	return c.writeFrame(w, ApiProduce, correlationID, clientID, body)
}

func (c KafkaV0Codec) SerializeOffsetRequest(w io.Writer, clientID string, correlationID int32, req *OffsetRequest) error {
	body := getBuf()
	defer putBuf(body)
	if err := binary.Write(body, binary.BigEndian, req.ReplicaID); err != nil {
		return err
	}
	if err := binary.Write(body, binary.BigEndian, int32(len(req.Topics))); err != nil {
		return err
	}
	for _, t := range req.Topics {
		if err := writeString(body, t.Topic); err != nil {
			return err
		}
		if err := binary.Write(body, binary.BigEndian, int32(len(t.Partitions))); err != nil {
			return err
		}
		for _, p := range t.Partitions {
			if err := binary.Write(body, binary.BigEndian, p.Partition); err != nil {
				return err
			}
			if err := binary.Write(body, binary.BigEndian, p.Time); err != nil {
				return err
			}
			if err := binary.Write(body, binary.BigEndian, p.MaxNumOffsets); err != nil {
				return err
			}
		}
	}
	return c.writeFrame(w, ApiOffset, correlationID, clientID, body)
}

func (KafkaV0Codec) ReadMessage(r io.Reader) (int32, int32, error) {
	var size int32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return 0, 0, err
	}
	if size < 4 {
		return 0, 0, errors.New("wire: frame smaller than correlation id")
	}
	var correlationID int32
	if err := binary.Read(r, binary.BigEndian, &correlationID); err != nil {
		return 0, 0, err
	}
	return size - 4, correlationID, nil
}

func (KafkaV0Codec) SkipBytes(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

func (c KafkaV0Codec) DecodeMetadataResponse(r io.Reader, size int32) (*MetadataResponse, error) {
	lr := io.LimitReader(r, int64(size))
	var nb int32
	if err := binary.Read(lr, binary.BigEndian, &nb); err != nil {
		return nil, err
	}
	resp := &MetadataResponse{Brokers: make([]Broker, nb)}
	for i := range resp.Brokers {
		if err := binary.Read(lr, binary.BigEndian, &resp.Brokers[i].ID); err != nil {
			return nil, err
		}
		host, err := readString(lr)
		if err != nil {
			return nil, err
		}
		resp.Brokers[i].Host = host
		if err := binary.Read(lr, binary.BigEndian, &resp.Brokers[i].Port); err != nil {
			return nil, err
		}
	}
	var nt int32
	if err := binary.Read(lr, binary.BigEndian, &nt); err != nil {
		return nil, err
	}
	resp.Topics = make([]TopicMetadata, nt)
	for i := range resp.Topics {
		if err := binary.Read(lr, binary.BigEndian, &resp.Topics[i].ErrorCode); err != nil {
			return nil, err
		}
		name, err := readString(lr)
		if err != nil {
			return nil, err
		}
		resp.Topics[i].Topic = name
		var np int32
		if err := binary.Read(lr, binary.BigEndian, &np); err != nil {
			return nil, err
		}
		resp.Topics[i].Partitions = make([]PartitionMetadata, np)
		for j := range resp.Topics[i].Partitions {
			pm := &resp.Topics[i].Partitions[j]
			if err := binary.Read(lr, binary.BigEndian, &pm.ErrorCode); err != nil {
				return nil, err
			}
			if err := binary.Read(lr, binary.BigEndian, &pm.Partition); err != nil {
				return nil, err
			}
			if err := binary.Read(lr, binary.BigEndian, &pm.Leader); err != nil {
				return nil, err
			}
			replicas, err := readInt32Array(lr)
			if err != nil {
				return nil, err
			}
			pm.Replicas = replicas
			isr, err := readInt32Array(lr)
			if err != nil {
				return nil, err
			}
			pm.Isr = isr
		}
	}
	return resp, nil
}

func (c KafkaV0Codec) DecodeOffsetResponse(r io.Reader, size int32) (*OffsetResponse, error) {
	lr := io.LimitReader(r, int64(size))
	var nt int32
	if err := binary.Read(lr, binary.BigEndian, &nt); err != nil {
		return nil, err
	}
	resp := &OffsetResponse{Topics: make([]OffsetTopicResponse, nt)}
	for i := range resp.Topics {
		name, err := readString(lr)
		if err != nil {
			return nil, err
		}
		resp.Topics[i].Topic = name
		var np int32
		if err := binary.Read(lr, binary.BigEndian, &np); err != nil {
			return nil, err
		}
		resp.Topics[i].Partitions = make([]OffsetPartitionResponse, np)
		for j := range resp.Topics[i].Partitions {
			pr := &resp.Topics[i].Partitions[j]
			if err := binary.Read(lr, binary.BigEndian, &pr.Partition); err != nil {
				return nil, err
			}
			if err := binary.Read(lr, binary.BigEndian, &pr.ErrorCode); err != nil {
				return nil, err
			}
			offsets, err := readInt64Array(lr)
			if err != nil {
				return nil, err
			}
			pr.Offsets = offsets
		}
	}
	return resp, nil
}

func (c KafkaV0Codec) DecodeProduceResponse(r io.Reader, size int32) (*ProduceResponse, error) {
	lr := io.LimitReader(r, int64(size))
	var nt int32
	if err := binary.Read(lr, binary.BigEndian, &nt); err != nil {
		return nil, err
	}
	resp := &ProduceResponse{Topics: make([]ProduceTopicResponse, nt)}
	for i := range resp.Topics {
		name, err := readString(lr)
		if err != nil {
			return nil, err
		}
		resp.Topics[i].Topic = name
		var np int32
		if err := binary.Read(lr, binary.BigEndian, &np); err != nil {
			return nil, err
		}
		resp.Topics[i].Partitions = make([]ProducePartitionResponse, np)
		for j := range resp.Topics[i].Partitions {
			pr := &resp.Topics[i].Partitions[j]
			if err := binary.Read(lr, binary.BigEndian, &pr.Partition); err != nil {
				return nil, err
			}
			if err := binary.Read(lr, binary.BigEndian, &pr.ErrorCode); err != nil {
				return nil, err
			}
			if err := binary.Read(lr, binary.BigEndian, &pr.BaseOffset); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func (c KafkaV0Codec) DecodeFetchResponse(r io.Reader, size int32, handle FetchPartitionHandler) error {
	lr := io.LimitReader(r, int64(size))
	var nt int32
	if err := binary.Read(lr, binary.BigEndian, &nt); err != nil {
		return err
	}
	for i := int32(0); i < nt; i++ {
		topic, err := readString(lr)
		if err != nil {
			return err
		}
		var np int32
		if err := binary.Read(lr, binary.BigEndian, &np); err != nil {
			return err
		}
		for j := int32(0); j < np; j++ {
			var h FetchPartitionHeader
			if err := binary.Read(lr, binary.BigEndian, &h.Partition); err != nil {
				return err
			}
			if err := binary.Read(lr, binary.BigEndian, &h.ErrorCode); err != nil {
				return err
			}
			if err := binary.Read(lr, binary.BigEndian, &h.HighWatermark); err != nil {
				return err
			}
			if err := binary.Read(lr, binary.BigEndian, &h.MessageSetSize); err != nil {
				return err
			}
			body := io.LimitReader(lr, int64(h.MessageSetSize))
			if handle != nil {
				if err := handle(topic, h, body); err != nil {
					return fmt.Errorf("wire: handling fetch partition %s/%d: %w", topic, h.Partition, err)
				}
			}
			// Drain whatever the handler left unread so the stream
			// stays aligned for the next partition.
			if _, err := io.Copy(io.Discard, body); err != nil {
				return err
			}
		}
	}
	return nil
}

func readInt64Array(r io.Reader) ([]int64, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || n > maxFieldLen {
		return nil, ErrBytesTooLong
	}
	out := make([]int64, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
