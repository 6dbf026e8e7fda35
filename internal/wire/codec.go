package wire

import "io"

// Codec is the contract spec.md §6 requires of the wire collaborator:
// serializers for the four request kinds, plus the primitives the
// receiver needs to read frames off the stream. The codec treats
// message-set payloads as opaque bytes — record-level framing (offset,
// crc, key/value) is core-scoped (spec.md §4.5) and lives in
// pkg/message, not here.
type Codec interface {
	SerializeFetchRequest(w io.Writer, clientID string, correlationID int32, req *FetchRequest) error
	SerializeProduceRequest(w io.Writer, clientID string, correlationID int32, req *ProduceRequest) error
	SerializeMetadataRequest(w io.Writer, clientID string, correlationID int32, topics []string) error
	SerializeOffsetRequest(w io.Writer, clientID string, correlationID int32, req *OffsetRequest) error

	// ReadMessage reads the frame envelope (size, correlation id) but
	// not the body. size is the number of body bytes remaining to be
	// consumed by the matching Decode call (or SkipBytes, for a
	// response the receiver has no queue for). Real Kafka responses do
	// not echo the api key, which is why dispatch relies on the
	// connection's in-flight FIFO order (spec.md §5) rather than on
	// anything decoded here.
	ReadMessage(r io.Reader) (size int32, correlationID int32, err error)

	DecodeMetadataResponse(r io.Reader, size int32) (*MetadataResponse, error)
	DecodeOffsetResponse(r io.Reader, size int32) (*OffsetResponse, error)
	DecodeProduceResponse(r io.Reader, size int32) (*ProduceResponse, error)

	// DecodeFetchResponse decodes per-topic, per-partition headers and
	// invokes handle once per partition with the header and an
	// io.Reader limited to exactly that partition's message-set bytes.
	// handle must consume (or explicitly skip) the full body before
	// returning, so the stream stays aligned for the next partition.
	DecodeFetchResponse(r io.Reader, size int32, handle FetchPartitionHandler) error

	// SkipBytes discards n bytes from r, for responses referencing a
	// queue that has since been detached.
	SkipBytes(r io.Reader, n int64) error
}

// FetchPartitionHandler is invoked once per partition in a fetch
// response body.
type FetchPartitionHandler func(topic string, h FetchPartitionHeader, body io.Reader) error
