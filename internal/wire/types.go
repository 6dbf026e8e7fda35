// Package wire defines the Kafka v0 request/response shapes and the
// Codec contract spec.md §6 requires of the (explicitly out-of-core-
// scope) wire codec collaborator, plus one concrete implementation of
// that contract so the module is usable standalone.
package wire

// ApiKey identifies which RPC a frame carries.
type ApiKey int16

const (
	ApiProduce  ApiKey = 0
	ApiFetch    ApiKey = 1
	ApiOffset   ApiKey = 2
	ApiMetadata ApiKey = 3
)

// ErrorCode mirrors the subset of Kafka's broker error codes the core
// runtime has to branch on (spec.md §4.3, §7).
type ErrorCode int16

const (
	ErrNone                    ErrorCode = 0
	ErrOffsetOutOfRange        ErrorCode = 1
	ErrUnknownTopicOrPartition ErrorCode = 3
	ErrLeaderNotAvailable      ErrorCode = 5
	ErrNotLeaderForPartition   ErrorCode = 6
)

// IsLeaderChange reports whether code is one of the transient,
// never-surfaced-to-the-caller errors that trigger the re-home path
// (spec.md §7).
func (c ErrorCode) IsLeaderChange() bool {
	switch c {
	case ErrUnknownTopicOrPartition, ErrLeaderNotAvailable, ErrNotLeaderForPartition:
		return true
	default:
		return false
	}
}

// Broker is one entry of a Metadata response's broker list.
type Broker struct {
	ID   int32
	Host string
	Port int32
}

// PartitionMetadata describes one partition's current leader/replica set.
type PartitionMetadata struct {
	Partition int32
	ErrorCode ErrorCode
	Leader    int32
	Replicas  []int32
	Isr       []int32
}

// TopicMetadata is one topic's partition set.
type TopicMetadata struct {
	Topic      string
	ErrorCode  ErrorCode
	Partitions []PartitionMetadata
}

// MetadataResponse is the decoded broker + topic set.
type MetadataResponse struct {
	Brokers []Broker
	Topics  []TopicMetadata
}

// FetchPartitionRequest is one partition's fetch cursor + budget.
type FetchPartitionRequest struct {
	Partition   int32
	FetchOffset int64
	MaxBytes    int32
}

// FetchTopicRequest groups partition requests under one topic.
type FetchTopicRequest struct {
	Topic      string
	Partitions []FetchPartitionRequest
}

// FetchRequest is a whole bundled fetch RPC.
type FetchRequest struct {
	Topics []FetchTopicRequest
}

// FetchPartitionHeader is what the receiver decodes before streaming
// the raw message-set bytes for that partition.
type FetchPartitionHeader struct {
	Partition      int32
	ErrorCode      ErrorCode
	HighWatermark  int64
	MessageSetSize int32
}

// ProducePartitionRequest carries one partition's already-serialized
// message set.
type ProducePartitionRequest struct {
	Partition  int32
	MessageSet []byte
}

// ProduceTopicRequest groups partition payloads under one topic.
type ProduceTopicRequest struct {
	Topic      string
	Partitions []ProducePartitionRequest
}

// ProduceRequest is a whole bundled produce RPC.
type ProduceRequest struct {
	Acks      int16
	TimeoutMs int32
	Topics    []ProduceTopicRequest
}

// ProducePartitionResponse is one partition's ack.
type ProducePartitionResponse struct {
	Partition  int32
	ErrorCode  ErrorCode
	BaseOffset int64
}

// ProduceTopicResponse groups partition acks under one topic.
type ProduceTopicResponse struct {
	Topic      string
	Partitions []ProducePartitionResponse
}

// ProduceResponse is the decoded ack set for one produce RPC.
type ProduceResponse struct {
	Topics []ProduceTopicResponse
}

// OffsetPartitionRequest asks for the offset nearest a timestamp
// (spec.md §6 sentinels: -1 latest, -2 earliest).
type OffsetPartitionRequest struct {
	Partition     int32
	Time          int64
	MaxNumOffsets int32
}

// OffsetTopicRequest groups partition offset requests under one topic.
type OffsetTopicRequest struct {
	Topic      string
	Partitions []OffsetPartitionRequest
}

// OffsetRequest is a whole ListOffsets-style RPC.
type OffsetRequest struct {
	ReplicaID int32
	Topics    []OffsetTopicRequest
}

// OffsetPartitionResponse is the resolved starting offset for one partition.
type OffsetPartitionResponse struct {
	Partition int32
	ErrorCode ErrorCode
	Offsets   []int64
}

// OffsetTopicResponse groups partition offset resolutions under one topic.
type OffsetTopicResponse struct {
	Topic      string
	Partitions []OffsetPartitionResponse
}

// OffsetResponse is the decoded resolution set.
type OffsetResponse struct {
	Topics []OffsetTopicResponse
}
