package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func encodeMetadataResponseForTest(t *testing.T, r *MetadataResponse) bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	must(t, binary.Write(&buf, binary.BigEndian, int32(len(r.Brokers))))
	for _, b := range r.Brokers {
		must(t, binary.Write(&buf, binary.BigEndian, b.ID))
		must(t, writeString(&buf, b.Host))
		must(t, binary.Write(&buf, binary.BigEndian, b.Port))
	}
	must(t, binary.Write(&buf, binary.BigEndian, int32(len(r.Topics))))
	for _, tm := range r.Topics {
		must(t, binary.Write(&buf, binary.BigEndian, tm.ErrorCode))
		must(t, writeString(&buf, tm.Topic))
		must(t, binary.Write(&buf, binary.BigEndian, int32(len(tm.Partitions))))
		for _, pm := range tm.Partitions {
			must(t, binary.Write(&buf, binary.BigEndian, pm.ErrorCode))
			must(t, binary.Write(&buf, binary.BigEndian, pm.Partition))
			must(t, binary.Write(&buf, binary.BigEndian, pm.Leader))
			must(t, binary.Write(&buf, binary.BigEndian, int32(len(pm.Replicas))))
			for _, r := range pm.Replicas {
				must(t, binary.Write(&buf, binary.BigEndian, r))
			}
			must(t, binary.Write(&buf, binary.BigEndian, int32(len(pm.Isr))))
			for _, i := range pm.Isr {
				must(t, binary.Write(&buf, binary.BigEndian, i))
			}
		}
	}
	return buf
}

func encodeProduceResponseForTest(t *testing.T, r *ProduceResponse) bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	must(t, binary.Write(&buf, binary.BigEndian, int32(len(r.Topics))))
	for _, tt := range r.Topics {
		must(t, writeString(&buf, tt.Topic))
		must(t, binary.Write(&buf, binary.BigEndian, int32(len(tt.Partitions))))
		for _, p := range tt.Partitions {
			must(t, binary.Write(&buf, binary.BigEndian, p.Partition))
			must(t, binary.Write(&buf, binary.BigEndian, p.ErrorCode))
			must(t, binary.Write(&buf, binary.BigEndian, p.BaseOffset))
		}
	}
	return buf
}

func encodeOffsetResponseForTest(t *testing.T, r *OffsetResponse) bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	must(t, binary.Write(&buf, binary.BigEndian, int32(len(r.Topics))))
	for _, tt := range r.Topics {
		must(t, writeString(&buf, tt.Topic))
		must(t, binary.Write(&buf, binary.BigEndian, int32(len(tt.Partitions))))
		for _, p := range tt.Partitions {
			must(t, binary.Write(&buf, binary.BigEndian, p.Partition))
			must(t, binary.Write(&buf, binary.BigEndian, p.ErrorCode))
			must(t, binary.Write(&buf, binary.BigEndian, int32(len(p.Offsets))))
			for _, o := range p.Offsets {
				must(t, binary.Write(&buf, binary.BigEndian, o))
			}
		}
	}
	return buf
}

// encodeFetchResponseForTest builds a single-topic-group fetch response
// body from (topic, partition, payload) triples, all under one topic
// entry per distinct topic name in order of first appearance.
func encodeFetchResponseForTest(t *testing.T, parts [][3]any) bytes.Buffer {
	t.Helper()
	type entry struct {
		partition int32
		payload   []byte
	}
	order := []string{}
	byTopic := map[string][]entry{}
	for _, p := range parts {
		topic := p[0].(string)
		if _, ok := byTopic[topic]; !ok {
			order = append(order, topic)
		}
		byTopic[topic] = append(byTopic[topic], entry{partition: p[1].(int32), payload: p[2].([]byte)})
	}
	var buf bytes.Buffer
	must(t, binary.Write(&buf, binary.BigEndian, int32(len(order))))
	for _, topic := range order {
		must(t, writeString(&buf, topic))
		entries := byTopic[topic]
		must(t, binary.Write(&buf, binary.BigEndian, int32(len(entries))))
		for _, e := range entries {
			must(t, binary.Write(&buf, binary.BigEndian, e.partition))
			must(t, binary.Write(&buf, binary.BigEndian, ErrNone))
			must(t, binary.Write(&buf, binary.BigEndian, int64(0)))
			must(t, binary.Write(&buf, binary.BigEndian, int32(len(e.payload))))
			buf.Write(e.payload)
		}
	}
	return buf
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("encoding test fixture: %v", err)
	}
}

// assertRequestFrameLength checks the leading size prefix a request was
// written with matches the number of bytes that follow it. Request
// frames carry the api key/version ahead of the correlation id, unlike
// response frames, so ReadMessage (which expects a response's layout)
// does not apply here.
func assertRequestFrameLength(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	raw := buf.Bytes()
	if len(raw) < 4 {
		t.Fatal("frame too short")
	}
	size := binary.BigEndian.Uint32(raw[:4])
	if int(size) != len(raw)-4 {
		t.Fatalf("size prefix = %d, want %d", size, len(raw)-4)
	}
}

func TestSerializeFetchRequestFrameShape(t *testing.T) {
	c := KafkaV0Codec{}
	req := &FetchRequest{Topics: []FetchTopicRequest{
		{Topic: "orders", Partitions: []FetchPartitionRequest{
			{Partition: 0, FetchOffset: 42, MaxBytes: 1024},
			{Partition: 1, FetchOffset: 7, MaxBytes: 2048},
		}},
	}}
	var buf bytes.Buffer
	if err := c.SerializeFetchRequest(&buf, "test-client", 5, req); err != nil {
		t.Fatalf("SerializeFetchRequest: %v", err)
	}

	// Frame is {size int32}{apiKey int16}{apiVersion int16}{correlationID int32}{clientID string}{body}.
	var raw = buf.Bytes()
	if len(raw) < 4 {
		t.Fatal("frame too short")
	}
	apiKey := int16(raw[4])<<8 | int16(raw[5])
	if ApiKey(apiKey) != ApiFetch {
		t.Fatalf("apiKey = %d, want %d", apiKey, ApiFetch)
	}
}

func TestMetadataRequestResponseRoundTrip(t *testing.T) {
	c := KafkaV0Codec{}
	var reqBuf bytes.Buffer
	if err := c.SerializeMetadataRequest(&reqBuf, "cid", 1, []string{"a", "b"}); err != nil {
		t.Fatalf("SerializeMetadataRequest: %v", err)
	}
	assertRequestFrameLength(t, &reqBuf)

	want := &MetadataResponse{
		Brokers: []Broker{{ID: 1, Host: "broker-1", Port: 9092}},
		Topics: []TopicMetadata{
			{Topic: "a", ErrorCode: ErrNone, Partitions: []PartitionMetadata{
				{Partition: 0, ErrorCode: ErrNone, Leader: 1, Replicas: []int32{1, 2}, Isr: []int32{1}},
			}},
		},
	}
	respBuf := encodeMetadataResponseForTest(t, want)
	got, err := c.DecodeMetadataResponse(&respBuf, int32(respBuf.Len()))
	if err != nil {
		t.Fatalf("DecodeMetadataResponse: %v", err)
	}
	if len(got.Brokers) != 1 || got.Brokers[0].Host != "broker-1" || got.Brokers[0].Port != 9092 {
		t.Fatalf("Brokers = %+v", got.Brokers)
	}
	if len(got.Topics) != 1 || got.Topics[0].Topic != "a" || got.Topics[0].Partitions[0].Leader != 1 {
		t.Fatalf("Topics = %+v", got.Topics)
	}
	if len(got.Topics[0].Partitions[0].Replicas) != 2 || len(got.Topics[0].Partitions[0].Isr) != 1 {
		t.Fatalf("Replicas/Isr = %+v", got.Topics[0].Partitions[0])
	}
}

func TestProduceRequestResponseRoundTrip(t *testing.T) {
	c := KafkaV0Codec{}
	req := &ProduceRequest{
		Acks:      1,
		TimeoutMs: 5000,
		Topics: []ProduceTopicRequest{
			{Topic: "orders", Partitions: []ProducePartitionRequest{
				{Partition: 0, MessageSet: []byte("payload-bytes")},
			}},
		},
	}
	var reqBuf bytes.Buffer
	if err := c.SerializeProduceRequest(&reqBuf, "cid", 9, req); err != nil {
		t.Fatalf("SerializeProduceRequest: %v", err)
	}
	assertRequestFrameLength(t, &reqBuf)

	want := &ProduceResponse{Topics: []ProduceTopicResponse{
		{Topic: "orders", Partitions: []ProducePartitionResponse{
			{Partition: 0, ErrorCode: ErrNone, BaseOffset: 100},
		}},
	}}
	respBuf := encodeProduceResponseForTest(t, want)
	got, err := c.DecodeProduceResponse(&respBuf, int32(respBuf.Len()))
	if err != nil {
		t.Fatalf("DecodeProduceResponse: %v", err)
	}
	if got.Topics[0].Partitions[0].BaseOffset != 100 {
		t.Fatalf("BaseOffset = %d, want 100", got.Topics[0].Partitions[0].BaseOffset)
	}
}

func TestOffsetRequestResponseRoundTrip(t *testing.T) {
	c := KafkaV0Codec{}
	req := &OffsetRequest{ReplicaID: -1, Topics: []OffsetTopicRequest{
		{Topic: "orders", Partitions: []OffsetPartitionRequest{
			{Partition: 0, Time: -1, MaxNumOffsets: 1},
		}},
	}}
	var reqBuf bytes.Buffer
	if err := c.SerializeOffsetRequest(&reqBuf, "cid", 3, req); err != nil {
		t.Fatalf("SerializeOffsetRequest: %v", err)
	}
	assertRequestFrameLength(t, &reqBuf)

	want := &OffsetResponse{Topics: []OffsetTopicResponse{
		{Topic: "orders", Partitions: []OffsetPartitionResponse{
			{Partition: 0, ErrorCode: ErrNone, Offsets: []int64{55}},
		}},
	}}
	respBuf := encodeOffsetResponseForTest(t, want)
	got, err := c.DecodeOffsetResponse(&respBuf, int32(respBuf.Len()))
	if err != nil {
		t.Fatalf("DecodeOffsetResponse: %v", err)
	}
	if len(got.Topics[0].Partitions[0].Offsets) != 1 || got.Topics[0].Partitions[0].Offsets[0] != 55 {
		t.Fatalf("Offsets = %+v", got.Topics[0].Partitions[0].Offsets)
	}
}

func TestDecodeFetchResponseInvokesHandlerPerPartitionInOrder(t *testing.T) {
	c := KafkaV0Codec{}
	buf := encodeFetchResponseForTest(t, [][3]any{
		{"orders", int32(0), []byte("hello")},
		{"orders", int32(1), []byte("world!")},
	})

	var seen []string
	err := c.DecodeFetchResponse(&buf, int32(buf.Len()), func(topic string, h FetchPartitionHeader, body io.Reader) error {
		b := make([]byte, h.MessageSetSize)
		n, _ := io.ReadFull(body, b)
		seen = append(seen, topic+":"+string(b[:n]))
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeFetchResponse: %v", err)
	}
	if len(seen) != 2 || seen[0] != "orders:hello" || seen[1] != "orders:world!" {
		t.Fatalf("handler saw %v", seen)
	}
}

func TestDecodeFetchResponseSkipsUnreadHandlerBytes(t *testing.T) {
	c := KafkaV0Codec{}
	buf := encodeFetchResponseForTest(t, [][3]any{
		{"orders", int32(0), []byte("0123456789")},
	})
	called := false
	err := c.DecodeFetchResponse(&buf, int32(buf.Len()), func(topic string, h FetchPartitionHeader, body io.Reader) error {
		called = true
		// Deliberately read nothing; DecodeFetchResponse must still
		// leave the stream aligned by draining the rest itself.
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeFetchResponse: %v", err)
	}
	if !called {
		t.Fatal("handler never invoked")
	}
	if buf.Len() != 0 {
		t.Fatalf("stream not fully drained: %d bytes left", buf.Len())
	}
}

func TestIsLeaderChangeClassification(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{ErrNone, false},
		{ErrOffsetOutOfRange, false},
		{ErrUnknownTopicOrPartition, true},
		{ErrLeaderNotAvailable, true},
		{ErrNotLeaderForPartition, true},
	}
	for _, c := range cases {
		if got := c.code.IsLeaderChange(); got != c.want {
			t.Errorf("ErrorCode(%d).IsLeaderChange() = %v, want %v", c.code, got, c.want)
		}
	}
}
