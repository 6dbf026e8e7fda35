// Package metadata implements MetadataCache (spec.md §3): brokers and
// topic/partition leader assignments, rebuilt wholesale on each
// refresh. Grounded on the teacher's internal/core/metadata package,
// which sketched (as a doc comment only) tracking per-partition
// leader/replica/ISR state; this is the concrete implementation of
// that sketch, generalized from the broker's persistent view to the
// client's read-only cached view.
package metadata

import (
	"fmt"
	"sync"

	"kcore/internal/wire"
)

// PartitionInfo is one partition's current leader/replica assignment.
type PartitionInfo struct {
	Leader   int32
	Replicas []int32
	Isr      []int32
}

// TopicInfo is one topic's partition map.
type TopicInfo struct {
	Partitions map[int32]PartitionInfo
}

// BrokerInfo is one broker's dial address.
type BrokerInfo struct {
	Host string
	Port int32
}

// ErrTopicNotFound and ErrPartitionNotFound classify a MetadataError
// (spec.md §7): the affected worker's lookup found no such topic or
// partition in the freshly refreshed cache.
var (
	ErrTopicNotFound     = fmt.Errorf("metadata: topic not found")
	ErrPartitionNotFound = fmt.Errorf("metadata: partition not found")
)

// Cache is the client's view of cluster metadata. Rebuilt wholesale by
// Replace on every refresh; reads take a snapshot copy of the maps so a
// concurrent refresh never mutates state a caller is iterating.
type Cache struct {
	mu      sync.RWMutex
	brokers map[int32]BrokerInfo
	topics  map[string]TopicInfo
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		brokers: make(map[int32]BrokerInfo),
		topics:  make(map[string]TopicInfo),
	}
}

// Replace atomically swaps in a freshly decoded metadata response.
func (c *Cache) Replace(resp *wire.MetadataResponse) {
	brokers := make(map[int32]BrokerInfo, len(resp.Brokers))
	for _, b := range resp.Brokers {
		brokers[b.ID] = BrokerInfo{Host: b.Host, Port: b.Port}
	}
	topics := make(map[string]TopicInfo, len(resp.Topics))
	for _, t := range resp.Topics {
		ti := TopicInfo{Partitions: make(map[int32]PartitionInfo, len(t.Partitions))}
		for _, p := range t.Partitions {
			ti.Partitions[p.Partition] = PartitionInfo{
				Leader:   p.Leader,
				Replicas: p.Replicas,
				Isr:      p.Isr,
			}
		}
		topics[t.Topic] = ti
	}

	c.mu.Lock()
	c.brokers = brokers
	c.topics = topics
	c.mu.Unlock()
}

// Broker looks up a broker's dial address by id.
func (c *Cache) Broker(id int32) (BrokerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.brokers[id]
	return b, ok
}

// Leader resolves the current leader broker id for (topic, partition).
func (c *Cache) Leader(topic string, partition int32) (int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.topics[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	p, ok := t.Partitions[partition]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%d", ErrPartitionNotFound, topic, partition)
	}
	return p.Leader, nil
}

// Topics returns every known topic name.
func (c *Cache) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Partitions returns every known partition id for topic.
func (c *Cache) Partitions(topic string) ([]int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	out := make([]int32, 0, len(t.Partitions))
	for p := range t.Partitions {
		out = append(out, p)
	}
	return out, nil
}
