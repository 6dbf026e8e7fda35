// Package kclient is the public entry point (spec.md §4.5's Client API
// surface): New/RefreshMetadata/Topics/Partitions, plus the
// Consumer/Producer constructors that register a worker with the
// underlying ConnectionManager and hand back a façade.
package kclient

import (
	"errors"

	"kcore/internal/buffer"
	"kcore/internal/client"
	"kcore/internal/config"
	"kcore/internal/wire"
	"kcore/pkg/consumer"
	"kcore/pkg/producer"
)

var errNoBootstrapBrokers = errors.New("kclient: at least one bootstrap broker is required")

// OffsetLatest and OffsetEarliest are the sentinel starting offsets a
// new Consumer may request (spec.md §4.5).
const (
	OffsetLatest   int64 = -1
	OffsetEarliest int64 = -2
)

// Client is the public façade over the internal ConnectionManager.
type Client struct {
	cfg config.Config
	cl  *client.Client
}

// New dials nothing yet — it seeds the metadata cache lazily, the first
// time a Consumer or Producer is created, exactly as the underlying
// ConnectionManager's re-homing loop does for any newly registered
// worker.
func New(bootstrapBrokers []string, cfg config.Config) (*Client, error) {
	if len(bootstrapBrokers) == 0 {
		return nil, errNoBootstrapBrokers
	}
	if cfg.ClientID == "" {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		cl:  client.New(bootstrapBrokers, cfg, wire.KafkaV0Codec{}),
	}, nil
}

// Close tears down every broker connection and stops all background
// loops.
func (c *Client) Close() error { return c.cl.Close() }

// RefreshMetadata forces an immediate metadata sweep across the
// bootstrap brokers rather than waiting for the next re-homing event.
func (c *Client) RefreshMetadata() error { return c.cl.RefreshMetadata(nil) }

// Topics returns the topic names known as of the last metadata refresh.
func (c *Client) Topics() []string { return c.cl.Topics() }

// Partitions returns the partition ids known for topic.
func (c *Client) Partitions(topic string) ([]int32, error) { return c.cl.Partitions(topic) }

// NewConsumer registers a new (topic, partition) consumer worker,
// starting at startOffset (a real offset, or OffsetLatest/
// OffsetEarliest). The ConnectionManager resolves its leader and
// attaches it to a connection asynchronously; NextMessage blocks until
// that has happened.
func (c *Client) NewConsumer(topic string, partition int32, startOffset int64) *consumer.Consumer {
	pool := buffer.NewPool(c.cfg.ConsumerQueueBuffers, c.cfg.ConsumerMaxBytes)
	w := c.cl.RegisterWorker(client.KindConsumer, topic, partition, pool, startOffset)
	return consumer.New(c.cl, w)
}

// NewProducer registers a new (topic, partition) producer worker.
func (c *Client) NewProducer(topic string, partition int32) *producer.Producer {
	pool := buffer.NewPool(c.cfg.ConsumerQueueBuffers, c.cfg.ConsumerMaxBytes)
	w := c.cl.RegisterWorker(client.KindProducer, topic, partition, pool, 0)
	return producer.New(c.cl, w, c.cfg.ProducerCompression)
}
