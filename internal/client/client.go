// Package client implements the ConnectionManager described in spec.md
// §3-4.4: it owns the metadata cache, the broker-id → BrokerConnection
// map, the worker registry, and the brokerless-worker re-homing loop
// that runs the leader-resolution retry policy.
//
// Grounded on the teacher's internal/network/tcp/server.go, which keeps
// a registry of live connections and a background loop reacting to
// connection churn; this module generalizes that registry from
// "accepted inbound connections" to "dialed outbound connections, one
// per broker, shared by every worker that needs that broker".
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kcore/internal/broker"
	"kcore/internal/buffer"
	"kcore/internal/config"
	"kcore/internal/kerrors"
	"kcore/internal/log"
	"kcore/internal/metadata"
	"kcore/internal/queue"
	"kcore/internal/wire"
)

// Kind distinguishes a fetch worker from a produce worker when
// re-homing decides which of a connection's two bundlers to attach to.
type Kind int

const (
	KindConsumer Kind = iota
	KindProducer
)

// Worker is the client-side registration record for one Consumer or
// Producer's queue: enough identity for the re-homing loop to resolve
// a leader and reattach without needing to know about pkg/consumer or
// pkg/producer at all.
type Worker struct {
	Kind      Kind
	Topic     string
	Partition int32
	Queue     *queue.PartitionQueue
}

// Client is the shared connection/metadata/worker-registry state one
// kclient.Client wraps. It implements broker.Manager.
type Client struct {
	cfg       config.Config
	codec     wire.Codec
	bootstrap []string
	cache     *metadata.Cache

	mu          sync.Mutex
	connections map[int32]*broker.Connection
	workers     []*Worker

	brokerlessMu   sync.Mutex
	brokerlessList []*Worker
	brokerlessCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Client and starts its background re-homing loop.
// bootstrapBrokers is a list of "host:port" seed addresses; codec is
// the wire codec collaborator (spec.md §6 leaves this pluggable, so the
// public façade injects wire.KafkaV0Codec{} by default).
func New(bootstrapBrokers []string, cfg config.Config, codec wire.Codec) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:          cfg,
		codec:        codec,
		bootstrap:    bootstrapBrokers,
		cache:        metadata.New(),
		connections:  make(map[int32]*broker.Connection),
		brokerlessCh: make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.wg.Add(1)
	go c.reconnectLoop()
	return c
}

// Close tears down every open broker connection and stops the
// re-homing loop.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conns := make([]*broker.Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn)
	}
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

// Topics returns the topic names known as of the last metadata refresh.
func (c *Client) Topics() []string { return c.cache.Topics() }

// Partitions returns the partition ids known for topic.
func (c *Client) Partitions(topic string) ([]int32, error) { return c.cache.Partitions(topic) }

// RegisterWorker creates the PartitionQueue for (topic, partition),
// records it in the worker registry, and immediately pushes it onto
// the brokerless list so the re-homing loop resolves its leader and
// attaches it to a connection. startOffset may be a sentinel (-1
// latest, -2 earliest) for a consumer; producers ignore it.
func (c *Client) RegisterWorker(kind Kind, topic string, partition int32, pool *buffer.Pool, startOffset int64) *Worker {
	q := queue.New(topic, partition, pool, startOffset)
	w := &Worker{Kind: kind, Topic: topic, Partition: partition, Queue: q}

	c.mu.Lock()
	c.workers = append(c.workers, w)
	c.mu.Unlock()

	c.pushBrokerless(w)
	return w
}

// UnregisterWorker detaches a worker's queue from whatever bundler
// currently owns it and removes it from the registry (Consumer/Producer
// Close).
func (c *Client) UnregisterWorker(w *Worker) {
	c.mu.Lock()
	for i, ww := range c.workers {
		if ww == w {
			c.workers = append(c.workers[:i], c.workers[i+1:]...)
			break
		}
	}
	conns := make([]*broker.Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.ConsumerBundler.RemoveQueue(w.Topic, w.Partition)
		conn.ProducerBundler.RemoveQueue(w.Topic, w.Partition)
	}
	w.Queue.Close()
}

// --- broker.Manager ---

// MarkBrokerless implements broker.Manager. It is called by a
// Connection's receiver whenever it detaches a queue (leader change,
// fatal per-partition error, or connection loss).
func (c *Client) MarkBrokerless(q *queue.PartitionQueue) {
	c.mu.Lock()
	var w *Worker
	for _, ww := range c.workers {
		if ww.Queue == q {
			w = ww
			break
		}
	}
	c.mu.Unlock()
	if w == nil {
		return
	}
	c.pushBrokerless(w)
}

// ConnectionLost implements broker.Manager. Per spec.md §4.3, every
// worker the dead connection was serving — on either bundler — is
// moved to the brokerless list, and the connection is dropped from the
// broker map.
func (c *Client) ConnectionLost(conn *broker.Connection) {
	c.mu.Lock()
	if c.connections[conn.BrokerID] == conn {
		delete(c.connections, conn.BrokerID)
	}
	c.mu.Unlock()

	log.Warn("connection to broker %d (%s) lost", conn.BrokerID, conn.Addr)

	queues := append(conn.ConsumerBundler.AllQueues(), conn.ProducerBundler.AllQueues()...)
	for _, q := range queues {
		conn.ConsumerBundler.RemoveQueue(q.Topic, q.Partition)
		conn.ProducerBundler.RemoveQueue(q.Topic, q.Partition)
		c.MarkBrokerless(q)
	}
}

// --- brokerless list ---

func (c *Client) pushBrokerless(w *Worker) {
	c.brokerlessMu.Lock()
	for _, existing := range c.brokerlessList {
		if existing == w {
			c.brokerlessMu.Unlock()
			return
		}
	}
	c.brokerlessList = append(c.brokerlessList, w)
	c.brokerlessMu.Unlock()
	select {
	case c.brokerlessCh <- struct{}{}:
	default:
	}
}

func (c *Client) popBrokerless() (*Worker, bool) {
	c.brokerlessMu.Lock()
	defer c.brokerlessMu.Unlock()
	if len(c.brokerlessList) == 0 {
		return nil, false
	}
	w := c.brokerlessList[0]
	c.brokerlessList = c.brokerlessList[1:]
	return w, true
}

// reconnectLoop implements the pseudocode in spec.md §4.4: drain the
// brokerless list, resolving each worker's leader and reattaching it,
// blocking for new arrivals when the list is empty.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()
	for {
		w, ok := c.popBrokerless()
		if !ok {
			select {
			case <-c.brokerlessCh:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		c.resolveWorker(w)
	}
}

func (c *Client) resolveWorker(w *Worker) {
	leader, err := c.resolveLeader(w.Topic, w.Partition)
	if err != nil {
		w.Queue.Fail(err)
		return
	}

	conn, err := c.getOrOpenConnection(leader)
	if err != nil {
		w.Queue.Fail(kerrors.Connection(fmt.Sprintf("broker %d", leader), err))
		return
	}

	switch w.Kind {
	case KindConsumer:
		if w.Queue.NextOffsetToFetch() < 0 {
			off, err := conn.GetStartingOffset(c.ctx, w.Topic, w.Partition, w.Queue.NextOffsetToFetch())
			if err != nil {
				w.Queue.Fail(kerrors.Connection("get starting offset", err))
				return
			}
			w.Queue.SetNextOffsetToFetch(off)
		}
		conn.ConsumerBundler.AddQueue(w.Queue)
	case KindProducer:
		conn.ProducerBundler.AddQueue(w.Queue)
	}
}

// resolveLeader retries metadata refresh + leader lookup per spec.md
// §4.4: LeaderElectionRetryCount attempts (0 = forever), sleeping
// LeaderElectionRetryTimeout between each. A topic or partition that
// metadata.find doesn't know about at all is not a transient election
// condition — per spec.md §4.4 that fails the worker immediately with a
// MetadataError instead of retrying until LeaderElectionTimeout.
func (c *Client) resolveLeader(topic string, partition int32) (int32, error) {
	attempts := 0
	for {
		if err := c.RefreshMetadata(nil); err != nil {
			return 0, kerrors.Metadata("refresh", err)
		}
		leader, err := c.cache.Leader(topic, partition)
		if err == nil && leader >= 0 {
			return leader, nil
		}
		if errors.Is(err, metadata.ErrTopicNotFound) || errors.Is(err, metadata.ErrPartitionNotFound) {
			return 0, kerrors.Metadata(fmt.Sprintf("%s/%d", topic, partition), err)
		}
		attempts++
		if c.cfg.LeaderElectionRetryCount != 0 && attempts >= c.cfg.LeaderElectionRetryCount {
			return 0, kerrors.LeaderElectionTimeout(topic, partition)
		}
		select {
		case <-time.After(c.cfg.LeaderElectionRetryTimeout):
		case <-c.ctx.Done():
			return 0, c.ctx.Err()
		}
	}
}

// RefreshMetadata rebuilds the cache from the first bootstrap broker
// that answers, retrying the whole sweep up to MetadataRefreshRetryCount
// times (0 = forever). topics == nil asks for every topic the broker
// knows about.
func (c *Client) RefreshMetadata(topics []string) error {
	attempts := 0
	for {
		var lastErr error
		for _, addr := range c.bootstrap {
			resp, err := c.fetchMetadataFrom(addr, topics)
			if err != nil {
				lastErr = err
				continue
			}
			if len(resp.Brokers) == 0 {
				lastErr = fmt.Errorf("metadata: empty broker list from %s", addr)
				continue
			}
			c.cache.Replace(resp)
			return nil
		}
		attempts++
		if c.cfg.MetadataRefreshRetryCount != 0 && attempts >= c.cfg.MetadataRefreshRetryCount {
			if lastErr == nil {
				lastErr = fmt.Errorf("metadata: no bootstrap brokers configured")
			}
			return lastErr
		}
		select {
		case <-time.After(c.cfg.MetadataRefreshRetryTimeout):
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// fetchMetadataFrom dials addr, issues one synchronous Metadata RPC
// over a throwaway Connection, and tears the connection back down.
// Reusing broker.Connection here (rather than a bespoke raw-socket
// codepath) keeps exactly one wire state machine implementation in the
// module.
func (c *Client) fetchMetadataFrom(addr string, topics []string) (*wire.MetadataResponse, error) {
	conn, err := broker.Dial(c.ctx, addr, -1, c.cfg, c.codec, c)
	if err != nil {
		return nil, err
	}
	conn.Start()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	defer cancel()
	return conn.GetMetadata(ctx, topics)
}

// getOrOpenConnection returns the live connection to brokerID, dialing
// one if none exists yet.
func (c *Client) getOrOpenConnection(brokerID int32) (*broker.Connection, error) {
	c.mu.Lock()
	if conn, ok := c.connections[brokerID]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	bi, ok := c.cache.Broker(brokerID)
	if !ok {
		return nil, fmt.Errorf("client: broker %d not present in cached metadata", brokerID)
	}
	addr := fmt.Sprintf("%s:%d", bi.Host, bi.Port)
	conn, err := broker.Dial(c.ctx, addr, brokerID, c.cfg, c.codec, c)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.connections[brokerID]; ok {
		c.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	c.connections[brokerID] = conn
	c.mu.Unlock()

	conn.Start()
	return conn, nil
}
