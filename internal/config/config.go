// Package config holds the tunables enumerated in spec.md §6. Defaults
// are filled in by New the way the teacher's storage.LogConfig /
// core.TopicConfig constructors backfill zero fields, rather than via a
// struct tag / reflection based defaulting library — this module never
// needed one and the teacher's own repo doesn't reach for one either.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Compression identifies the codec a Producer uses for a message set.
type Compression byte

const (
	// CompressionDefault is the zero value and is never a valid
	// configuration — the caller must pick a codec explicitly
	// (spec.md §6: "producerCompression (must not be Default)").
	CompressionDefault Compression = iota
	CompressionNone
	CompressionSnappy
	CompressionGzip
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	default:
		return "default(invalid)"
	}
}

// Config is the configuration surface described in spec.md §6.
type Config struct {
	ClientID string

	// ConsumerMaxBytes bounds the size of a single QueueBuffer.
	ConsumerMaxBytes int
	// ConsumerQueueBuffers is the number of preallocated buffers per
	// partition; must be >= 2 (one to read from, one to fill next).
	ConsumerQueueBuffers int

	// ProducerCompression must be set explicitly; CompressionDefault
	// fails validation.
	ProducerCompression Compression

	FetcherBundleMinRequests int
	FetcherBundleMaxWaitTime time.Duration

	PusherBundleMinRequests int
	PusherBundleMaxWaitTime time.Duration

	// MetadataRefreshRetryCount == 0 means retry forever.
	MetadataRefreshRetryCount   int
	MetadataRefreshRetryTimeout time.Duration

	// LeaderElectionRetryCount == 0 means retry forever.
	LeaderElectionRetryCount   int
	LeaderElectionRetryTimeout time.Duration

	SerializerChunkSize   int
	DeserializerChunkSize int

	// DialTimeout bounds each TCP connect attempt to a broker.
	DialTimeout time.Duration
}

// Default values, chosen where the spec is silent by following the
// teacher's own magnitudes for analogous knobs (4KiB bufio buffers)
// and otherwise picking round numbers.
const (
	DefaultConsumerMaxBytes            = 1 << 20 // 1MiB per buffer
	DefaultConsumerQueueBuffers        = 2
	DefaultFetcherBundleMinRequests    = 1
	DefaultFetcherBundleMaxWaitTime    = 100 * time.Millisecond
	DefaultPusherBundleMinRequests     = 1
	DefaultPusherBundleMaxWaitTime     = 100 * time.Millisecond
	DefaultMetadataRefreshRetryCount   = 5
	DefaultMetadataRefreshRetryTimeout = 500 * time.Millisecond
	DefaultLeaderElectionRetryCount    = 10
	DefaultLeaderElectionRetryTimeout  = 250 * time.Millisecond
	DefaultSerializerChunkSize         = 4 * 1024
	DefaultDeserializerChunkSize       = 4 * 1024
	DefaultDialTimeout                 = 10 * time.Second
	DefaultClientID                    = "kcore"
)

// New returns a Config with all unset (zero-valued) fields backfilled
// with defaults. ProducerCompression is deliberately never defaulted:
// callers must choose a real codec.
func New() Config {
	return Config{
		ClientID:                    DefaultClientID,
		ConsumerMaxBytes:            DefaultConsumerMaxBytes,
		ConsumerQueueBuffers:        DefaultConsumerQueueBuffers,
		ProducerCompression:         CompressionDefault,
		FetcherBundleMinRequests:    DefaultFetcherBundleMinRequests,
		FetcherBundleMaxWaitTime:    DefaultFetcherBundleMaxWaitTime,
		PusherBundleMinRequests:     DefaultPusherBundleMinRequests,
		PusherBundleMaxWaitTime:     DefaultPusherBundleMaxWaitTime,
		MetadataRefreshRetryCount:   DefaultMetadataRefreshRetryCount,
		MetadataRefreshRetryTimeout: DefaultMetadataRefreshRetryTimeout,
		LeaderElectionRetryCount:    DefaultLeaderElectionRetryCount,
		LeaderElectionRetryTimeout:  DefaultLeaderElectionRetryTimeout,
		SerializerChunkSize:         DefaultSerializerChunkSize,
		DeserializerChunkSize:       DefaultDeserializerChunkSize,
		DialTimeout:                 DefaultDialTimeout,
	}
}

// Validate checks the invariants spec.md calls out explicitly.
func (c Config) Validate() error {
	if c.ConsumerQueueBuffers < 2 {
		return fmt.Errorf("config: consumerQueueBuffers must be >= 2, got %d", c.ConsumerQueueBuffers)
	}
	if c.ConsumerMaxBytes <= 0 {
		return fmt.Errorf("config: consumerMaxBytes must be > 0, got %d", c.ConsumerMaxBytes)
	}
	if c.ProducerCompression == CompressionDefault {
		return errors.New("config: producerCompression must not be Default")
	}
	if c.FetcherBundleMinRequests < 1 {
		return errors.New("config: fetcherBundleMinRequests must be >= 1")
	}
	if c.PusherBundleMinRequests < 1 {
		return errors.New("config: pusherBundleMinRequests must be >= 1")
	}
	return nil
}
