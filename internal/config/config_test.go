package config

import "testing"

func TestNewFillsDefaultsButLeavesCompressionUnset(t *testing.T) {
	c := New()
	if c.ConsumerQueueBuffers != DefaultConsumerQueueBuffers {
		t.Fatalf("ConsumerQueueBuffers = %d, want default", c.ConsumerQueueBuffers)
	}
	if c.ProducerCompression != CompressionDefault {
		t.Fatal("New() set a ProducerCompression when it should stay unset")
	}
}

func TestValidateRejectsUnsetCompression(t *testing.T) {
	c := New()
	c.ProducerCompression = CompressionSnappy
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() with compression set: %v", err)
	}
	c.ProducerCompression = CompressionDefault
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted CompressionDefault")
	}
}

func TestValidateRejectsTooFewQueueBuffers(t *testing.T) {
	c := New()
	c.ProducerCompression = CompressionNone
	c.ConsumerQueueBuffers = 1
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted ConsumerQueueBuffers < 2")
	}
}

func TestValidateRejectsNonPositiveMaxBytes(t *testing.T) {
	c := New()
	c.ProducerCompression = CompressionNone
	c.ConsumerMaxBytes = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted ConsumerMaxBytes <= 0")
	}
}

func TestValidateRejectsZeroBundleMinRequests(t *testing.T) {
	c := New()
	c.ProducerCompression = CompressionNone
	c.FetcherBundleMinRequests = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted FetcherBundleMinRequests < 1")
	}

	c = New()
	c.ProducerCompression = CompressionNone
	c.PusherBundleMinRequests = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() accepted PusherBundleMinRequests < 1")
	}
}

func TestValidateAcceptsFullyDefaultedConfig(t *testing.T) {
	c := New()
	c.ProducerCompression = CompressionGzip
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() on default+compression config: %v", err)
	}
}

func TestCompressionString(t *testing.T) {
	cases := map[Compression]string{
		CompressionNone:    "none",
		CompressionSnappy:  "snappy",
		CompressionGzip:    "gzip",
		CompressionDefault: "default(invalid)",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("Compression(%d).String() = %q, want %q", c, got, want)
		}
	}
}
