// Command example is a runnable demonstration of kcore's public API:
// it produces a handful of messages to one partition and reads them
// back, exercising the full connection-manager → bundler → broker →
// buffer pipeline end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kcore/internal/config"
	"kcore/internal/log"
	"kcore/pkg/kclient"
)

func main() {
	var (
		brokerAddr = flag.String("broker", "127.0.0.1:9092", "bootstrap broker address")
		topic      = flag.String("topic", "example", "topic to produce to and consume from")
		partition  = flag.Int("partition", 0, "partition id")
		count      = flag.Int("count", 5, "number of messages to produce")
	)
	flag.Parse()

	cfg := config.New()
	cfg.ProducerCompression = config.CompressionSnappy

	c, err := kclient.New([]string{*brokerAddr}, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kcore: new client:", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.RefreshMetadata(); err != nil {
		fmt.Fprintln(os.Stderr, "kcore: refresh metadata:", err)
		os.Exit(1)
	}

	prod := c.NewProducer(*topic, int32(*partition))
	defer prod.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < *count; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		value := []byte(fmt.Sprintf("hello from kcore #%d", i))
		if err := prod.WriteMessage(ctx, key, value); err != nil {
			log.Error("produce message %d: %v", i, err)
			os.Exit(1)
		}
	}
	log.Info("produced %d messages to %s/%d", *count, *topic, *partition)

	cons := c.NewConsumer(*topic, int32(*partition), kclient.OffsetEarliest)
	defer cons.Close()

	for i := 0; i < *count; i++ {
		msg, err := cons.NextMessage(ctx)
		if err != nil {
			log.Error("consume message %d: %v", i, err)
			os.Exit(1)
		}
		fmt.Printf("offset=%d key=%s value=%s\n", msg.Offset, msg.Key, msg.Value)
	}
}
