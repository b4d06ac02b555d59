package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaEmitter publishes events to a Kafka-compatible cluster using franz-go.
// Publish-only: this process never consumes its own topics.
type KafkaEmitter struct {
	client *kgo.Client
	mu     sync.RWMutex
	closed bool
}

// NewKafkaEmitter creates an emitter connected to the given seed brokers
// (e.g., ["localhost:19092"]).
func NewKafkaEmitter(brokers []string) (*KafkaEmitter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &KafkaEmitter{client: client}, nil
}

// Publish sends a message to topic with the specified partitioning key.
// Synchronous so the caller learns about delivery failures.
func (e *KafkaEmitter) Publish(ctx context.Context, topic string, key string, value []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return fmt.Errorf("emitter is closed")
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	results := e.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Close flushes and shuts down the producer.
func (e *KafkaEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.client.Close()
	return nil
}
