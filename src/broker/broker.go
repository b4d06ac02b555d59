// Package broker publishes diagnostic events to downstream consumers. The
// pipeline only ever publishes; nothing in this process consumes its own
// events, so the emitter surface is deliberately one-way.
package broker

import "context"

// Emitter sends an event to a topic. Key is used for partition assignment by
// Kafka-compatible backends and ignored by the in-memory emitter.
type Emitter interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}
