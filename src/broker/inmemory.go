package broker

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryEmitter fans events out to in-process handlers. Used when no
// external brokers are configured and in tests.
type InMemoryEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]func(key string, value []byte) error
	closed   bool
}

// NewInMemoryEmitter creates an emitter with no handlers registered.
func NewInMemoryEmitter() *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make(map[string][]func(key string, value []byte) error),
	}
}

// Handle registers a handler for the specified topic.
func (e *InMemoryEmitter) Handle(topic string, handler func(key string, value []byte) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[topic] = append(e.handlers[topic], handler)
}

// Publish delivers value to every handler registered for topic. Topics with
// no handlers drop events silently, matching fire-and-forget semantics.
func (e *InMemoryEmitter) Publish(ctx context.Context, topic string, key string, value []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return fmt.Errorf("emitter is closed")
	}
	for _, handler := range e.handlers[topic] {
		if err := handler(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the emitter closed; further publishes fail.
func (e *InMemoryEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
