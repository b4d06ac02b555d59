package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"graphdoctor/src/contracts"
	"graphdoctor/src/logger"
)

// Events is the typed publishing surface the pipeline uses. Failures to emit
// are logged, never propagated: event delivery must not block or fail
// diagnosis.
type Events struct {
	emitter Emitter
	log     logger.Logger
}

// NewEvents wraps emitter in the typed surface.
func NewEvents(emitter Emitter, log logger.Logger) *Events {
	return &Events{emitter: emitter, log: log}
}

// Classification announces a classified report. Keyed by category so
// consumers interested in one failure class read a single partition.
func (e *Events) Classification(ctx context.Context, cls contracts.Classification, ts time.Time) {
	e.emit(ctx, contracts.TopicClassifications, cls.Category, contracts.ClassificationEvent{
		Category:  cls.Category,
		PatternID: cls.PatternID,
		Matched:   cls.Matched,
		Timestamp: ts,
	})
}

// History announces a newly appended history entry.
func (e *Events) History(ctx context.Context, entry contracts.HistoryEntry) {
	e.emit(ctx, contracts.TopicHistory, entry.Classification.Category, contracts.HistoryEvent{Entry: entry})
}

// Health announces a pipeline status transition.
func (e *Events) Health(ctx context.Context, status contracts.PipelineStatus) {
	e.emit(ctx, contracts.TopicHealth, string(status), contracts.HealthEvent{
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (e *Events) emit(ctx context.Context, topic, key string, event any) {
	value, err := json.Marshal(event)
	if err != nil {
		e.log.Error("marshaling %s event: %v", topic, err)
		return
	}
	if err := e.emitter.Publish(ctx, topic, key, value); err != nil {
		e.log.Error("publishing to %s: %v", topic, err)
	}
}

// Close shuts the underlying emitter down.
func (e *Events) Close() error {
	if err := e.emitter.Close(); err != nil {
		return fmt.Errorf("closing emitter: %w", err)
	}
	return nil
}
