package contracts

import "time"

// Topic names for the one-way event feed the core publishes. UI layers
// subscribe to these; the core never subscribes back.
const (
	// TopicClassifications carries a ClassificationEvent per classified report.
	TopicClassifications = "graphdoctor.classifications"

	// TopicHistory carries a HistoryEvent per appended history entry.
	TopicHistory = "graphdoctor.history"

	// TopicHealth carries a HealthEvent whenever pipeline status changes.
	TopicHealth = "graphdoctor.health"
)

// ClassificationEvent announces a newly classified error report.
type ClassificationEvent struct {
	Category  string    `json:"category"`
	PatternID string    `json:"pattern_id,omitempty"`
	Matched   bool      `json:"matched"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEvent announces a new entry in the history ring.
type HistoryEvent struct {
	Entry HistoryEntry `json:"entry"`
}

// HealthEvent announces a pipeline status transition.
type HealthEvent struct {
	Status    PipelineStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}
