// Package contracts defines the shared data types exchanged between the
// diagnostics pipeline stages and the surfaces (HTTP, MCP) built on top of it.
package contracts

import "time"

// SchemaVersion is stamped onto every pipeline output. Outputs carrying an
// unknown version are quarantined instead of entering the active history.
const SchemaVersion = 1

// Stream identifies which host stream a log line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogLine is a single raw line from the host console. Ephemeral; consumed by
// the traceback assembler and never persisted.
type LogLine struct {
	Text      string    `json:"text"`
	Stream    Stream    `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorReport is a group of consecutive log lines assembled into one failure
// report. Complete is false when the report was flushed by timeout or buffer
// overflow before the terminating heuristic fired. Once handed off by the
// assembler a report is immutable.
type ErrorReport struct {
	RawText  string    `json:"raw_text"`
	StartTS  time.Time `json:"start_ts"`
	EndTS    time.Time `json:"end_ts"`
	Complete bool      `json:"complete"`
}

// ErrorPattern is one entry of the failure-signature registry.
// Priority is constrained to [50,95]; higher priorities are tried first.
// Translations maps a language code to the suggestion text for that language;
// "en" is the required fallback.
type ErrorPattern struct {
	ID           string            `json:"id"`
	Regex        string            `json:"regex"`
	Category     string            `json:"category"`
	Priority     int               `json:"priority"`
	Translations map[string]string `json:"translations"`
}

// CategoryUnclassified is returned when no pattern matches a report.
const CategoryUnclassified = "unclassified"

// Classification is the result of matching an error report against the
// pattern registry.
type Classification struct {
	PatternID  string `json:"pattern_id,omitempty"`
	Category   string `json:"category"`
	Suggestion string `json:"suggestion_text"`
	Matched    bool   `json:"matched"`
}

// NodeContext identifies the workflow node a failure originated from.
// Every field is optional; absence is expected. Consumers merge updates
// rather than overwrite, so a later extraction with fewer fields never
// erases previously known fields.
type NodeContext struct {
	NodeID         string `json:"node_id,omitempty"`
	NodeName       string `json:"node_name,omitempty"`
	NodeClass      string `json:"node_class,omitempty"`
	CustomNodePath string `json:"custom_node_path,omitempty"`
}

// IsZero reports whether no context field is set.
func (n NodeContext) IsZero() bool {
	return n.NodeID == "" && n.NodeName == "" && n.NodeClass == "" && n.CustomNodePath == ""
}

// Merge returns n overlaid with the non-empty fields of update. Empty fields
// in update leave the corresponding field of n untouched.
func (n NodeContext) Merge(update NodeContext) NodeContext {
	out := n
	if update.NodeID != "" {
		out.NodeID = update.NodeID
	}
	if update.NodeName != "" {
		out.NodeName = update.NodeName
	}
	if update.NodeClass != "" {
		out.NodeClass = update.NodeClass
	}
	if update.CustomNodePath != "" {
		out.CustomNodePath = update.CustomNodePath
	}
	return out
}

// ResolutionStatus is the triage state of a history entry.
type ResolutionStatus string

const (
	StatusUnresolved ResolutionStatus = "unresolved"
	StatusResolved   ResolutionStatus = "resolved"
	StatusIgnored    ResolutionStatus = "ignored"
)

// ValidStatus reports whether s is one of the recognized resolution states.
func ValidStatus(s ResolutionStatus) bool {
	switch s {
	case StatusUnresolved, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// HistoryEntry is one classified failure in the bounded history ring.
// Immutable once appended except for Resolution, which the ring updates in
// place by timestamp key.
type HistoryEntry struct {
	SchemaVersion  int              `json:"schema_version"`
	Report         ErrorReport      `json:"error_report"`
	Classification Classification   `json:"classification"`
	NodeContext    NodeContext      `json:"node_context"`
	Timestamp      time.Time        `json:"timestamp"`
	Resolution     ResolutionStatus `json:"resolution_status"`
}

// SanitizationResult is the per-call metadata the sanitization funnel attaches
// to outbound payloads.
type SanitizationResult struct {
	Text            string `json:"text"`
	PrivacyMode     string `json:"privacy_mode"`
	PIIFound        bool   `json:"pii_found"`
	OriginalLength  int    `json:"original_length"`
	SanitizedLength int    `json:"sanitized_length"`
}

// DispatchAttempt records one try of an outbound network call. Internal
// bookkeeping for retry decisions; only aggregate counts are exposed.
type DispatchAttempt struct {
	Attempt int           `json:"attempt_number"`
	Status  int           `json:"status"`
	Latency time.Duration `json:"latency_ms"`
	Err     string        `json:"error,omitempty"`
}

// PipelineStatus summarizes whether every stage of the last pipeline pass ran.
type PipelineStatus string

const (
	PipelineOK       PipelineStatus = "ok"
	PipelineDegraded PipelineStatus = "degraded"
)
