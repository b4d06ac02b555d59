// Package service is the shared query and escalation surface behind the HTTP
// API and the MCP server. Both front ends call through here so behavior never
// diverges between them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"graphdoctor/src/capture"
	"graphdoctor/src/compose"
	"graphdoctor/src/contracts"
	"graphdoctor/src/dispatch"
	"graphdoctor/src/history"
	"graphdoctor/src/logger"
	"graphdoctor/src/metrics"
	"graphdoctor/src/nodectx"
	"graphdoctor/src/patterns"
	"graphdoctor/src/pipeline"
	"graphdoctor/src/sanitize"
)

// Archive is the optional persistent history backend behind the ring. Status
// updates propagate to it and history reads fall back to it once the ring
// window is exhausted.
type Archive interface {
	RecentEntries(ctx context.Context, limit int) ([]contracts.HistoryEntry, error)
	UpdateStatus(ctx context.Context, ts time.Time, status contracts.ResolutionStatus) error
}

// Service exposes diagnostics state and on-demand model escalation.
type Service struct {
	ring       *history.Ring
	archive    Archive // nil when no DSN configured
	pipe       *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	composer   *compose.Composer
	classifier *patterns.Classifier
	queue      *capture.Queue
	metrics    *metrics.Metrics
	log        logger.Logger

	mode     sanitize.Mode
	language string
	profile  compose.Profile
}

// New wires the service. dispatcher may be nil when no provider is
// configured; escalation then fails with a clear error while local queries
// keep working.
func New(
	ring *history.Ring,
	archive Archive,
	pipe *pipeline.Pipeline,
	dispatcher *dispatch.Dispatcher,
	composer *compose.Composer,
	classifier *patterns.Classifier,
	queue *capture.Queue,
	m *metrics.Metrics,
	log logger.Logger,
	mode sanitize.Mode,
	language string,
	profile compose.Profile,
) *Service {
	return &Service{
		ring:       ring,
		archive:    archive,
		pipe:       pipe,
		dispatcher: dispatcher,
		composer:   composer,
		classifier: classifier,
		queue:      queue,
		metrics:    m,
		log:        log,
		mode:       mode,
		language:   language,
		profile:    profile,
	}
}

// RecentFailures returns the newest n history entries, oldest first. When the
// ring holds fewer than n entries and an archive is configured the read falls
// back to archived rows, which cover everything the ring has evicted.
func (s *Service) RecentFailures(ctx context.Context, n int) []contracts.HistoryEntry {
	entries := s.ring.Recent(n)
	if len(entries) >= n || s.archive == nil {
		return entries
	}
	archived, err := s.archive.RecentEntries(ctx, n)
	if err != nil {
		s.log.Error("reading archive: %v", err)
		return entries
	}
	if len(archived) <= len(entries) {
		return entries
	}
	// Archive rows come back newest first; callers expect oldest first.
	for i, j := 0, len(archived)-1; i < j; i, j = i+1, j-1 {
		archived[i], archived[j] = archived[j], archived[i]
	}
	return archived
}

// UpdateStatus marks the resolution of the entry keyed by ts in the ring and,
// when configured, the archive. An entry already evicted from the ring can
// still be resolved through its archived row.
func (s *Service) UpdateStatus(ctx context.Context, ts time.Time, status contracts.ResolutionStatus) error {
	ringErr := s.ring.UpdateStatus(ts, status)
	if s.archive == nil {
		return ringErr
	}
	if ringErr != nil && !errors.Is(ringErr, history.ErrNotFound) {
		return ringErr
	}
	archErr := s.archive.UpdateStatus(ctx, ts, status)
	if ringErr == nil {
		if archErr != nil && !errors.Is(archErr, history.ErrNotFound) {
			s.log.Error("archive status update: %v", archErr)
		}
		return nil
	}
	return archErr
}

// Health is the live counter snapshot the health endpoint and MCP tool share.
type Health struct {
	PipelineStatus   contracts.PipelineStatus `json:"pipeline_status"`
	DroppedMessages  int64                    `json:"dropped_messages"`
	SSRFBlocked      int64                    `json:"ssrf_blocked_total"`
	DispatchAttempts int64                    `json:"dispatch_attempts_total"`
	QueueDepth       int                      `json:"queue_depth"`
	HistorySize      int                      `json:"history_size"`
	Quarantined      int                      `json:"quarantined"`
}

// CurrentHealth snapshots the pipeline counters.
func (s *Service) CurrentHealth() Health {
	return Health{
		PipelineStatus:   s.pipe.Status(),
		DroppedMessages:  s.metrics.DroppedMessages(),
		SSRFBlocked:      s.metrics.SSRFBlocked(),
		DispatchAttempts: s.metrics.DispatchAttempts(),
		QueueDepth:       s.queue.Len(),
		HistorySize:      s.ring.Len(),
		Quarantined:      s.ring.Quarantined(),
	}
}

// Analysis is the result of one escalation.
type Analysis struct {
	RequestID      string                       `json:"request_id"`
	Classification contracts.Classification     `json:"classification"`
	NodeContext    contracts.NodeContext        `json:"node_context,omitempty"`
	Reply          string                       `json:"reply,omitempty"`
	Sanitization   contracts.SanitizationResult `json:"sanitization"`
}

// ErrNoDispatcher is returned when escalation is requested but no provider is
// configured.
var ErrNoDispatcher = fmt.Errorf("no model endpoint configured")

// AnalyzeOptions control escalation behavior for one request.
type AnalyzeOptions struct {
	// Escalate sends the composed, sanitized context to the model endpoint.
	Escalate bool
	// NoWait fails with ErrRateLimited when the dispatcher has no free slot
	// or rate token, instead of waiting for one.
	NoWait bool
}

// Analyze classifies text locally and, when opts.Escalate is set, sends the
// composed and sanitized context to the model for a one-shot explanation.
func (s *Service) Analyze(ctx context.Context, text string, opts AnalyzeOptions) (Analysis, error) {
	report := contracts.ErrorReport{RawText: text, Complete: true}
	result := Analysis{
		RequestID:      uuid.NewString(),
		Classification: s.classifier.Classify(report, s.language),
	}
	result.NodeContext = s.pipe.LastContext().Merge(nodectx.Extract(text))

	if !opts.Escalate {
		return result, nil
	}
	if s.dispatcher == nil {
		return result, ErrNoDispatcher
	}

	clean := s.prepare(report, result.Classification, result.NodeContext, nil)
	result.Sanitization = clean.Result()

	var reply string
	var err error
	if opts.NoWait {
		reply, err = s.dispatcher.TryAnalyze(ctx, clean)
	} else {
		reply, err = s.dispatcher.Analyze(ctx, clean)
	}
	if err != nil {
		return result, err
	}
	result.Reply = reply
	return result, nil
}

// Chat streams a model reply to a conversation, invoking onDelta per
// fragment. The newest user turn drives classification and node context;
// earlier turns ride along in the composed context until the budget trims
// them, oldest first.
func (s *Service) Chat(ctx context.Context, msgs []compose.Message, onDelta func(string) error) error {
	if s.dispatcher == nil {
		return ErrNoDispatcher
	}
	if len(msgs) == 0 {
		return fmt.Errorf("empty conversation")
	}

	text := latestUserContent(msgs)
	report := contracts.ErrorReport{RawText: text, Complete: true}
	cls := s.classifier.Classify(report, s.language)
	nodeCtx := s.pipe.LastContext().Merge(nodectx.Extract(text))

	clean := s.prepare(report, cls, nodeCtx, msgs[:len(msgs)-1])
	return s.dispatcher.Stream(ctx, clean, onDelta)
}

// latestUserContent returns the content of the newest user turn, falling back
// to the last turn of any role.
func latestUserContent(msgs []compose.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return msgs[len(msgs)-1].Content
}

// Verify probes credentials. With a non-empty baseURL the candidate endpoint
// is probed through a transient client, so credentials can be tested before
// they land in config; otherwise the configured dispatcher is probed.
func (s *Service) Verify(ctx context.Context, baseURL, apiKey string, isLocal bool) error {
	if baseURL != "" {
		return dispatch.Verify(ctx, baseURL, apiKey, isLocal)
	}
	if s.dispatcher == nil {
		return ErrNoDispatcher
	}
	return s.dispatcher.VerifyKey(ctx)
}

// EndpointLocal reports whether the configured provider endpoint is local.
// It is false when no dispatcher is configured.
func (s *Service) EndpointLocal() bool {
	return s.dispatcher != nil && s.dispatcher.Local()
}

// Models lists model IDs. With a non-empty baseURL the candidate endpoint is
// queried instead of the configured one.
func (s *Service) Models(ctx context.Context, baseURL, apiKey string, isLocal bool) ([]string, error) {
	if baseURL != "" {
		return dispatch.Models(ctx, baseURL, apiKey, isLocal)
	}
	if s.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	return s.dispatcher.ListModels(ctx)
}

// prepare is the single spot where outbound text is composed and pushed
// through the sanitization funnel.
func (s *Service) prepare(report contracts.ErrorReport, cls contracts.Classification, nodeCtx contracts.NodeContext, msgs []compose.Message) sanitize.Clean {
	bounded := s.composer.Compose(compose.Input{
		Report:         report,
		NodeContext:    nodeCtx,
		Classification: cls,
		History:        s.ring.Recent(s.profile.MaxHistory),
		Messages:       msgs,
	}, s.profile)
	if bounded.Truncated {
		s.log.Debug("composed context truncated to %d chars", len(bounded.Text))
	}
	return sanitize.Sanitize(bounded.Text, s.mode)
}
