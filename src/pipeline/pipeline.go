// Package pipeline orchestrates the diagnosis flow: assembled error reports
// are classified, enriched with node context, recorded in history, and
// announced on the event feed. Stages declare what they need and what they
// produce; a stage whose inputs are missing is skipped and the pass is marked
// degraded rather than failed.
package pipeline

import (
	"context"
	"sync"
	"time"

	"graphdoctor/src/broker"
	"graphdoctor/src/capture"
	"graphdoctor/src/contracts"
	"graphdoctor/src/history"
	"graphdoctor/src/logger"
	"graphdoctor/src/metrics"
	"graphdoctor/src/patterns"
)

// Archiver is the optional persistent backend behind the history ring.
type Archiver interface {
	SaveEntry(ctx context.Context, entry contracts.HistoryEntry) error
	SaveQuarantined(ctx context.Context, entry contracts.HistoryEntry, reason string) error
}

// Pipeline drains the capture queue and runs each report through the stage
// list. One worker processes reports sequentially, preserving capture order.
type Pipeline struct {
	queue      *capture.Queue
	classifier *patterns.Classifier
	ring       *history.Ring
	archive    Archiver // nil when no DSN configured
	events     *broker.Events
	metrics    *metrics.Metrics
	log        logger.Logger
	language   string

	stages []Stage

	mu      sync.RWMutex
	status  contracts.PipelineStatus
	lastCtx contracts.NodeContext // last known node context, merged across passes
}

// New assembles a pipeline. archive may be nil.
func New(
	queue *capture.Queue,
	classifier *patterns.Classifier,
	ring *history.Ring,
	archive Archiver,
	events *broker.Events,
	m *metrics.Metrics,
	log logger.Logger,
	language string,
) *Pipeline {
	p := &Pipeline{
		queue:      queue,
		classifier: classifier,
		ring:       ring,
		archive:    archive,
		events:     events,
		metrics:    m,
		log:        log,
		language:   language,
		status:     contracts.PipelineOK,
	}
	p.stages = p.defaultStages()
	return p
}

// Run drains the queue until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			return err
		}
		p.process(ctx, item.Report)
	}
}

// Status returns the outcome of the most recent pass.
func (p *Pipeline) Status() contracts.PipelineStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// LastContext returns the most recent merged node context.
func (p *Pipeline) LastContext() contracts.NodeContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCtx
}

// process runs one report through every stage. Stage errors and skips
// degrade the pass; they never abort it, so a single bad stage cannot stop
// diagnosis of subsequent reports.
func (p *Pipeline) process(ctx context.Context, report contracts.ErrorReport) {
	job := &Job{
		Report:    report,
		Timestamp: time.Now(),
		provided:  map[string]bool{keyReport: true},
	}

	degraded := false
	for _, stage := range p.stages {
		if !job.has(stage.Requires...) {
			p.log.Debug("stage %s skipped: missing inputs", stage.Name)
			degraded = true
			continue
		}
		if err := stage.Run(ctx, job); err != nil {
			p.log.Error("stage %s: %v", stage.Name, err)
			degraded = true
		}
	}

	p.setStatus(ctx, degraded)
}

func (p *Pipeline) setStatus(ctx context.Context, degraded bool) {
	status := contracts.PipelineOK
	if degraded {
		status = contracts.PipelineDegraded
	}

	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()

	p.metrics.SetDegraded(degraded)
	if changed {
		p.events.Health(ctx, status)
	}
}
