package pipeline

import (
	"context"
	"fmt"
	"time"

	"graphdoctor/src/contracts"
	"graphdoctor/src/nodectx"
)

// Input keys stages require and provide.
const (
	keyReport         = "report"
	keyClassification = "classification"
	keyNodeContext    = "node_context"
)

// Stage is one step of a pipeline pass. Run marks what it produced on the
// job; a stage may decline to provide anything, which skips downstream stages
// that require it.
type Stage struct {
	Name     string
	Requires []string
	Run      func(ctx context.Context, job *Job) error
}

// Job is the mutable state of one report's pass through the stages.
type Job struct {
	Report         contracts.ErrorReport
	Classification contracts.Classification
	NodeContext    contracts.NodeContext
	Timestamp      time.Time

	provided map[string]bool
}

func (j *Job) provide(key string) {
	j.provided[key] = true
}

func (j *Job) has(keys ...string) bool {
	for _, k := range keys {
		if !j.provided[k] {
			return false
		}
	}
	return true
}

func (p *Pipeline) defaultStages() []Stage {
	return []Stage{
		{
			Name:     "classify",
			Requires: []string{keyReport},
			Run: func(ctx context.Context, job *Job) error {
				job.Classification = p.classifier.Classify(job.Report, p.language)
				job.provide(keyClassification)
				return nil
			},
		},
		{
			Name:     "extract_context",
			Requires: []string{keyReport},
			Run: func(ctx context.Context, job *Job) error {
				extracted := nodectx.Extract(job.Report.RawText)
				if extracted.IsZero() {
					return nil
				}
				job.NodeContext = extracted
				job.provide(keyNodeContext)
				return nil
			},
		},
		{
			Name:     "merge_context",
			Requires: []string{keyNodeContext},
			Run: func(ctx context.Context, job *Job) error {
				p.mu.Lock()
				p.lastCtx = p.lastCtx.Merge(job.NodeContext)
				job.NodeContext = p.lastCtx
				p.mu.Unlock()
				return nil
			},
		},
		{
			Name:     "record",
			Requires: []string{keyReport, keyClassification},
			Run: func(ctx context.Context, job *Job) error {
				entry := contracts.HistoryEntry{
					SchemaVersion:  contracts.SchemaVersion,
					Report:         job.Report,
					Classification: job.Classification,
					NodeContext:    job.NodeContext,
					Timestamp:      job.Timestamp,
					Resolution:     contracts.StatusUnresolved,
				}
				if err := p.ring.Append(entry); err != nil {
					if p.archive != nil {
						if aerr := p.archive.SaveQuarantined(ctx, entry, err.Error()); aerr != nil {
							p.log.Error("archiving quarantined entry: %v", aerr)
						}
					}
					return fmt.Errorf("history append: %w", err)
				}
				if p.archive != nil {
					if err := p.archive.SaveEntry(ctx, entry); err != nil {
						// The ring already holds the entry; archive loss is
						// degradation, not failure.
						p.log.Error("archiving entry: %v", err)
					}
				}
				p.events.History(ctx, entry)
				return nil
			},
		},
		{
			Name:     "emit",
			Requires: []string{keyClassification},
			Run: func(ctx context.Context, job *Job) error {
				p.events.Classification(ctx, job.Classification, job.Timestamp)
				return nil
			},
		},
	}
}
