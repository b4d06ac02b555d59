package capture

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"graphdoctor/src/contracts"
	"graphdoctor/src/logger"
	"graphdoctor/src/metrics"
)

// Sink is the entry point for the host's console stream. Write is safe to
// call from any host thread and never blocks beyond the internal mutex:
// finished reports are handed to the bounded queue, which sheds load instead
// of stalling the producer.
type Sink struct {
	mu        sync.Mutex
	assembler *Assembler
	queue     *Queue
	metrics   *metrics.Metrics
	log       logger.Logger
}

// NewSink wires an assembler and delivery queue.
func NewSink(assembler *Assembler, queue *Queue, m *metrics.Metrics, log logger.Logger) *Sink {
	return &Sink{assembler: assembler, queue: queue, metrics: m, log: log}
}

// Write ingests one raw console line. ANSI escape sequences are stripped
// before assembly so pattern matching sees plain text.
func (s *Sink) Write(stream contracts.Stream, text string) {
	line := contracts.LogLine{
		Text:      ansi.Strip(text),
		Stream:    stream,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	report := s.assembler.Ingest(line)
	s.mu.Unlock()

	if report != nil {
		s.enqueue(*report)
	}
}

// Run drives the assembler's timeout policy: a report left incomplete for
// longer than the traceback timeout is flushed as a partial capture. Returns
// when ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			report := s.assembler.FlushStale(now)
			s.mu.Unlock()
			if report != nil {
				s.enqueue(*report)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) enqueue(report contracts.ErrorReport) {
	priority := PriorityNormal
	if !report.Complete {
		priority = PriorityLow
	}
	if dropped := s.queue.Push(Item{Report: report, Priority: priority}); dropped {
		s.metrics.IncDropped()
		s.log.Debug("[Capture] delivery queue full, shed one report")
	}
}
