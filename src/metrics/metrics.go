// Package metrics exposes graphdoctor's health counters. Counters are kept in
// atomics so the health endpoint can read them directly; Prometheus collectors
// mirror the same values for the /metrics exposition.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "graphdoctor"

// Metrics holds the process-wide diagnostic counters.
type Metrics struct {
	droppedMessages  atomic.Int64
	ssrfBlocked      atomic.Int64
	dispatchAttempts atomic.Int64
	pipelineDegraded atomic.Bool
}

// New creates the metric set and registers its Prometheus collectors on reg.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Log queue entries shed under backpressure.",
		}, func() float64 { return float64(m.droppedMessages.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssrf_blocked_total",
			Help:      "Outbound dispatches rejected by SSRF containment.",
		}, func() float64 { return float64(m.ssrfBlocked.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Individual outbound request attempts, including retries.",
		}, func() float64 { return float64(m.dispatchAttempts.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_degraded",
			Help:      "1 when the last pipeline pass skipped a stage, else 0.",
		}, func() float64 {
			if m.pipelineDegraded.Load() {
				return 1
			}
			return 0
		}),
	)

	return m
}

func (m *Metrics) IncDropped()          { m.droppedMessages.Add(1) }
func (m *Metrics) IncSSRFBlocked()      { m.ssrfBlocked.Add(1) }
func (m *Metrics) IncDispatchAttempts() { m.dispatchAttempts.Add(1) }

func (m *Metrics) SetDegraded(degraded bool) { m.pipelineDegraded.Store(degraded) }

func (m *Metrics) DroppedMessages() int64  { return m.droppedMessages.Load() }
func (m *Metrics) SSRFBlocked() int64      { return m.ssrfBlocked.Load() }
func (m *Metrics) DispatchAttempts() int64 { return m.dispatchAttempts.Load() }
func (m *Metrics) Degraded() bool          { return m.pipelineDegraded.Load() }
