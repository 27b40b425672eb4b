// Package metrics exposes Prometheus counters for the audit pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the audit service counters. A nil *Metrics is a no-op so
// tests can run without touching the default registry.
type Metrics struct {
	EventsRecorded   prometheus.Counter
	RecordsDropped   prometheus.Counter
	PolicyViolations prometheus.Counter
	VerifyRuns       prometheus.Counter
	VerifyBreaks     prometheus.Counter
	EventsStreamed   prometheus.Counter
	StreamFailures   prometheus.Counter
}

// New creates and registers all audit counters on the default registry.
// Call once from main.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_events_recorded_total",
			Help: "Audit events successfully appended to the chain.",
		}),
		RecordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_records_dropped_total",
			Help: "Record calls that failed internally and were swallowed.",
		}),
		PolicyViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_policy_violations_total",
			Help: "High-risk actions recorded without a required reason.",
		}),
		VerifyRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_verify_runs_total",
			Help: "Chain verification walks executed.",
		}),
		VerifyBreaks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_verify_breaks_total",
			Help: "Chain verification walks that found a break.",
		}),
		EventsStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_events_streamed_total",
			Help: "Audit events offloaded to Kafka and S3.",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audittrail_stream_failures_total",
			Help: "Offload attempts that failed and will be retried.",
		}),
	}
}

func (m *Metrics) IncRecorded() {
	if m != nil {
		m.EventsRecorded.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.RecordsDropped.Inc()
	}
}

func (m *Metrics) IncPolicyViolation() {
	if m != nil {
		m.PolicyViolations.Inc()
	}
}

func (m *Metrics) IncVerifyRun() {
	if m != nil {
		m.VerifyRuns.Inc()
	}
}

func (m *Metrics) IncVerifyBreak() {
	if m != nil {
		m.VerifyBreaks.Inc()
	}
}

func (m *Metrics) IncStreamed() {
	if m != nil {
		m.EventsStreamed.Inc()
	}
}

func (m *Metrics) IncStreamFailure() {
	if m != nil {
		m.StreamFailures.Inc()
	}
}
