package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for matching runs and the award workflow.
type Metrics struct {
	// Scan runs by outcome: completed, failed, skipped
	ScanRuns *prometheus.CounterVec

	ScanDuration prometheus.Histogram

	MatchesCreated prometheus.Counter

	// Workflow transitions by name (apply, award, fund, reject) and outcome
	Transitions *prometheus.CounterVec

	NotificationFailures *prometheus.CounterVec
}

// New registers the metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScanRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_match_scan_runs_total",
			Help: "Matching scheduler runs by outcome",
		}, []string{"outcome"}),

		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recovery_match_scan_duration_seconds",
			Help:    "Duration of a full matching scan",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),

		MatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "recovery_match_matches_created_total",
			Help: "Matches created by the scheduler",
		}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_match_workflow_transitions_total",
			Help: "Award workflow transitions by name and outcome",
		}, []string{"transition", "outcome"}),

		NotificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_match_notification_failures_total",
			Help: "Notifications that failed to send, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveScan(outcome string, d time.Duration, created int) {
	if m == nil {
		return
	}
	m.ScanRuns.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.ScanDuration.Observe(d.Seconds())
	}
	if created > 0 {
		m.MatchesCreated.Add(float64(created))
	}
}

func (m *Metrics) IncrementTransition(transition, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(transition, outcome).Inc()
	}
}

func (m *Metrics) IncrementNotificationFailure(kind string) {
	if m != nil {
		m.NotificationFailures.WithLabelValues(kind).Inc()
	}
}
