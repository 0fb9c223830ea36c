// Package metrics provides Prometheus-based metrics recording for turn
// resolution and contributor dispatch.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records coordinator-level observability events. A Session
// carries no metrics concern of its own; the coordinator calls out to a
// Recorder at the same points the teacher's LLM middleware instruments a
// provider call.
type Recorder interface {
	ObserveTurn(primaryID string, success bool, duration time.Duration)
	ObserveContributor(contributorID, status string, duration time.Duration)
	IncQuarantine(contributorID, reason string)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	turnsTotal          *prometheus.CounterVec
	turnDuration        *prometheus.HistogramVec
	contributorsTotal   *prometheus.CounterVec
	contributorDuration *prometheus.HistogramVec
	quarantineTotal     *prometheus.CounterVec
}

//nolint:gochecknoglobals // the collectors are registered once on the default registry
var (
	sharedRecorder     *PrometheusRecorder
	sharedRecorderOnce sync.Once
)

// NewPrometheusRecorder returns the process-wide Prometheus-based metrics
// recorder. Its collectors are registered with the default registry on the
// first call; later calls return the same recorder instead of registering
// the metric names a second time.
func NewPrometheusRecorder() *PrometheusRecorder {
	sharedRecorderOnce.Do(func() { sharedRecorder = newPrometheusRecorder() })
	return sharedRecorder
}

func newPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		turnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrt_turns_total",
				Help: "Total number of turns resolved, by primary contributor and outcome",
			},
			[]string{"primary_id", "status"},
		),
		turnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyrt_turn_duration_seconds",
				Help:    "Duration of a full turn resolution, including every dispatched contributor",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"primary_id"},
		),
		contributorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrt_contributor_dispatches_total",
				Help: "Total number of contributor Decide calls, by contributor and outcome",
			},
			[]string{"contributor_id", "status"},
		),
		contributorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyrt_contributor_duration_seconds",
				Help:    "Duration of one contributor's Decide call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"contributor_id"},
		),
		quarantineTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyrt_quarantine_events_total",
				Help: "Total number of secondary contributors quarantined, by reason",
			},
			[]string{"contributor_id", "reason"},
		),
	}
}

// ObserveTurn records the outcome and duration of one full Advance call.
func (p *PrometheusRecorder) ObserveTurn(primaryID string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.turnsTotal.WithLabelValues(primaryID, status).Inc()
	p.turnDuration.WithLabelValues(primaryID).Observe(duration.Seconds())
}

// ObserveContributor records the outcome and duration of one contributor's
// Decide call, whether primary or secondary.
func (p *PrometheusRecorder) ObserveContributor(contributorID, status string, duration time.Duration) {
	p.contributorsTotal.WithLabelValues(contributorID, status).Inc()
	p.contributorDuration.WithLabelValues(contributorID).Observe(duration.Seconds())
}

// IncQuarantine increments the quarantine counter for a secondary
// contributor moved out of the active roster.
func (p *PrometheusRecorder) IncQuarantine(contributorID, reason string) {
	p.quarantineTotal.WithLabelValues(contributorID, reason).Inc()
}

// NoopRecorder discards every observation. A Session created without a
// Recorder does not fall back to it: the coordinator then holds a nil
// recorder and skips each instrumentation call behind a nil check.
type NoopRecorder struct{}

func (NoopRecorder) ObserveTurn(string, bool, time.Duration)       {}
func (NoopRecorder) ObserveContributor(string, string, time.Duration) {}
func (NoopRecorder) IncQuarantine(string, string)                  {}
