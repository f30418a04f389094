// Package telemetry emits local metrics and spans for the engine.
// Transport of telemetry off-box is explicitly out of scope (spec.md §1);
// this package only maintains in-process Prometheus collectors and
// OpenTelemetry spans that a collaborator can scrape/export, per
// SPEC_FULL.md's Domain Stack.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var Tracer = otel.Tracer("github.com/corvid-labs/qcore/internal/engine")

// Recorder holds the engine's Prometheus collectors. A zero-value Recorder
// is not usable; construct with NewRecorder.
type Recorder struct {
	TurnsCompleted   *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	ToolLatency      *prometheus.HistogramVec
	CompactionEvents prometheus.Counter
	RetryAttempts    *prometheus.CounterVec
}

// NewRecorder constructs and registers the engine's collectors against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across package-level test runs.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		TurnsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcore",
			Subsystem: "engine",
			Name:      "turns_completed_total",
			Help:      "User turns completed, labeled by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qcore",
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of one user turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qcore",
			Subsystem: "tools",
			Name:      "execution_seconds",
			Help:      "Tool execution latency, labeled by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		CompactionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qcore",
			Subsystem: "engine",
			Name:      "compaction_events_total",
			Help:      "Number of times history compaction fired.",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcore",
			Subsystem: "engine",
			Name:      "backend_retry_attempts_total",
			Help:      "Backend retry attempts, labeled by failure mode.",
		}, []string{"mode"}),
	}
	reg.MustRegister(r.TurnsCompleted, r.TurnDuration, r.ToolLatency, r.CompactionEvents, r.RetryAttempts)
	return r
}

// RecordToolLatency observes one tool invocation's duration.
func (r *Recorder) RecordToolLatency(tool string, d time.Duration) {
	r.ToolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordUserTurnCompletion emits the turn-completion event named in
// spec.md §4.10 step 8, labeled by outcome ("ok", "error" or "cancelled").
func (r *Recorder) RecordUserTurnCompletion(outcome string, d time.Duration) {
	r.TurnsCompleted.WithLabelValues(outcome).Inc()
	r.TurnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCompaction notes that history compaction fired this turn.
func (r *Recorder) RecordCompaction() { r.CompactionEvents.Inc() }

// RecordRetry notes one backend retry attempt for the given failure mode.
func (r *Recorder) RecordRetry(mode string) { r.RetryAttempts.WithLabelValues(mode).Inc() }

// StartSpan is a small convenience wrapper so callers don't need to import
// both otel and otel/trace directly.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name)
}
