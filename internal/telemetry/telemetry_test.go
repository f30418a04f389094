package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordUserTurnCompletionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordUserTurnCompletion("ok", 250*time.Millisecond)

	metric := &dto.Metric{}
	if err := r.TurnsCompleted.WithLabelValues("ok").(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Fatalf("expected counter value 1, got %v", metric.Counter.GetValue())
	}
}

func TestRecordCompactionAndRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.RecordCompaction()
	r.RecordRetry("backend_transient")

	m := &dto.Metric{}
	if err := r.CompactionEvents.Write(m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.Counter.GetValue() != 1 {
		t.Fatalf("expected 1 compaction event, got %v", m.Counter.GetValue())
	}

	retry := &dto.Metric{}
	if err := r.RetryAttempts.WithLabelValues("backend_transient").(prometheus.Counter).Write(retry); err != nil {
		t.Fatalf("write: %v", err)
	}
	if retry.Counter.GetValue() != 1 {
		t.Fatalf("expected 1 retry attempt, got %v", retry.Counter.GetValue())
	}
}
