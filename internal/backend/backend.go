// Package backend implements the Backend Transport Abstraction (C1): a
// single polymorphic contract over model providers, with Primary (Anthropic)
// and AlternativeProvider (OpenAI-compatible) variants, per spec.md §4.1.
//
// Grounded on internal/agent/provider_types.go's LLMProvider interface and
// internal/agent/providers/anthropic.go's retry/stream handling.
package backend

import (
	"context"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/streamparse"
)

// FailureMode enumerates the transport-level failure kinds from spec.md §4.1.
type FailureMode string

const (
	FailureUnauthenticated  FailureMode = "unauthenticated"
	FailureQuotaExceeded    FailureMode = "quota_exceeded"
	FailureContextOverflow  FailureMode = "context_overflow"
	FailureTransport        FailureMode = "transport"
	FailureModelStop        FailureMode = "model_stop"
)

// TransportError wraps a backend failure with its classified FailureMode so
// C10 can decide whether to retry (Transport is the only transient one).
type TransportError struct {
	Mode  FailureMode
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return string(e.Mode) + ": " + e.Cause.Error()
	}
	return string(e.Mode)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable reports whether the C10 retry loop should retry this failure.
func (e *TransportError) Retryable() bool { return e.Mode == FailureTransport }

// Provider is the capability set every backend variant exposes:
// send_message(envelope) -> AsyncStream<RawEvent>.
type Provider interface {
	// SendAndStream sends env and returns a channel of raw provider events.
	// The channel is closed when the stream ends (successfully or not); a
	// terminal error is delivered as a RawEvent{Type:"error"} before close.
	SendAndStream(ctx context.Context, env models.Envelope) (<-chan streamparse.RawEvent, error)

	// Name identifies the variant for logging/telemetry.
	Name() string
}
