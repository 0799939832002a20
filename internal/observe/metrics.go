// Package observe provides observability primitives for Vocalis: OpenTelemetry
// metrics with a Prometheus exporter bridge, plus HTTP middleware for the
// status surface.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs an SDK meter provider backed by a Prometheus exporter so the
// standard /metrics endpoint keeps working. Tests should use [NewMetrics]
// with their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocalis metrics.
const meterName = "github.com/vocalis-ai/vocalis"

// Metrics holds all OpenTelemetry metric instruments for the orchestrator.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks the lifetime of one transcription stream,
	// open to close.
	TranscriptionDuration metric.Float64Histogram

	// ReplyDuration tracks reply-generation latency.
	ReplyDuration metric.Float64Histogram

	// SynthDuration tracks text-to-speech synthesis latency.
	SynthDuration metric.Float64Histogram

	// --- Counters ---

	// Fragments counts transcript fragments by kind ("partial" | "final").
	Fragments metric.Int64Counter

	// Turns counts completed user turns.
	Turns metric.Int64Counter

	// Interruptions counts barge-ins by cancelled stage.
	Interruptions metric.Int64Counter

	// ProviderErrors counts upstream errors by provider kind
	// ("transcribe" | "respond" | "synth").
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveTranscriptions tracks the number of open transcription streams.
	ActiveTranscriptions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("vocalis.transcription.duration",
		metric.WithDescription("Lifetime of a transcription stream from open to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyDuration, err = m.Float64Histogram("vocalis.reply.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthDuration, err = m.Float64Histogram("vocalis.synth.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fragments, err = m.Int64Counter("vocalis.transcript.fragments",
		metric.WithDescription("Total transcript fragments by kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("vocalis.turns",
		metric.WithDescription("Total completed user turns."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("vocalis.interruptions",
		metric.WithDescription("Total barge-ins by cancelled stage."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vocalis.provider.errors",
		metric.WithDescription("Total upstream provider errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalis.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTranscriptions, err = m.Int64UpDownCounter("vocalis.active_transcriptions",
		metric.WithDescription("Number of open transcription streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveReply records a reply-generation completion. Satisfies the turn
// controller's telemetry contract.
func (m *Metrics) ObserveReply(d time.Duration, err error) {
	ctx := context.Background()
	m.ReplyDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "respond")))
	}
}

// ObserveSynth records a synthesis completion.
func (m *Metrics) ObserveSynth(d time.Duration, err error) {
	ctx := context.Background()
	m.SynthDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "synth")))
	}
}

// ObserveTranscription records the lifetime of a closed transcription stream.
func (m *Metrics) ObserveTranscription(d time.Duration, err error) {
	ctx := context.Background()
	m.TranscriptionDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "transcribe")))
	}
}

// RecordFragment counts one transcript fragment.
func (m *Metrics) RecordFragment(partial bool) {
	kind := "final"
	if partial {
		kind = "partial"
	}
	m.Fragments.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTurn counts one completed user turn.
func (m *Metrics) RecordTurn() {
	m.Turns.Add(context.Background(), 1)
}

// RecordInterruption counts one barge-in.
func (m *Metrics) RecordInterruption(stage string) {
	m.Interruptions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// SessionStarted and SessionEnded move the active-session gauge.
func (m *Metrics) SessionStarted() { m.ActiveSessions.Add(context.Background(), 1) }

// SessionEnded decrements the active-session gauge.
func (m *Metrics) SessionEnded() { m.ActiveSessions.Add(context.Background(), -1) }

// TranscriptionStarted increments the active-transcription gauge.
func (m *Metrics) TranscriptionStarted() { m.ActiveTranscriptions.Add(context.Background(), 1) }

// TranscriptionStopped decrements the active-transcription gauge.
func (m *Metrics) TranscriptionStopped() { m.ActiveTranscriptions.Add(context.Background(), -1) }
