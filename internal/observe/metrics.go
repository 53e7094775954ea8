// Package observe provides OpenTelemetry metrics for the tutor, exported in
// Prometheus format, plus HTTP middleware that records request latency.
//
// Tests should use NewMetrics with their own metric.MeterProvider to avoid
// cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/gustawsonb-collab/gadugator"

// Service names used as the "service" attribute.
const (
	ServiceCompletion    = "completion"
	ServiceTranscription = "transcription"
	ServiceSpeech        = "speech"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// ProviderDuration tracks remote service latency by "service".
	ProviderDuration metric.Float64Histogram

	// ProviderErrors counts remote service failures by "service" and "kind".
	ProviderErrors metric.Int64Counter

	// Turns counts appended turns by "role" and "origin".
	Turns metric.Int64Counter

	// QuotaDenials counts sends rejected by the daily limit.
	QuotaDenials metric.Int64Counter

	// ParserFallbacks counts completions that were not usable JSON.
	ParserFallbacks metric.Int64Counter

	// ActiveSessions tracks the number of live device sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time by "method",
	// "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds; completions and speech
// synthesis routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderDuration, err = m.Float64Histogram("gadugator.provider.duration",
		metric.WithDescription("Latency of remote completion, transcription and speech calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gadugator.provider.errors",
		metric.WithDescription("Remote service failures by service and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("gadugator.turns",
		metric.WithDescription("Conversation turns appended by role and origin."),
	); err != nil {
		return nil, err
	}
	if met.QuotaDenials, err = m.Int64Counter("gadugator.quota.denials",
		metric.WithDescription("Messages rejected by the free daily limit."),
	); err != nil {
		return nil, err
	}
	if met.ParserFallbacks, err = m.Int64Counter("gadugator.parser.fallbacks",
		metric.WithDescription("Completions shown as raw text because no JSON payload was usable."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("gadugator.sessions.active",
		metric.WithDescription("Device sessions currently held in memory."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gadugator.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns Metrics backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err) // no-op instruments cannot fail
	}
	return m
}

// RecordProviderCall records the latency of one remote call and, when err is
// non-nil, a failure of the given kind.
func (m *Metrics) RecordProviderCall(ctx context.Context, service string, start time.Time, err error, kind string) {
	if m == nil {
		return
	}
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("service", service)))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("kind", kind),
		))
	}
}

// RecordTurn counts one appended turn.
func (m *Metrics) RecordTurn(ctx context.Context, role, origin string) {
	if m == nil {
		return
	}
	if origin == "" {
		origin = "conversation"
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("origin", origin),
	))
}

// RecordQuotaDenial counts one denied send.
func (m *Metrics) RecordQuotaDenial(ctx context.Context) {
	if m == nil {
		return
	}
	m.QuotaDenials.Add(ctx, 1)
}

// RecordParserFallback counts one unparseable completion.
func (m *Metrics) RecordParserFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.ParserFallbacks.Add(ctx, 1)
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
