// Package observe provides application-wide observability primitives for
// Arcanum: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Arcanum metrics.
const meterName = "github.com/eikq/arcanum"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// MatchDuration tracks the wall-clock length of matches from room
	// creation to the finished state.
	MatchDuration metric.Float64Histogram

	// QueueWait tracks how long quick-match players waited before being
	// paired or handed to the bot.
	QueueWait metric.Float64Histogram

	// --- Counters ---

	// Casts counts relayed casts. Use with attributes:
	//   attribute.String("spell", ...), attribute.String("kind", ...), attribute.Bool("assist", ...)
	Casts metric.Int64Counter

	// GateDenials counts casts rejected before resolution (rate limit,
	// unknown spell, insufficient mana). Use with attribute:
	//   attribute.String("reason", ...)
	GateDenials metric.Int64Counter

	// MessagesIn counts inbound wire messages by kind.
	MessagesIn metric.Int64Counter

	// --- Gauges ---

	// ActiveRooms tracks the number of live rooms.
	ActiveRooms metric.Int64UpDownCounter

	// ActivePlayers tracks the number of roster slots occupied by humans.
	ActivePlayers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// matchBuckets defines histogram bucket boundaries (in seconds) for match
// durations; rounds cap at 90s plus lobby time.
var matchBuckets = []float64{
	5, 10, 20, 30, 45, 60, 90, 120, 180,
}

// queueBuckets covers the quick-match wait up to the bot fallback.
var queueBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 15, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.MatchDuration, err = m.Float64Histogram("arcanum.match.duration",
		metric.WithDescription("Wall-clock match length from room creation to finish."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(matchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueWait, err = m.Float64Histogram("arcanum.queue.wait",
		metric.WithDescription("Quick-match queue wait before pairing or bot fallback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queueBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Casts, err = m.Int64Counter("arcanum.casts",
		metric.WithDescription("Total relayed casts by spell, kind, and assist flag."),
	); err != nil {
		return nil, err
	}
	if met.GateDenials, err = m.Int64Counter("arcanum.gate.denials",
		metric.WithDescription("Total casts rejected before resolution, by reason."),
	); err != nil {
		return nil, err
	}
	if met.MessagesIn, err = m.Int64Counter("arcanum.messages.in",
		metric.WithDescription("Total inbound wire messages by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRooms, err = m.Int64UpDownCounter("arcanum.active_rooms",
		metric.WithDescription("Number of live rooms."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayers, err = m.Int64UpDownCounter("arcanum.active_players",
		metric.WithDescription("Number of roster slots occupied by human players."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("arcanum.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCast records one relayed cast with the standard attribute set.
func (m *Metrics) RecordCast(ctx context.Context, spellID, kind string, assist bool) {
	m.Casts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("spell", spellID),
			attribute.String("kind", kind),
			attribute.Bool("assist", assist),
		),
	)
}

// RecordGateDenial records one gate rejection by reason.
func (m *Metrics) RecordGateDenial(ctx context.Context, reason string) {
	m.GateDenials.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordMessageIn records one inbound wire message by kind.
func (m *Metrics) RecordMessageIn(ctx context.Context, kind string) {
	m.MessagesIn.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
