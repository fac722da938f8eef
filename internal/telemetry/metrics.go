package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the tracer and meter name used by the synchronizer.
const InstrumentationName = "gamesync/internal/syncer"

// Metrics holds the synchronizer's instruments. The zero value is not
// usable; build one with NewMetrics or Noop.
type Metrics struct {
	applied   metric.Int64Counter
	confirmed metric.Int64Counter
	expired   metric.Int64Counter
	conflicts metric.Int64Counter
	dropped   metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	var (
		m    Metrics
		err  error
		errs []error
	)
	m.applied, err = meter.Int64Counter("gamesync.operations.applied",
		metric.WithDescription("Operations folded into the local snapshot"))
	errs = append(errs, err)
	m.confirmed, err = meter.Int64Counter("gamesync.operations.confirmed",
		metric.WithDescription("Pending operations that reached quorum"))
	errs = append(errs, err)
	m.expired, err = meter.Int64Counter("gamesync.operations.expired",
		metric.WithDescription("Pending operations dropped after the timeout"))
	errs = append(errs, err)
	m.conflicts, err = meter.Int64Counter("gamesync.conflicts",
		metric.WithDescription("Conflict sets resolved"))
	errs = append(errs, err)
	m.dropped, err = meter.Int64Counter("gamesync.messages.dropped",
		metric.WithDescription("Inbound messages dropped"))
	errs = append(errs, err)
	m.latency, err = meter.Float64Histogram("gamesync.peer.latency",
		metric.WithDescription("Heartbeat latency samples"),
		metric.WithUnit("ms"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Noop returns metrics backed by the global provider, which discards
// everything until a real provider is installed.
func Noop() *Metrics {
	m, err := NewMetrics(nil)
	if err != nil {
		// The global delegating meter never fails to create instruments.
		panic(err)
	}
	return m
}

func (m *Metrics) Applied(ctx context.Context, kind string, remote bool) {
	m.applied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("remote", remote),
	))
}

func (m *Metrics) Confirmed(ctx context.Context) {
	m.confirmed.Add(ctx, 1)
}

func (m *Metrics) Expired(ctx context.Context, n int) {
	m.expired.Add(ctx, int64(n))
}

func (m *Metrics) Conflict(ctx context.Context, kind string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) Dropped(ctx context.Context, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Latency(ctx context.Context, peer string, d time.Duration) {
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attribute.String("peer", peer)))
}
