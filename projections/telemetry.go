package projections

import (
	"context"
	"time"

	"github.com/ripkitten-co/purr/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ripkitten-co/purr/projections"

type telemetry struct {
	tracer        trace.Tracer
	records       metric.Int64Counter
	restarts      metric.Int64Counter
	snapshots     metric.Int64Counter
	applyDuration metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	records, err := meter.Int64Counter("purr.projection.records",
		metric.WithDescription("Records applied to a projection."),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	restarts, err := meter.Int64Counter("purr.projection.restarts",
		metric.WithDescription("Subscription restarts after a transient drop."),
		metric.WithUnit("{restart}"))
	if err != nil {
		return nil, err
	}
	snapshots, err := meter.Int64Counter("purr.projection.snapshots",
		metric.WithDescription("Snapshots taken after an applied record."),
		metric.WithUnit("{snapshot}"))
	if err != nil {
		return nil, err
	}
	applyDuration, err := meter.Float64Histogram("purr.projection.apply.duration",
		metric.WithDescription("Time spent applying one record, checkpoint excluded."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:        tp.Tracer(instrumentationName),
		records:       records,
		restarts:      restarts,
		snapshots:     snapshots,
		applyDuration: applyDuration,
	}, nil
}

func (t *telemetry) startApply(ctx context.Context, name string, rec events.Record) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "purr.projection.apply",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("purr.projection", name),
			attribute.String("purr.event.type", rec.Type),
			attribute.String("purr.stream_id", rec.StreamID),
			attribute.Int64("purr.position", rec.GlobalPosition),
		))
}

func (t *telemetry) applied(ctx context.Context, name string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("projection", name))
	t.records.Add(ctx, 1, attrs)
	t.applyDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (t *telemetry) restarted(ctx context.Context, name string, reason events.DropReason) {
	t.restarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", name),
		attribute.String("reason", reason.String()),
	))
}

func (t *telemetry) snapshotTaken(ctx context.Context, name string, kind events.AggregateType) {
	t.snapshots.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", name),
		attribute.String("aggregate_type", string(kind)),
	))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
