package projections

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ripkitten-co/purr/events"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type telemetryCapture struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	opts   []Option
}

func newTelemetryCapture() *telemetryCapture {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &telemetryCapture{
		spans:  spans,
		reader: reader,
		opts: []Option{
			WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
			WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		},
	}
}

// sum returns the total of an int64 counter across all attribute sets.
func (p *telemetryCapture) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want an int64 sum", name, m.Data)
			}
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func (p *telemetryCapture) histogramCount(t *testing.T, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if h, ok := m.Data.(metricdata.Histogram[float64]); ok && m.Name == name {
				for _, dp := range h.DataPoints {
					count += dp.Count
				}
			}
		}
	}
	return count
}

func TestTelemetry_AppliedRecordEmitsSpanAndMetrics(t *testing.T) {
	f := newFixture()
	f.appendAt(t, "cart-1", 10)
	p := newTelemetryCapture()

	d := f.driver(t, countingDefinition("carts"), p.opts...)
	errc := start(d)
	if !eventually(checkpointIs(f.cps, "carts", 10)) {
		t.Fatalf("checkpoint never reached 10, writes %v", f.cps.written())
	}
	d.Stop()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("run: %v", err)
	}

	ended := p.spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans, want 1", len(ended))
	}
	if ended[0].Name() != "purr.projection.apply" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	attrs := map[string]any{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["purr.projection"] != "carts" || attrs["purr.position"] != int64(10) {
		t.Errorf("span attributes = %v", attrs)
	}

	if got := p.sum(t, "purr.projection.records"); got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
	if got := p.histogramCount(t, "purr.projection.apply.duration"); got != 1 {
		t.Errorf("apply duration samples = %d, want 1", got)
	}
	if got := p.sum(t, "purr.projection.restarts"); got != 0 {
		t.Errorf("restarts = %d, want 0", got)
	}
}

func TestTelemetry_FailedApplyMarksSpan(t *testing.T) {
	f := newFixture()
	f.appendAt(t, "cart-1", 10)
	p := newTelemetryCapture()

	def := NewDefinition[*readModel]("carts")
	On(def, func(context.Context, *readModel, Envelope[itemAdded]) error {
		return errors.New("boom")
	})
	d := f.driver(t, def, append(p.opts, WithMaxRestarts(1))...)

	if err := waitErr(t, start(d)); !errors.Is(err, ErrRestartLimit) {
		t.Fatalf("got %v, want ErrRestartLimit", err)
	}

	ended := p.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("got %d spans, want one per attempt", len(ended))
	}
	for _, s := range ended {
		if !strings.Contains(s.Status().Description, "boom") {
			t.Errorf("span status = %+v, want the apply error", s.Status())
		}
	}
	if got := p.sum(t, "purr.projection.records"); got != 0 {
		t.Errorf("records = %d, want 0", got)
	}
}

func TestTelemetry_RestartsCounted(t *testing.T) {
	f := newFixture()
	log := &droppingLog{reason: events.DropServerError}
	p := newTelemetryCapture()

	d, err := NewDriver[*readModel](countingDefinition("carts"), log, f.reg, f.factory, f.cps,
		testOptions(append(p.opts, WithMaxRestarts(2))...)...)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	if err := waitErr(t, start(d)); !errors.Is(err, ErrRestartLimit) {
		t.Fatalf("got %v, want ErrRestartLimit", err)
	}

	if got := p.sum(t, "purr.projection.restarts"); got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
}
