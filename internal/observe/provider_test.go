package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_RejectsBadSampleRatio(t *testing.T) {
	if _, err := InitProvider(context.Background(), ProviderConfig{TraceSampleRatio: 1.5}); err == nil {
		t.Fatal("expected error for sample ratio 1.5")
	}
}

// InitProvider registers a Prometheus collector on the default registry, so
// it can only succeed once per test binary.
func TestInitProvider_ExportsSpans(t *testing.T) {
	origTP, origMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	var buf bytes.Buffer
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "voxcal-test",
		ServiceVersion: "v0.0.1",
		TraceWriter:    &buf,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "pipeline.recognize")
	if CorrelationID(ctx) == "" {
		t.Error("span has no trace ID")
	}
	EndSpan(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "pipeline.recognize") {
		t.Errorf("span not exported; output: %s", out)
	}
	if !strings.Contains(out, "voxcal-test") {
		t.Errorf("service name missing from exported span; output: %s", out)
	}
}
