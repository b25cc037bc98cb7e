package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"illustrated_answer/config"
	"illustrated_answer/logger"
)

func TestInitTracingDisabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown := InitTracing(context.Background(), logger.Nop(), config.TracingConfig{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("disabled tracing replaced the global provider")
	}
}

func TestInitTracingEnabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown := InitTracing(context.Background(), logger.Nop(), config.TracingConfig{Enabled: true, ServiceName: "test"})
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsValid() {
		t.Fatal("span from installed provider should be recording")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
