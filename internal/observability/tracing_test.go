// ABOUTME: Tests for tracer provider setup and trace id extraction
// ABOUTME: Uses the local SDK provider so no collector is needed

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tp, err := NewTracerProvider(context.Background(), TracingConfig{ServiceName: "sentinel-test"})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if tp.IsEnabled() {
		t.Error("disabled config produced an enabled provider")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestExtractIDs(t *testing.T) {
	t.Parallel()

	if ExtractTraceID(context.Background()) != "" || ExtractSpanID(context.Background()) != "" {
		t.Error("ids extracted from a context without a span")
	}

	tp, _ := NewTracerProvider(context.Background(), TracingConfig{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "poll")
	defer span.End()

	if got := ExtractTraceID(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("ExtractTraceID() = %q", got)
	}
	if got := ExtractSpanID(ctx); got != span.SpanContext().SpanID().String() {
		t.Errorf("ExtractSpanID() = %q", got)
	}
}

func TestLogger_AddsTraceIDs(t *testing.T) {
	t.Parallel()

	tp, _ := NewTracerProvider(context.Background(), TracingConfig{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "submit")
	defer span.End()

	var buf bytes.Buffer
	NewLogger(LoggingConfig{}, &buf).InfoContext(ctx, "submitted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
	if entry["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", entry["span_id"])
	}
}

func TestSamplerFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "ParentBased"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("samplerFor(%v) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}
