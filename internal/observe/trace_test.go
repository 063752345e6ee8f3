package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "call.turn")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation id = %q, want 32 hex chars", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "call.turn" {
		t.Fatalf("spans = %v, want one call.turn span", spans)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != cid {
		t.Errorf("span trace id = %s, correlation id = %s", got, cid)
	}
}

func TestCorrelationID_WithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLoggers(t *testing.T) {
	useTracer(t)
	spanCtx, span := StartSpan(context.Background(), "call.archive")
	defer span.End()

	tests := []struct {
		name    string
		log     func() *slog.Logger
		want    []string
		notWant []string
	}{
		{
			name:    "no span",
			log:     func() *slog.Logger { return Logger(context.Background()) },
			notWant: []string{"trace_id", "span_id", "session_id"},
		},
		{
			name: "span",
			log:  func() *slog.Logger { return Logger(spanCtx) },
			want: []string{"trace_id=" + CorrelationID(spanCtx), "span_id="},
		},
		{
			name:    "session without span",
			log:     func() *slog.Logger { return SessionLogger(context.Background(), "sess-42") },
			want:    []string{"session_id=sess-42"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session with span",
			log:  func() *slog.Logger { return SessionLogger(spanCtx, "sess-7") },
			want: []string{"session_id=sess-7", "trace_id="},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			tc.log().Info("turn finished")
			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, nw := range tc.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("log %q should not contain %q", out, nw)
				}
			}
		})
	}
}
