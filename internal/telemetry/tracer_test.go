package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("cyberguard-test", &buf, logger)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	ctx, span := otel.Tracer("test").Start(context.Background(), "intake.reply")
	id := TraceID(ctx)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(id) != 32 {
		t.Errorf("expected a 32 char trace id, got %q", id)
	}
	out := buf.String()
	for _, want := range []string{"intake.reply", "cyberguard-test", id} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exported spans", want)
		}
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(false, "cyberguard", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestTraceIDWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("expected empty trace id, got %q", got)
	}
}
