package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/duckframe/internal/config"
	"github.com/duckmesh/duckframe/internal/timing"
)

func TestMetricsHandlerExposesOperationHistogram(t *testing.T) {
	MetricsReporter{}.Report(context.Background(), timing.Record{Name: "write", Elapsed: 1500 * time.Millisecond})

	rr := httptest.NewRecorder()
	MetricsHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `duckframe_operation_duration_seconds_count{operation="write"}`) {
		t.Fatalf("missing histogram in body:\n%s", body)
	}
	if !strings.Contains(body, `duckframe_operations_total{operation="write"}`) {
		t.Fatalf("missing counter in body:\n%s", body)
	}
}

func TestMetricsHandlerUnknownPath(t *testing.T) {
	rr := httptest.NewRecorder()
	MetricsHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRunIDContextHelpers(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "abc123")
	if got := RunIDFromContext(ctx); got != "abc123" {
		t.Fatalf("RunIDFromContext() = %q", got)
	}
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Fatalf("RunIDFromContext(empty) = %q", got)
	}
	if id := NewRunID(); len(id) != 32 {
		t.Fatalf("NewRunID() = %q", id)
	}
}

func TestNewLoggerStampsRunID(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "duckframe"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	logger := NewLogger(cfg, &buf)
	logger.InfoContext(ContextWithRunID(context.Background(), "run-1"), "hello")
	logger.DebugContext(context.Background(), "hidden")

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"service":"duckframe"`, `"profile":"test"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s: %s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record should be filtered: %s", out)
	}
}

func TestTimingReporterLogsAndObserves(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reporter := NewTimingReporter(logger)

	if _, err := timing.Measure(context.Background(), reporter, "preview", func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if !strings.Contains(buf.String(), "function=preview") {
		t.Fatalf("log output = %s", buf.String())
	}
}
