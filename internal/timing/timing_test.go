package timing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type recorder struct {
	records []Record
}

func (r *recorder) Report(_ context.Context, record Record) {
	r.records = append(r.records, record)
}

func square(_ context.Context, n int) (int, error) {
	return n * n, nil
}

func TestMeasureReturnsResultUnchanged(t *testing.T) {
	rec := &recorder{}
	for _, input := range []int{0, 1, 7, -3} {
		got, err := Measure(context.Background(), rec, "square", func() (int, error) {
			return square(context.Background(), input)
		})
		if err != nil {
			t.Fatalf("Measure() error = %v", err)
		}
		want, _ := square(context.Background(), input)
		if got != want {
			t.Fatalf("Measure(%d) = %d, want %d", input, got, want)
		}
	}
	if len(rec.records) != 4 {
		t.Fatalf("records = %d, want 4", len(rec.records))
	}
	for _, record := range rec.records {
		if record.Name != "square" {
			t.Fatalf("record name = %q", record.Name)
		}
		if record.Elapsed < 0 {
			t.Fatalf("elapsed = %v", record.Elapsed)
		}
	}
}

func TestMeasureSkipsReportOnError(t *testing.T) {
	rec := &recorder{}
	failure := errors.New("engine unavailable")

	_, err := Measure(context.Background(), rec, "count", func() (int64, error) {
		return 0, failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Measure() error = %v, want %v", err, failure)
	}
	if len(rec.records) != 0 {
		t.Fatalf("expected no report, got %+v", rec.records)
	}
}

func TestMeasurePropagatesPanicWithoutReport(t *testing.T) {
	rec := &recorder{}
	defer func() {
		if recovered := recover(); recovered != "boom" {
			t.Fatalf("recovered = %v", recovered)
		}
		if len(rec.records) != 0 {
			t.Fatalf("expected no report, got %+v", rec.records)
		}
	}()
	_, _ = Measure(context.Background(), rec, "explode", func() (int, error) {
		panic("boom")
	})
}

func TestWrapPreservesName(t *testing.T) {
	rec := &recorder{}
	wrapped := Wrap("", rec, square)
	if wrapped.Name() != "square" {
		t.Fatalf("Name() = %q, want square", wrapped.Name())
	}

	rewrapped := Wrap(wrapped.Name(), rec, wrapped.Call)
	if rewrapped.Name() != "square" {
		t.Fatalf("rewrapped Name() = %q, want square", rewrapped.Name())
	}

	got, err := rewrapped.Call(context.Background(), 9)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != 81 {
		t.Fatalf("Call() = %d, want 81", got)
	}
	if len(rec.records) != 2 {
		t.Fatalf("records = %d, want 2 (inner and outer)", len(rec.records))
	}
}

type counter struct{}

func (*counter) Increment(_ context.Context, n int) (int, error) {
	return n + 1, nil
}

func TestFuncNameForMethodValue(t *testing.T) {
	c := &counter{}
	if got := FuncName(c.Increment); got != "counter.Increment" {
		t.Fatalf("FuncName() = %q", got)
	}
	if got := FuncName(nil); got != "" {
		t.Fatalf("FuncName(nil) = %q", got)
	}
	if got := FuncName(42); got != "" {
		t.Fatalf("FuncName(42) = %q", got)
	}
}

func TestLogReporterWritesFixedPrecisionSeconds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogReporter{Logger: logger}.Report(context.Background(), Record{Name: "cache", Elapsed: 1500000000})

	out := buf.String()
	if !strings.Contains(out, "msg=execution_time") {
		t.Fatalf("log output = %q", out)
	}
	if !strings.Contains(out, "function=cache") || !strings.Contains(out, "seconds=1.5000") {
		t.Fatalf("log output = %q", out)
	}
}

func TestMultiSkipsNilReporters(t *testing.T) {
	first := &recorder{}
	second := &recorder{}
	Multi(first, nil, second).Report(context.Background(), Record{Name: "write"})
	if len(first.records) != 1 || len(second.records) != 1 {
		t.Fatalf("records = %d/%d", len(first.records), len(second.records))
	}
}
