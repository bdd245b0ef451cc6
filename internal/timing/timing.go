package timing

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"time"
)

// Record is the outcome of one measured call. It is reported and then dropped.
type Record struct {
	Name    string
	Elapsed time.Duration
}

// Seconds formats the elapsed time with fixed precision.
func (r Record) Seconds() string {
	return fmt.Sprintf("%.4f", r.Elapsed.Seconds())
}

type Reporter interface {
	Report(ctx context.Context, record Record)
}

type ReporterFunc func(ctx context.Context, record Record)

func (f ReporterFunc) Report(ctx context.Context, record Record) {
	f(ctx, record)
}

// Discard drops every record.
var Discard Reporter = ReporterFunc(func(context.Context, Record) {})

// Multi fans a record out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	active := make([]Reporter, 0, len(reporters))
	for _, reporter := range reporters {
		if reporter != nil {
			active = append(active, reporter)
		}
	}
	return ReporterFunc(func(ctx context.Context, record Record) {
		for _, reporter := range active {
			reporter.Report(ctx, record)
		}
	})
}

type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, record Record) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "execution_time",
		slog.String("function", record.Name),
		slog.String("seconds", record.Seconds()),
	)
}

// Measure runs fn and reports how long it took. The result is returned
// untouched. A failed or panicking call is not reported.
func Measure[T any](ctx context.Context, reporter Reporter, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	if err != nil {
		return result, err
	}
	if reporter != nil {
		reporter.Report(ctx, Record{Name: name, Elapsed: time.Since(start)})
	}
	return result, nil
}

// Func is a timed wrapper around a single-argument call.
type Func[A, R any] struct {
	name     string
	reporter Reporter
	fn       func(context.Context, A) (R, error)
}

// Wrap returns fn wrapped with timing. An empty name falls back to the Go
// symbol name of fn.
func Wrap[A, R any](name string, reporter Reporter, fn func(context.Context, A) (R, error)) *Func[A, R] {
	if strings.TrimSpace(name) == "" {
		name = FuncName(fn)
	}
	return &Func[A, R]{name: name, reporter: reporter, fn: fn}
}

func (f *Func[A, R]) Name() string {
	return f.name
}

func (f *Func[A, R]) Call(ctx context.Context, arg A) (R, error) {
	return Measure(ctx, f.reporter, f.name, func() (R, error) {
		return f.fn(ctx, arg)
	})
}

// FuncName returns the short symbol name of a function value, e.g. "Helper.Cache"
// for a method value or "loadRows" for a plain function.
func FuncName(fn any) string {
	value := reflect.ValueOf(fn)
	if value.Kind() != reflect.Func || value.IsNil() {
		return ""
	}
	runtimeFunc := runtime.FuncForPC(value.Pointer())
	if runtimeFunc == nil {
		return ""
	}
	full := runtimeFunc.Name()
	if slash := strings.LastIndex(full, "/"); slash >= 0 {
		full = full[slash+1:]
	}
	if dot := strings.Index(full, "."); dot >= 0 {
		full = full[dot+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	full = strings.ReplaceAll(full, "(*", "")
	full = strings.ReplaceAll(full, ")", "")
	return full
}
