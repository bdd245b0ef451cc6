package frame

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duckmesh/duckframe/internal/timing"
)

type fakeColumn struct {
	name  string
	typ   string
	nulls int64
}

type fakeEngine struct {
	rows    int64
	columns []fakeColumn
	levels  map[string]StorageLevel
	values  [][]any
	calls   []string
	derived int

	countErr error
	writes   []string
}

func newFakeEngine(rows int64, columns ...fakeColumn) *fakeEngine {
	return &fakeEngine{rows: rows, columns: columns, levels: map[string]StorageLevel{}}
}

func (f *fakeEngine) Read(_ context.Context, path string, _ Format) (*Handle, error) {
	f.calls = append(f.calls, "read")
	return &Handle{Name: "df_source", Origin: path}, nil
}

func (f *fakeEngine) Cache(ctx context.Context, h *Handle) error {
	f.calls = append(f.calls, "cache")
	f.levels[h.Name] = StorageMemoryOnly
	return nil
}

func (f *fakeEngine) Persist(_ context.Context, h *Handle, level StorageLevel) error {
	f.calls = append(f.calls, "persist")
	if current, ok := f.levels[h.Name]; ok && current != level {
		return ErrStorageLevelConflict
	}
	f.levels[h.Name] = level
	return nil
}

func (f *fakeEngine) Unpersist(_ context.Context, h *Handle) error {
	f.calls = append(f.calls, "unpersist")
	delete(f.levels, h.Name)
	return nil
}

func (f *fakeEngine) StorageLevel(_ context.Context, h *Handle) (StorageLevel, error) {
	level, ok := f.levels[h.Name]
	if !ok {
		return StorageNone, nil
	}
	return level, nil
}

func (f *fakeEngine) Count(context.Context, *Handle) (int64, error) {
	f.calls = append(f.calls, "count")
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.rows, nil
}

func (f *fakeEngine) CountNulls(_ context.Context, _ *Handle, column string) (int64, error) {
	f.calls = append(f.calls, "count_nulls:"+column)
	for _, c := range f.columns {
		if c.name == column {
			return c.nulls, nil
		}
	}
	return 0, errors.New("unknown column " + column)
}

func (f *fakeEngine) DropColumns(_ context.Context, h *Handle, columns ...string) (*Handle, error) {
	f.calls = append(f.calls, "drop:"+strings.Join(columns, ","))
	drop := map[string]bool{}
	for _, name := range columns {
		drop[name] = true
	}
	kept := make([]fakeColumn, 0, len(f.columns))
	for _, c := range f.columns {
		if !drop[c.name] {
			kept = append(kept, c)
		}
	}
	f.columns = kept
	f.derived++
	return &Handle{Name: h.Name + "_pruned", Origin: h.Name}, nil
}

func (f *fakeEngine) Schema(context.Context, *Handle) (Schema, error) {
	schema := Schema{}
	for _, c := range f.columns {
		schema.Columns = append(schema.Columns, Column{Name: c.name, Type: c.typ, Nullable: true})
	}
	return schema, nil
}

func (f *fakeEngine) Head(_ context.Context, _ *Handle, n int) (Rows, error) {
	f.calls = append(f.calls, "head")
	rows := Rows{}
	for _, c := range f.columns {
		rows.Columns = append(rows.Columns, c.name)
	}
	for i, values := range f.values {
		if i >= n {
			break
		}
		rows.Values = append(rows.Values, values)
	}
	return rows, nil
}

func (f *fakeEngine) Write(_ context.Context, _ *Handle, path string, format Format, mode SaveMode) error {
	f.calls = append(f.calls, "write")
	f.writes = append(f.writes, path+"|"+string(format)+"|"+string(mode))
	return nil
}

type recordingReporter struct {
	names []string
}

func (r *recordingReporter) Report(_ context.Context, record timing.Record) {
	r.names = append(r.names, record.Name)
}

func newTestHelper(engine Engine) (*Helper, *recordingReporter, *bytes.Buffer, *bytes.Buffer) {
	reporter := &recordingReporter{}
	var out, logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return NewHelper(engine, logger, reporter, &out), reporter, &out, &logs
}

func columnsWithRatios(rows int64, ratios map[string]float64, order ...string) []fakeColumn {
	columns := make([]fakeColumn, 0, len(order))
	for _, name := range order {
		columns = append(columns, fakeColumn{name: name, typ: "VARCHAR", nulls: int64(math.Round(ratios[name] * float64(rows)))})
	}
	return columns
}

func TestPruneSparseColumnsDropsAboveThreshold(t *testing.T) {
	ratios := map[string]float64{"a": 0.0, "b": 0.5, "c": 0.71, "d": 1.0}
	engine := newFakeEngine(100, columnsWithRatios(100, ratios, "a", "b", "c", "d")...)
	helper, reporter, _, logs := newTestHelper(engine)

	pruned, err := helper.PruneSparseColumns(context.Background(), &Handle{Name: "df_source"}, DefaultNullThreshold)
	require.NoError(t, err)
	require.Equal(t, "df_source_pruned", pruned.Name)

	schema, err := engine.Schema(context.Background(), pruned)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, schema.Names())

	require.Equal(t, []string{
		"count",
		"count_nulls:a",
		"count_nulls:b",
		"count_nulls:c",
		"count_nulls:d",
		"drop:c,d",
	}, engine.calls)
	require.Equal(t, []string{"prune_sparse_columns"}, reporter.names)
	require.Contains(t, logs.String(), "column=c null_ratio=71.00%")
	require.Contains(t, logs.String(), "column=d null_ratio=100.00%")
}

func TestPruneSparseColumnsThresholdBounds(t *testing.T) {
	ratios := map[string]float64{"a": 0.0, "b": 0.01, "c": 0.99, "d": 1.0}

	engine := newFakeEngine(100, columnsWithRatios(100, ratios, "a", "b", "c", "d")...)
	helper, _, _, _ := newTestHelper(engine)
	source := &Handle{Name: "df_source"}
	kept, err := helper.PruneSparseColumns(context.Background(), source, 1.0)
	require.NoError(t, err)
	require.Same(t, source, kept)
	require.Zero(t, engine.derived)

	engine = newFakeEngine(100, columnsWithRatios(100, ratios, "a", "b", "c", "d")...)
	helper, _, _, _ = newTestHelper(engine)
	pruned, err := helper.PruneSparseColumns(context.Background(), source, 0.0)
	require.NoError(t, err)
	schema, err := engine.Schema(context.Background(), pruned)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, schema.Names())
}

func TestPruneSparseColumnsSkipsEmptyDataset(t *testing.T) {
	engine := newFakeEngine(0, fakeColumn{name: "a", typ: "INTEGER"}, fakeColumn{name: "b", typ: "INTEGER"})
	helper, reporter, _, logs := newTestHelper(engine)
	source := &Handle{Name: "df_empty"}

	got, err := helper.PruneSparseColumns(context.Background(), source, DefaultNullThreshold)
	require.NoError(t, err)
	require.Same(t, source, got)
	require.Equal(t, []string{"count"}, engine.calls)
	require.Equal(t, []string{"prune_sparse_columns"}, reporter.names)
	require.Contains(t, logs.String(), "skipping sparse column pruning on empty dataframe")
}

func TestPruneSparseColumnsRejectsOutOfRangeThreshold(t *testing.T) {
	for _, threshold := range []float64{-0.1, 1.5} {
		engine := newFakeEngine(10, fakeColumn{name: "a"})
		helper, reporter, _, _ := newTestHelper(engine)
		_, err := helper.PruneSparseColumns(context.Background(), &Handle{Name: "df"}, threshold)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Empty(t, engine.calls)
		require.Empty(t, reporter.names)
	}
}

func TestPruneSparseColumnsPropagatesEngineFailure(t *testing.T) {
	failure := errors.New("engine lost")
	engine := newFakeEngine(10, fakeColumn{name: "a"})
	engine.countErr = failure
	helper, reporter, _, _ := newTestHelper(engine)

	_, err := helper.PruneSparseColumns(context.Background(), &Handle{Name: "df"}, 0.5)
	require.ErrorIs(t, err, failure)
	require.Empty(t, reporter.names)
}

func TestWriteRejectsUnsupportedFormatWithoutIO(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, _ := newTestHelper(engine)

	err := helper.Write(context.Background(), &Handle{Name: "df"}, "/tmp/out", "xml", "overwrite")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Empty(t, engine.calls)
	require.Empty(t, reporter.names)
}

func TestWriteRejectsUnknownMode(t *testing.T) {
	engine := newFakeEngine(1)
	helper, _, _, _ := newTestHelper(engine)

	err := helper.Write(context.Background(), &Handle{Name: "df"}, "/tmp/out", "csv", "merge")
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Empty(t, engine.calls)
}

func TestWriteDefaultsAndDispatch(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, _ := newTestHelper(engine)
	handle := &Handle{Name: "df"}

	require.NoError(t, helper.Write(context.Background(), handle, "/tmp/a", "", ""))
	require.NoError(t, helper.Write(context.Background(), handle, "/tmp/b", "CSV", "append"))
	require.NoError(t, helper.Write(context.Background(), handle, "/tmp/c", "json", "error"))

	require.Equal(t, []string{
		"/tmp/a|parquet|overwrite",
		"/tmp/b|csv|append",
		"/tmp/c|json|errorifexists",
	}, engine.writes)
	require.Equal(t, []string{"write", "write", "write"}, reporter.names)
}

func TestPersistRejectsUnknownLevel(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, _ := newTestHelper(engine)
	handle := &Handle{Name: "df"}

	_, err := helper.Persist(context.Background(), handle, "NOT_A_LEVEL")
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Empty(t, engine.calls)
	require.Empty(t, reporter.names)

	level, err := engine.StorageLevel(context.Background(), handle)
	require.NoError(t, err)
	require.Equal(t, StorageNone, level)
}

func TestPersistDefaultsToMemoryAndDisk(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, _ := newTestHelper(engine)
	handle := &Handle{Name: "df"}

	got, err := helper.Persist(context.Background(), handle, "")
	require.NoError(t, err)
	require.Same(t, handle, got)

	level, err := engine.StorageLevel(context.Background(), handle)
	require.NoError(t, err)
	require.Equal(t, StorageMemoryAndDisk, level)
	require.Equal(t, []string{"persist"}, reporter.names)

	_, err = helper.Persist(context.Background(), handle, "disk_only")
	require.ErrorIs(t, err, ErrStorageLevelConflict)
}

func TestCacheAndUnpersistReturnSameHandle(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, _ := newTestHelper(engine)
	handle := &Handle{Name: "df"}

	cached, err := helper.Cache(context.Background(), handle)
	require.NoError(t, err)
	require.Same(t, handle, cached)

	released, err := helper.Unpersist(context.Background(), handle)
	require.NoError(t, err)
	require.Same(t, handle, released)

	require.Equal(t, []string{"cache", "unpersist"}, reporter.names)
}

func TestReadIsNotTimed(t *testing.T) {
	engine := newFakeEngine(1)
	helper, reporter, _, logs := newTestHelper(engine)

	handle, err := helper.Read(context.Background(), "/data/events.parquet")
	require.NoError(t, err)
	require.Equal(t, "/data/events.parquet", handle.Origin)
	require.Empty(t, reporter.names)
	require.Contains(t, logs.String(), "path=/data/events.parquet")

	_, err = helper.ReadFormat(context.Background(), "/data/events.xml", Format("xml"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDescribeSchemaPrintsTree(t *testing.T) {
	engine := newFakeEngine(1, fakeColumn{name: "id", typ: "BIGINT"}, fakeColumn{name: "name", typ: "VARCHAR"})
	helper, reporter, out, _ := newTestHelper(engine)

	schema, err := helper.DescribeSchema(context.Background(), &Handle{Name: "df"})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, schema.Names())
	require.Equal(t, "Schema of DataFrame:\nroot\n |-- id: bigint (nullable = true)\n |-- name: varchar (nullable = true)\n", out.String())
	require.Empty(t, reporter.names)
}

func TestPreviewPrintsUntruncatedRows(t *testing.T) {
	engine := newFakeEngine(3, fakeColumn{name: "id"}, fakeColumn{name: "note"})
	long := strings.Repeat("x", 64)
	engine.values = [][]any{{int64(1), long}, {int64(2), nil}, {int64(3), "c"}}
	helper, reporter, out, _ := newTestHelper(engine)

	require.NoError(t, helper.Preview(context.Background(), &Handle{Name: "df"}, 2))

	text := out.String()
	require.Contains(t, text, "Showing 2 rows of DataFrame:")
	require.Contains(t, text, long)
	require.Contains(t, text, "NULL")
	require.NotContains(t, text, "| 3|")
	require.Contains(t, text, "only showing top 2 rows")
	require.Equal(t, []string{"preview"}, reporter.names)
}

func TestPreviewDefaultsRowCount(t *testing.T) {
	engine := newFakeEngine(1, fakeColumn{name: "id"})
	engine.values = [][]any{{int64(1)}}
	helper, _, out, _ := newTestHelper(engine)

	require.NoError(t, helper.Preview(context.Background(), &Handle{Name: "df"}, 0))
	require.Contains(t, out.String(), "Showing 20 rows of DataFrame:")
	require.NotContains(t, out.String(), "only showing")
}
