package frame

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/duckmesh/duckframe/internal/timing"
)

const (
	DefaultNullThreshold = 0.7
	DefaultPreviewRows   = 20
	DefaultStorageLevel  = StorageMemoryAndDisk
	DefaultFormat        = FormatParquet
	DefaultSaveMode      = SaveModeOverwrite
)

// Helper is a thin facade over an Engine. It holds no state besides its
// collaborators; every call blocks until the engine is done.
type Helper struct {
	Engine   Engine
	Logger   *slog.Logger
	Reporter timing.Reporter
	Out      io.Writer
}

func NewHelper(engine Engine, logger *slog.Logger, reporter timing.Reporter, out io.Writer) *Helper {
	h := &Helper{Engine: engine, Logger: logger, Reporter: reporter, Out: out}
	h.ensureDefaults()
	return h
}

// Read loads a parquet file or directory.
func (h *Helper) Read(ctx context.Context, path string) (*Handle, error) {
	return h.ReadFormat(ctx, path, FormatParquet)
}

func (h *Helper) ReadFormat(ctx context.Context, path string, format Format) (*Handle, error) {
	h.ensureDefaults()
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	h.Logger.InfoContext(ctx, "reading dataframe", slog.String("path", path), slog.String("format", string(format)))
	handle, err := h.Engine.Read(ctx, path, format)
	if err != nil {
		return nil, fmt.Errorf("read %s %q: %w", format, path, err)
	}
	return handle, nil
}

func (h *Helper) Cache(ctx context.Context, handle *Handle) (*Handle, error) {
	h.ensureDefaults()
	return timing.Measure(ctx, h.Reporter, "cache", func() (*Handle, error) {
		h.Logger.InfoContext(ctx, "caching dataframe", slog.String("relation", handle.String()))
		if err := h.Engine.Cache(ctx, handle); err != nil {
			return nil, fmt.Errorf("cache %s: %w", handle, err)
		}
		return handle, nil
	})
}

// Persist resolves levelName before the engine is touched, so an unknown name
// leaves the handle's storage level as it was. An empty name means
// MEMORY_AND_DISK.
func (h *Helper) Persist(ctx context.Context, handle *Handle, levelName string) (*Handle, error) {
	h.ensureDefaults()
	return timing.Measure(ctx, h.Reporter, "persist", func() (*Handle, error) {
		level := DefaultStorageLevel
		if levelName != "" {
			parsed, err := ParseStorageLevel(levelName)
			if err != nil {
				return nil, err
			}
			level = parsed
		}
		h.Logger.InfoContext(ctx, "persisting dataframe",
			slog.String("relation", handle.String()),
			slog.String("storage_level", string(level)),
		)
		if err := h.Engine.Persist(ctx, handle, level); err != nil {
			return nil, fmt.Errorf("persist %s at %s: %w", handle, level, err)
		}
		return handle, nil
	})
}

func (h *Helper) Unpersist(ctx context.Context, handle *Handle) (*Handle, error) {
	h.ensureDefaults()
	return timing.Measure(ctx, h.Reporter, "unpersist", func() (*Handle, error) {
		if err := h.Engine.Unpersist(ctx, handle); err != nil {
			return nil, fmt.Errorf("unpersist %s: %w", handle, err)
		}
		return handle, nil
	})
}

// PruneSparseColumns drops every column whose null ratio is strictly above
// threshold. A dataset with no rows is returned unchanged.
func (h *Helper) PruneSparseColumns(ctx context.Context, handle *Handle, threshold float64) (*Handle, error) {
	h.ensureDefaults()
	return timing.Measure(ctx, h.Reporter, "prune_sparse_columns", func() (*Handle, error) {
		if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("%w: null threshold %v outside [0, 1]", ErrInvalidConfig, threshold)
		}

		total, err := h.Engine.Count(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", handle, err)
		}
		if total == 0 {
			h.Logger.WarnContext(ctx, "skipping sparse column pruning on empty dataframe", slog.String("relation", handle.String()))
			return handle, nil
		}

		schema, err := h.Engine.Schema(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("schema of %s: %w", handle, err)
		}

		var sparse []string
		for _, column := range schema.Columns {
			nulls, err := h.Engine.CountNulls(ctx, handle, column.Name)
			if err != nil {
				return nil, fmt.Errorf("count nulls in %s.%s: %w", handle, column.Name, err)
			}
			ratio := float64(nulls) / float64(total)
			if ratio > threshold {
				h.Logger.InfoContext(ctx, "dropping sparse column",
					slog.String("column", column.Name),
					slog.String("null_ratio", fmt.Sprintf("%.2f%%", ratio*100)),
				)
				sparse = append(sparse, column.Name)
			}
		}
		if len(sparse) == 0 {
			return handle, nil
		}

		pruned, err := h.Engine.DropColumns(ctx, handle, sparse...)
		if err != nil {
			return nil, fmt.Errorf("drop columns from %s: %w", handle, err)
		}
		prunedColumnsTotal.Add(float64(len(sparse)))
		return pruned, nil
	})
}

// Write validates format and mode before any I/O happens. Empty values mean
// parquet and overwrite.
func (h *Helper) Write(ctx context.Context, handle *Handle, path, format, mode string) error {
	h.ensureDefaults()
	_, err := timing.Measure(ctx, h.Reporter, "write", func() (struct{}, error) {
		resolvedFormat := DefaultFormat
		if format != "" {
			parsed, err := ParseFormat(format)
			if err != nil {
				return struct{}{}, err
			}
			resolvedFormat = parsed
		}
		resolvedMode := DefaultSaveMode
		if mode != "" {
			parsed, err := ParseSaveMode(mode)
			if err != nil {
				return struct{}{}, err
			}
			resolvedMode = parsed
		}

		h.Logger.InfoContext(ctx, "writing dataframe",
			slog.String("relation", handle.String()),
			slog.String("path", path),
			slog.String("format", string(resolvedFormat)),
			slog.String("mode", string(resolvedMode)),
		)
		if err := h.Engine.Write(ctx, handle, path, resolvedFormat, resolvedMode); err != nil {
			return struct{}{}, fmt.Errorf("write %s to %q: %w", handle, path, err)
		}
		return struct{}{}, nil
	})
	return err
}

// DescribeSchema prints the schema tree and returns the schema.
func (h *Helper) DescribeSchema(ctx context.Context, handle *Handle) (Schema, error) {
	h.ensureDefaults()
	schema, err := h.Engine.Schema(ctx, handle)
	if err != nil {
		return Schema{}, fmt.Errorf("schema of %s: %w", handle, err)
	}
	if _, err := fmt.Fprintf(h.Out, "Schema of DataFrame:\n%s", schema.TreeString()); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

// Preview prints up to rowCount rows without truncating cell values.
func (h *Helper) Preview(ctx context.Context, handle *Handle, rowCount int) error {
	h.ensureDefaults()
	if rowCount <= 0 {
		rowCount = DefaultPreviewRows
	}
	_, err := timing.Measure(ctx, h.Reporter, "preview", func() (struct{}, error) {
		rows, err := h.Engine.Head(ctx, handle, rowCount+1)
		if err != nil {
			return struct{}{}, fmt.Errorf("head of %s: %w", handle, err)
		}
		more := len(rows.Values) > rowCount
		if more {
			rows.Values = rows.Values[:rowCount]
		}
		if _, err := fmt.Fprintf(h.Out, "Showing %d rows of DataFrame:\n", rowCount); err != nil {
			return struct{}{}, err
		}
		if err := renderRows(h.Out, rows); err != nil {
			return struct{}{}, err
		}
		if more {
			if _, err := fmt.Fprintf(h.Out, "only showing top %d rows\n", rowCount); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

func (h *Helper) ensureDefaults() {
	if h.Logger == nil {
		h.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.Reporter == nil {
		h.Reporter = timing.LogReporter{Logger: h.Logger}
	}
	if h.Out == nil {
		h.Out = io.Discard
	}
}
