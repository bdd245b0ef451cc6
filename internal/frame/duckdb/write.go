package duckdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/duckmesh/duckframe/internal/frame"
	"github.com/duckmesh/duckframe/internal/storage"
)

const successMarker = "_SUCCESS"

// Write lays the relation out as an output directory holding one part file
// and a _SUCCESS marker. s3:// paths are staged locally and uploaded.
func (e *Engine) Write(ctx context.Context, h *frame.Handle, path string, format frame.Format, mode frame.SaveMode) error {
	rel, err := e.lookup(h)
	if err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("output path is required")
	}
	if storage.IsObjectURI(path) {
		return e.upload(ctx, h, path, format, mode)
	}

	files, err := e.writeLocal(ctx, h, rel, path, format, mode)
	if err != nil {
		return err
	}
	e.logWritten(ctx, path, format, files)
	return nil
}

func (e *Engine) writeLocal(ctx context.Context, h *frame.Handle, rel *relation, dir string, format frame.Format, mode frame.SaveMode) ([]string, error) {
	options, err := e.copyOptions(format)
	if err != nil {
		return nil, err
	}

	exists, err := pathExists(dir)
	if err != nil {
		return nil, err
	}
	if exists {
		switch mode {
		case frame.SaveModeErrorIfExists:
			return nil, fmt.Errorf("%w: %s", frame.ErrPathExists, dir)
		case frame.SaveModeIgnore:
			return nil, nil
		case frame.SaveModeOverwrite:
			if readsFrom(rel, dir) {
				return nil, fmt.Errorf("cannot overwrite %q while %s is reading from it", dir, h.Name)
			}
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clear %q: %w", dir, err)
			}
		case frame.SaveModeAppend:
		default:
			return nil, fmt.Errorf("%w: unknown save mode %q", frame.ErrInvalidConfig, mode)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %q: %w", dir, err)
	}

	part := filepath.Join(dir, partFileName(format))
	copySQL := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (%s)", quoteIdent(h.Name), quoteString(part), options)
	if _, err := e.db.ExecContext(ctx, copySQL); err != nil {
		return nil, fmt.Errorf("copy %s to %q: %w", h.Name, part, err)
	}
	marker := filepath.Join(dir, successMarker)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return nil, fmt.Errorf("write success marker: %w", err)
	}
	filesWrittenTotal.WithLabelValues(string(format)).Inc()
	return []string{part, marker}, nil
}

func (e *Engine) copyOptions(format frame.Format) (string, error) {
	switch format {
	case frame.FormatParquet:
		return "FORMAT PARQUET, COMPRESSION " + strings.ToUpper(e.cfg.ParquetCompression), nil
	case frame.FormatCSV:
		return "FORMAT CSV, HEADER true", nil
	case frame.FormatJSON:
		return "FORMAT JSON", nil
	default:
		return "", fmt.Errorf("%w: %q", frame.ErrUnsupportedFormat, format)
	}
}

func (e *Engine) logWritten(ctx context.Context, path string, format frame.Format, files []string) {
	if len(files) == 0 {
		e.logger.InfoContext(ctx, "output exists, write skipped", slog.String("path", path))
		return
	}
	var total uint64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += uint64(info.Size())
		}
	}
	bytesWrittenTotal.Add(float64(total))
	e.logger.InfoContext(ctx, "dataframe written",
		slog.String("path", path),
		slog.String("format", string(format)),
		slog.Int("files", len(files)),
		slog.String("size", humanize.Bytes(total)),
	)
}

// readsFrom reports whether any input behind rel lives under dir. Persisted
// relations no longer read their inputs but may be unpersisted later.
func readsFrom(rel *relation, dir string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	for _, input := range rel.inputs {
		absInput, err := filepath.Abs(input)
		if err != nil {
			continue
		}
		if absInput == absDir || strings.HasPrefix(absInput, absDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func partFileName(format frame.Format) string {
	return fmt.Sprintf("part-00000-%s-c000%s", uuid.NewString(), format.Extension())
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %q: %w", path, err)
}
