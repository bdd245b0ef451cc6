package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/duckframe/internal/frame"
	"github.com/duckmesh/duckframe/internal/storage"
)

const (
	memoryCatalog = "duckframe_mem"
	diskCatalog   = "duckframe_disk"
)

var ErrUnknownHandle = errors.New("unknown dataframe handle")

type Config struct {
	// Path is the DuckDB database file; empty means in-memory.
	Path               string
	WorkDir            string
	MemoryLimit        string
	Threads            int
	ParquetCompression string
}

type relation struct {
	definition string
	inputs     []string
	level      frame.StorageLevel
	table      string
}

// Engine runs every frame operation as SQL against one DuckDB database.
// Relations are views named df_<id>; persisted relations are re-pointed at a
// table in the memory or disk catalog.
type Engine struct {
	db      *sql.DB
	cfg     Config
	store   storage.ObjectStore
	logger  *slog.Logger
	workDir string

	ownsWorkDir bool
	attached    bool

	mu        sync.Mutex
	relations map[string]*relation
}

var _ frame.Engine = (*Engine)(nil)

func Open(ctx context.Context, cfg Config, store storage.ObjectStore, logger *slog.Logger) (*Engine, error) {
	workDir := strings.TrimSpace(cfg.WorkDir)
	ownsWorkDir := false
	if workDir == "" {
		dir, err := os.MkdirTemp("", "duckframe-")
		if err != nil {
			return nil, fmt.Errorf("create engine work dir: %w", err)
		}
		workDir, ownsWorkDir = dir, true
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create engine work dir: %w", err)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		if ownsWorkDir {
			_ = os.RemoveAll(workDir)
		}
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection keeps the attached catalogs and settings in a single session.
	db.SetMaxOpenConns(1)

	cfg.WorkDir = workDir
	e := NewWithDB(db, cfg, store, logger)
	e.ownsWorkDir = ownsWorkDir
	if err := e.setup(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// NewWithDB wraps an already opened database without running any setup
// statements. Persisting requires the catalogs that Open attaches.
func NewWithDB(db *sql.DB, cfg Config, store storage.ObjectStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strings.TrimSpace(cfg.ParquetCompression) == "" {
		cfg.ParquetCompression = "zstd"
	}
	return &Engine{
		db:        db,
		cfg:       cfg,
		store:     store,
		logger:    logger,
		workDir:   strings.TrimSpace(cfg.WorkDir),
		relations: map[string]*relation{},
	}
}

func (e *Engine) setup(ctx context.Context) error {
	statements := make([]string, 0, 5)
	if limit := strings.TrimSpace(e.cfg.MemoryLimit); limit != "" {
		statements = append(statements, fmt.Sprintf("SET memory_limit = %s", quoteString(limit)))
	}
	if e.cfg.Threads > 0 {
		statements = append(statements, fmt.Sprintf("SET threads = %d", e.cfg.Threads))
	}
	statements = append(statements,
		fmt.Sprintf("SET temp_directory = %s", quoteString(filepath.Join(e.workDir, "spill"))),
		fmt.Sprintf("ATTACH ':memory:' AS %s", memoryCatalog),
		fmt.Sprintf("ATTACH %s AS %s", quoteString(filepath.Join(e.workDir, "persisted.duckdb")), diskCatalog),
	)
	for _, statement := range statements {
		if _, err := e.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("configure duckdb (%s): %w", statement, err)
		}
	}
	e.attached = true
	return nil
}

func (e *Engine) Close() error {
	var result *multierror.Error
	if e.attached {
		for _, catalog := range []string{diskCatalog, memoryCatalog} {
			if _, err := e.db.Exec("DETACH " + catalog); err != nil {
				result = multierror.Append(result, fmt.Errorf("detach %s: %w", catalog, err))
			}
		}
		e.attached = false
	}
	if err := e.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close duckdb: %w", err))
	}
	if e.ownsWorkDir {
		if err := os.RemoveAll(e.workDir); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove work dir: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (e *Engine) Read(ctx context.Context, path string, format frame.Format) (*frame.Handle, error) {
	var inputs []string
	var err error
	if storage.IsObjectURI(path) {
		inputs, err = e.download(ctx, path, format)
	} else {
		inputs, err = resolveInputs(path, format)
	}
	if err != nil {
		return nil, err
	}

	source, err := scanExpr(inputs, format)
	if err != nil {
		return nil, err
	}
	return e.register(ctx, "SELECT * FROM "+source, inputs, path)
}

func (e *Engine) Cache(ctx context.Context, h *frame.Handle) error {
	return e.Persist(ctx, h, frame.StorageMemoryAndDisk)
}

func (e *Engine) Count(ctx context.Context, h *frame.Handle) (int64, error) {
	if _, err := e.lookup(h); err != nil {
		return 0, err
	}
	var total int64
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(h.Name)).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

func (e *Engine) CountNulls(ctx context.Context, h *frame.Handle, column string) (int64, error) {
	if _, err := e.lookup(h); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FILTER (WHERE %s IS NULL) FROM %s", quoteIdent(column), quoteIdent(h.Name))
	var nulls int64
	if err := e.db.QueryRowContext(ctx, query).Scan(&nulls); err != nil {
		return 0, fmt.Errorf("count nulls in %q: %w", column, err)
	}
	return nulls, nil
}

// DropColumns derives a new relation without the given columns. DuckDB cannot
// represent a relation with zero columns, so dropping all of them fails.
func (e *Engine) DropColumns(ctx context.Context, h *frame.Handle, columns ...string) (*frame.Handle, error) {
	parent, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return h, nil
	}
	schema, err := e.Schema(ctx, h)
	if err != nil {
		return nil, err
	}
	if len(columns) >= len(schema.Columns) {
		remaining := map[string]bool{}
		for _, name := range schema.Names() {
			remaining[name] = true
		}
		for _, name := range columns {
			delete(remaining, name)
		}
		if len(remaining) == 0 {
			return nil, fmt.Errorf("cannot drop every column of %s", h.Name)
		}
	}

	quoted := make([]string, 0, len(columns))
	for _, name := range columns {
		quoted = append(quoted, quoteIdent(name))
	}
	definition := fmt.Sprintf("SELECT * EXCLUDE (%s) FROM %s", strings.Join(quoted, ", "), quoteIdent(h.Name))
	return e.register(ctx, definition, parent.inputs, h.Name)
}

func (e *Engine) Schema(ctx context.Context, h *frame.Handle) (frame.Schema, error) {
	if _, err := e.lookup(h); err != nil {
		return frame.Schema{}, err
	}
	rows, err := e.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+quoteIdent(h.Name))
	if err != nil {
		return frame.Schema{}, fmt.Errorf("describe relation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return frame.Schema{}, fmt.Errorf("describe columns: %w", err)
	}
	schema := frame.Schema{}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return frame.Schema{}, fmt.Errorf("scan describe row: %w", err)
		}
		column := frame.Column{Nullable: true}
		for i, name := range columns {
			switch name {
			case "column_name":
				column.Name = values[i].String
			case "column_type":
				column.Type = values[i].String
			case "null":
				column.Nullable = !strings.EqualFold(values[i].String, "NO")
			}
		}
		schema.Columns = append(schema.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return frame.Schema{}, fmt.Errorf("iterate describe rows: %w", err)
	}
	return schema, nil
}

func (e *Engine) Head(ctx context.Context, h *frame.Handle, n int) (frame.Rows, error) {
	if _, err := e.lookup(h); err != nil {
		return frame.Rows{}, err
	}
	if n < 0 {
		n = 0
	}
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(h.Name), n))
	if err != nil {
		return frame.Rows{}, fmt.Errorf("select head: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return frame.Rows{}, fmt.Errorf("head columns: %w", err)
	}
	result := frame.Rows{Columns: columns, Values: make([][]any, 0, n)}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return frame.Rows{}, fmt.Errorf("scan row: %w", err)
		}
		result.Values = append(result.Values, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return frame.Rows{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func (e *Engine) register(ctx context.Context, definition string, inputs []string, origin string) (*frame.Handle, error) {
	name := newRelationName()
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(name), definition)); err != nil {
		return nil, fmt.Errorf("create view: %w", err)
	}
	e.mu.Lock()
	e.relations[name] = &relation{definition: definition, inputs: inputs, level: frame.StorageNone}
	e.mu.Unlock()
	return &frame.Handle{Name: name, Origin: origin}, nil
}

func (e *Engine) lookup(h *frame.Handle) (*relation, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil handle", ErrUnknownHandle)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rel, ok := e.relations[h.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, h.Name)
	}
	return rel, nil
}

func newRelationName() string {
	return "df_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// resolveInputs expands a directory into the files carrying the format's
// extension; any other path is passed through for DuckDB to open.
func resolveInputs(path string, format frame.Format) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", path, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), format.Extension()) {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files under %q", format, path)
	}
	sort.Strings(files)
	return files, nil
}

func scanExpr(inputs []string, format frame.Format) (string, error) {
	list := quoteStringArray(inputs)
	switch format {
	case frame.FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", list), nil
	case frame.FormatCSV:
		return fmt.Sprintf("read_csv_auto(%s, header = true)", list), nil
	case frame.FormatJSON:
		return fmt.Sprintf("read_json_auto(%s, format = 'newline_delimited')", list), nil
	default:
		return "", fmt.Errorf("%w: %q", frame.ErrUnsupportedFormat, format)
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
