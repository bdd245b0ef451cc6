package frame

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrInvalidConfig        = errors.New("invalid config")
	ErrStorageLevelConflict = errors.New("storage level already assigned")
	ErrPathExists           = errors.New("path already exists")
)

// Handle references a relation owned by the engine. The facade passes handles
// around but never owns the data behind them.
type Handle struct {
	Name   string
	Origin string
}

func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	return h.Name
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Schema lists columns in declared order.
type Schema struct {
	Columns []Column
}

func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for _, column := range s.Columns {
		names = append(names, column.Name)
	}
	return names
}

// TreeString renders the schema as an indented tree rooted at "root".
func (s Schema) TreeString() string {
	var b strings.Builder
	b.WriteString("root\n")
	for _, column := range s.Columns {
		fmt.Fprintf(&b, " |-- %s: %s (nullable = %t)\n", column.Name, strings.ToLower(column.Type), column.Nullable)
	}
	return b.String()
}

type Rows struct {
	Columns []string
	Values  [][]any
}

type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case FormatParquet, FormatCSV, FormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// Extension is the file suffix written for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

type SaveMode string

const (
	SaveModeOverwrite     SaveMode = "overwrite"
	SaveModeAppend        SaveMode = "append"
	SaveModeIgnore        SaveMode = "ignore"
	SaveModeErrorIfExists SaveMode = "errorifexists"
)

func ParseSaveMode(raw string) (SaveMode, error) {
	switch mode := SaveMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case SaveModeOverwrite, SaveModeAppend, SaveModeIgnore, SaveModeErrorIfExists:
		return mode, nil
	case "error", "default":
		return SaveModeErrorIfExists, nil
	default:
		return "", fmt.Errorf("%w: unknown save mode %q", ErrInvalidConfig, raw)
	}
}

type StorageLevel string

const (
	StorageNone               StorageLevel = "NONE"
	StorageDiskOnly           StorageLevel = "DISK_ONLY"
	StorageDiskOnly2          StorageLevel = "DISK_ONLY_2"
	StorageDiskOnly3          StorageLevel = "DISK_ONLY_3"
	StorageMemoryOnly         StorageLevel = "MEMORY_ONLY"
	StorageMemoryOnly2        StorageLevel = "MEMORY_ONLY_2"
	StorageMemoryAndDisk      StorageLevel = "MEMORY_AND_DISK"
	StorageMemoryAndDisk2     StorageLevel = "MEMORY_AND_DISK_2"
	StorageMemoryAndDiskDeser StorageLevel = "MEMORY_AND_DISK_DESER"
	StorageOffHeap            StorageLevel = "OFF_HEAP"
)

var storageLevels = []StorageLevel{
	StorageNone,
	StorageDiskOnly,
	StorageDiskOnly2,
	StorageDiskOnly3,
	StorageMemoryOnly,
	StorageMemoryOnly2,
	StorageMemoryAndDisk,
	StorageMemoryAndDisk2,
	StorageMemoryAndDiskDeser,
	StorageOffHeap,
}

// StorageLevels returns every level name the engine understands.
func StorageLevels() []StorageLevel {
	return append([]StorageLevel(nil), storageLevels...)
}

func ParseStorageLevel(raw string) (StorageLevel, error) {
	name := StorageLevel(strings.ToUpper(strings.TrimSpace(raw)))
	for _, level := range storageLevels {
		if level == name {
			return level, nil
		}
	}
	return "", fmt.Errorf("%w: unknown storage level %q", ErrInvalidConfig, raw)
}

// UsesDisk reports whether the level keeps its materialization on disk only.
func (l StorageLevel) UsesDisk() bool {
	switch l {
	case StorageDiskOnly, StorageDiskOnly2, StorageDiskOnly3:
		return true
	default:
		return false
	}
}

// Engine is the capability surface of the external engine. Implementations
// may run a full pass over the data for Count, CountNulls and Head.
type Engine interface {
	Read(ctx context.Context, path string, format Format) (*Handle, error)
	Cache(ctx context.Context, h *Handle) error
	Persist(ctx context.Context, h *Handle, level StorageLevel) error
	Unpersist(ctx context.Context, h *Handle) error
	StorageLevel(ctx context.Context, h *Handle) (StorageLevel, error)
	Count(ctx context.Context, h *Handle) (int64, error)
	CountNulls(ctx context.Context, h *Handle, column string) (int64, error)
	DropColumns(ctx context.Context, h *Handle, columns ...string) (*Handle, error)
	Schema(ctx context.Context, h *Handle) (Schema, error)
	Head(ctx context.Context, h *Handle, n int) (Rows, error)
	Write(ctx context.Context, h *Handle, path string, format Format, mode SaveMode) error
}
