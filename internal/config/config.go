package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/duckmesh/duckframe/internal/frame"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Metrics       MetricsConfig
	Engine        EngineConfig
	ObjectStore   ObjectStoreConfig
	Helper        HelperConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

// MetricsConfig.Address empty disables the /metrics listener.
type MetricsConfig struct {
	Address string
}

type EngineConfig struct {
	Path               string
	WorkDir            string
	MemoryLimit        string
	Threads            int
	ParquetCompression string
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type HelperConfig struct {
	NullThreshold float64
	StorageLevel  frame.StorageLevel
	WriteFormat   frame.Format
	WriteMode     frame.SaveMode
	PreviewRows   int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKFRAME_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKFRAME_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "DUCKFRAME_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_METRICS_ADDR", &cfg.Metrics.Address); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_ENGINE_PATH", &cfg.Engine.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_ENGINE_WORK_DIR", &cfg.Engine.WorkDir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_ENGINE_MEMORY_LIMIT", &cfg.Engine.MemoryLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKFRAME_ENGINE_THREADS", &cfg.Engine.Threads); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_ENGINE_PARQUET_COMPRESSION", &cfg.Engine.ParquetCompression); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKFRAME_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKFRAME_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKFRAME_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKFRAME_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "DUCKFRAME_PRUNE_THRESHOLD", &cfg.Helper.NullThreshold); err != nil {
		return Config{}, err
	}
	if err := applyStorageLevel(lookup, "DUCKFRAME_STORAGE_LEVEL", &cfg.Helper.StorageLevel); err != nil {
		return Config{}, err
	}
	if err := applyFormat(lookup, "DUCKFRAME_WRITE_FORMAT", &cfg.Helper.WriteFormat); err != nil {
		return Config{}, err
	}
	if err := applySaveMode(lookup, "DUCKFRAME_WRITE_MODE", &cfg.Helper.WriteMode); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKFRAME_PREVIEW_ROWS", &cfg.Helper.PreviewRows); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKFRAME_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "DUCKFRAME_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Engine.Threads < 0 {
		return Config{}, fmt.Errorf("%w: DUCKFRAME_ENGINE_THREADS must not be negative", frame.ErrInvalidConfig)
	}
	if math.IsNaN(cfg.Helper.NullThreshold) || cfg.Helper.NullThreshold < 0 || cfg.Helper.NullThreshold > 1 {
		return Config{}, fmt.Errorf("%w: DUCKFRAME_PRUNE_THRESHOLD must be within [0, 1]", frame.ErrInvalidConfig)
	}
	if cfg.Helper.PreviewRows <= 0 {
		return Config{}, fmt.Errorf("%w: DUCKFRAME_PREVIEW_ROWS must be positive", frame.ErrInvalidConfig)
	}
	if cfg.ObjectStore.Enabled && cfg.ObjectStore.Bucket == "" {
		return Config{}, fmt.Errorf("object store bucket is required")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckframe"},
		Engine: EngineConfig{
			ParquetCompression: "zstd",
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "duckframe",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Helper: HelperConfig{
			NullThreshold: frame.DefaultNullThreshold,
			StorageLevel:  frame.DefaultStorageLevel,
			WriteFormat:   frame.DefaultFormat,
			WriteMode:     frame.DefaultSaveMode,
			PreviewRows:   frame.DefaultPreviewRows,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Engine.Threads = 1
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyStorageLevel(lookup LookupFunc, key string, dst *frame.StorageLevel) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level, err := frame.ParseStorageLevel(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = level
	return nil
}

func applyFormat(lookup LookupFunc, key string, dst *frame.Format) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	format, err := frame.ParseFormat(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = format
	return nil
}

func applySaveMode(lookup LookupFunc, key string, dst *frame.SaveMode) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	mode, err := frame.ParseSaveMode(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = mode
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
