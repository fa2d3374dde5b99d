package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// FileName is the name of the TOML override file looked up in the home and
// working directories.
const FileName = "arch-mgr.cfg"

// Config captures the full runtime configuration for arch-mgr.
type Config struct {
	App      AppConfig
	Archive  ArchiveConfig
	CloudLog CloudLogConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Name     string `env:"APP_NAME"`
	LogLevel string `env:"APP_LOG_LEVEL"`
}

type ArchiveConfig struct {
	IngestBucket           string `env:"INGEST_BUCKET"`
	ArchiveBucket          string `env:"ARCHIVE_BUCKET"`
	ArchiveStorageClass    string `env:"ARCHIVE_STORAGE_CLASS"`
	RemoveFromIngestBucket bool   `env:"REMOVE_FROM_INGEST_BUCKET"`
	ChunkSizeBytes         int    `env:"CHUNK_SIZE_BYTES"`
	ListPageSize           int    `env:"LIST_PAGE_SIZE"`
	CopyProgressStride     int64  `env:"COPY_PROGRESS_STRIDE"`
}

type CloudLogConfig struct {
	Group              string        `env:"LOG_GROUP"`
	Region             string        `env:"LOG_REGION"`
	MinimumPutInterval time.Duration `env:"LOG_MINIMUM_PUT_INTERVAL"`
	EnableErrorLogging bool          `env:"LOG_ENABLE_ERROR_LOGGING"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	TransitionTopic  string        `env:"KAFKA_TRANSITION_TOPIC"`
	Retries          int           `env:"KAFKA_RETRIES"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER"`
	Endpoint  string `env:"STORAGE_ENDPOINT"`
	Region    string `env:"STORAGE_REGION"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	UseSSL    bool   `env:"STORAGE_USE_SSL"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES"`
}

// Default returns the built-in configuration every other source overrides.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "arch-mgr",
			LogLevel: "info",
		},
		Archive: ArchiveConfig{
			ArchiveStorageClass: "STANDARD",
			ChunkSizeBytes:      16 * 1024 * 1024,
			ListPageSize:        1000,
			CopyProgressStride:  64 * 1024 * 1024,
		},
		CloudLog: CloudLogConfig{
			MinimumPutInterval: time.Second,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: time.Hour,
			IdleTimeout:  120 * time.Second,
		},
		Kafka: KafkaConfig{
			TransitionTopic:  "arch-mgr.transitions",
			Retries:          3,
			CompressionCodec: "snappy",
			BatchSize:        1,
			BatchTimeout:     time.Second,
		},
		Storage: StorageConfig{
			Provider: "s3",
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Tracing: TracingConfig{
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}

// Load builds the configuration from defaults, the home and working
// directory override files, and finally environment variables.
func Load() (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, FileName))
	}
	return LoadFrom(paths...)
}

// LoadFrom applies each existing file in order over the defaults, then the
// environment. Missing files are skipped.
func LoadFrom(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// fileConfig is the flat key set accepted in an override file. Only keys
// present in the file are applied.
type fileConfig struct {
	IngestBucket           *string `toml:"ingest_bucket"`
	ArchiveBucket          *string `toml:"archive_bucket"`
	ArchiveStorageClass    *string `toml:"archive_storage_class"`
	RemoveFromIngestBucket *bool   `toml:"remove_from_ingest_bucket"`
	LogGroup               *string `toml:"log_group"`
	LogRegion              *string `toml:"log_region"`
	MinimumPutIntervalMs   *int64  `toml:"minimum_put_interval_ms"`
	EnableErrorLogging     *bool   `toml:"enable_error_logging"`
	ChunkSizeBytes         *int    `toml:"chunk_size_bytes"`
}

func mergeFile(cfg *Config, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}

	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	// Nested tables never decode into the flat struct, so they show up here too.
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unsupported key %q", path, undecoded[0].String())
	}

	setString(&cfg.Archive.IngestBucket, fc.IngestBucket)
	setString(&cfg.Archive.ArchiveBucket, fc.ArchiveBucket)
	setString(&cfg.Archive.ArchiveStorageClass, fc.ArchiveStorageClass)
	setBool(&cfg.Archive.RemoveFromIngestBucket, fc.RemoveFromIngestBucket)
	setString(&cfg.CloudLog.Group, fc.LogGroup)
	setString(&cfg.CloudLog.Region, fc.LogRegion)
	setBool(&cfg.CloudLog.EnableErrorLogging, fc.EnableErrorLogging)
	if fc.MinimumPutIntervalMs != nil {
		cfg.CloudLog.MinimumPutInterval = time.Duration(*fc.MinimumPutIntervalMs) * time.Millisecond
	}
	if fc.ChunkSizeBytes != nil {
		cfg.Archive.ChunkSizeBytes = *fc.ChunkSizeBytes
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
