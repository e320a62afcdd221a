// Package config provides the configuration structure for the zonos-worker.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageNone = "none"
	StorageNATS = "nats"
	StorageS3   = "s3"
)

// Environment overrides applied after the configurator has run.
const (
	envServiceURL = "ZONOS_SERVICE_URL"
	envNATSURL    = "NATS_URL"
	envHTTPAddr   = "HTTP_ADDR"
)

// Defaults for zero-valued settings.
const (
	defaultServiceURL        = "http://127.0.0.1:8000"
	defaultModelType         = "transformer"
	defaultTimeoutSeconds    = 300
	defaultProfile           = "v3"
	defaultText              = "Hello, world!"
	defaultLanguage          = "en-us"
	defaultMaxTextRunes      = 2000
	defaultMinReferenceSecs  = 1.0
	defaultMaxReferenceSecs  = 120.0
	defaultHTTPAddr          = ":8080"
	defaultHTTPWorkers       = 4
	defaultJobTTLSeconds     = 3600
	defaultJobsSubject       = "zonos.jobs"
	defaultQueueGroup        = "zonos-workers"
	defaultAudioBucket       = "ZONOS_AUDIO"
	defaultStorageBackendRaw = StorageNone
)

var (
	// ErrServiceURLEmpty indicates that the model service URL is empty.
	ErrServiceURLEmpty = errors.New("model service url cannot be empty")
	// ErrUnknownStorage indicates an unsupported storage backend.
	ErrUnknownStorage = errors.New("unknown storage backend")
	// ErrBucketEmpty indicates that storage is enabled without a bucket.
	ErrBucketEmpty = errors.New("storage bucket cannot be empty")
	// ErrRegionEmpty indicates that S3 storage is enabled without a region.
	ErrRegionEmpty = errors.New("s3 region cannot be empty")
	// ErrReferenceBounds indicates inverted reference duration bounds.
	ErrReferenceBounds = errors.New("min reference seconds must not exceed max reference seconds")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL            string `toml:"url"`
	JobsSubject    string `toml:"jobs_subject"`
	QueueGroup     string `toml:"queue_group"`
	ResultsSubject string `toml:"results_subject"`
}

// ModelConfig describes the external Zonos inference backend.
type ModelConfig struct {
	ServiceURL     string `toml:"service_url"`
	DefaultType    string `toml:"default_type"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Preload        bool   `toml:"preload"`
}

// HandlerConfig holds the job handler settings.
type HandlerConfig struct {
	Profile             string  `toml:"profile"`
	DefaultText         string  `toml:"default_text"`
	DefaultLanguage     string  `toml:"default_language"`
	MaxTextRunes        int     `toml:"max_text_runes"`
	MinReferenceSeconds float64 `toml:"min_reference_seconds"`
	MaxReferenceSeconds float64 `toml:"max_reference_seconds"`
	UploadResults       bool    `toml:"upload_results"`
}

// HTTPConfig holds the HTTP job API settings.
type HTTPConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Workers       int    `toml:"workers"`
	JobTTLSeconds int    `toml:"job_ttl_seconds"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend  string `toml:"backend"`
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Model   ModelConfig   `toml:"model"`
	Handler HandlerConfig `toml:"handler"`
	HTTP    HTTPConfig    `toml:"http"`
	Storage StorageConfig `toml:"storage"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the zonos-worker.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	LoadDotEnv(log)
	cfg.ApplyEnv()
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file in the working directory.
// Variables already set in the environment win. A missing file is ignored.
func LoadDotEnv(log *logger.Logger) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env file: %v", err)
	}
}

// ApplyEnv overrides a handful of settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(envServiceURL); v != "" {
		c.Model.ServiceURL = v
	}

	if v := os.Getenv(envNATSURL); v != "" {
		c.NATS.URL = v
	}

	if v := os.Getenv(envHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
}

// ApplyDefaults fills in zero-valued settings.
func (c *Config) ApplyDefaults() {
	c.Model.ServiceURL = strings.TrimRight(c.Model.ServiceURL, "/")
	setString(&c.Model.ServiceURL, defaultServiceURL)
	setString(&c.Model.DefaultType, defaultModelType)
	setInt(&c.Model.TimeoutSeconds, defaultTimeoutSeconds)

	setString(&c.Handler.Profile, defaultProfile)
	setString(&c.Handler.DefaultText, defaultText)
	setString(&c.Handler.DefaultLanguage, defaultLanguage)
	setInt(&c.Handler.MaxTextRunes, defaultMaxTextRunes)

	if c.Handler.MinReferenceSeconds == 0 {
		c.Handler.MinReferenceSeconds = defaultMinReferenceSecs
	}

	if c.Handler.MaxReferenceSeconds == 0 {
		c.Handler.MaxReferenceSeconds = defaultMaxReferenceSecs
	}

	setString(&c.HTTP.Addr, defaultHTTPAddr)
	setInt(&c.HTTP.Workers, defaultHTTPWorkers)
	setInt(&c.HTTP.JobTTLSeconds, defaultJobTTLSeconds)

	setString(&c.NATS.JobsSubject, defaultJobsSubject)
	setString(&c.NATS.QueueGroup, defaultQueueGroup)

	setString(&c.Storage.Backend, defaultStorageBackendRaw)

	if c.Storage.Backend == StorageNATS {
		setString(&c.Storage.Bucket, defaultAudioBucket)
	}

	setString(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Model.ServiceURL == "" {
		return ErrServiceURLEmpty
	}

	if c.Handler.MinReferenceSeconds > c.Handler.MaxReferenceSeconds {
		return fmt.Errorf("%w: %.1f > %.1f", ErrReferenceBounds,
			c.Handler.MinReferenceSeconds, c.Handler.MaxReferenceSeconds)
	}

	switch c.Storage.Backend {
	case StorageNone:
		return nil
	case StorageNATS:
		if c.Storage.Bucket == "" {
			return ErrBucketEmpty
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return ErrBucketEmpty
		}

		if c.Storage.Region == "" {
			return ErrRegionEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorage, c.Storage.Backend)
	}

	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
