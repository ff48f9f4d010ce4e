// Package config loads speakerid configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults
//  2. a .env file in the working directory, if present
//  3. the YAML config file (<config>/speakerid/config.yaml or --config)
//  4. SPEAKERID_* environment variables, e.g. SPEAKERID_LIBRARY_ROOT
//
// The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/haivivi/speakerid/pkg/cli"
	"github.com/haivivi/speakerid/pkg/conversation"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

const (
	// AppName names the per-user config and cache directories.
	AppName = "speakerid"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "SPEAKERID"
)

// Library backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Speaker group stores.
const (
	GroupsFiles = "files"
	GroupsKV    = "kv"
)

// Diarizer providers.
const (
	DiarizerAssemblyAI = "assemblyai"
	DiarizerStatic     = "static"
)

// Config is the complete configuration.
type Config struct {
	// Dir is the app config directory. It is derived, never loaded.
	Dir string `yaml:"-" ignored:"true"`

	Library    LibraryConfig   `yaml:"library" envconfig:"LIBRARY"`
	VoiceDB    VoiceDBConfig   `yaml:"voicedb" envconfig:"VOICEDB"`
	Embedding  EmbeddingConfig `yaml:"embedding" envconfig:"EMBEDDING"`
	Diarizer   DiarizerConfig  `yaml:"diarizer" envconfig:"DIARIZER"`
	Thresholds Thresholds      `yaml:"thresholds" envconfig:"THRESHOLDS"`
	Process    ProcessConfig   `yaml:"process" envconfig:"PROCESS"`
}

// LibraryConfig locates the conversation library.
type LibraryConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=local s3"`

	// Root is the local library directory.
	Root string `yaml:"root" envconfig:"ROOT" validate:"required_if=Backend local"`

	Bucket   string `yaml:"bucket" envconfig:"BUCKET" validate:"required_if=Backend s3"`
	Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
	Region   string `yaml:"region" envconfig:"REGION"`
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT" validate:"omitempty,url"`

	// Groups selects where per-conversation speaker groups live: the
	// speakers/ folders of the library, or the kv store.
	Groups string `yaml:"groups" envconfig:"GROUPS" validate:"oneof=files kv"`
}

// VoiceDBConfig locates the voice database and job records.
type VoiceDBConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR" validate:"required_without=InMemory"`

	// InMemory keeps everything in RAM; nothing survives the process.
	InMemory bool `yaml:"in_memory" envconfig:"IN_MEMORY"`
}

// EmbeddingConfig configures the embedding sidecar.
type EmbeddingConfig struct {
	// Endpoint is the sidecar URL. Commands that embed audio fail when it
	// is empty.
	Endpoint   string        `yaml:"endpoint" envconfig:"ENDPOINT" validate:"omitempty,url"`
	Dimension  int           `yaml:"dimension" envconfig:"DIMENSION" validate:"gt=0"`
	RateLimit  float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT" validate:"gte=0"`
	Burst      int           `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxElapsed time.Duration `yaml:"max_elapsed" envconfig:"MAX_ELAPSED"`
}

// DiarizerConfig selects the diarization provider.
type DiarizerConfig struct {
	Provider     string `yaml:"provider" envconfig:"PROVIDER" validate:"oneof=assemblyai static"`
	APIKey       string `yaml:"api_key" envconfig:"API_KEY"`
	LanguageCode string `yaml:"language_code" envconfig:"LANGUAGE_CODE"`
}

// Thresholds are the identity decision constants.
type Thresholds struct {
	Match              float32       `yaml:"match" envconfig:"MATCH" validate:"gt=0,lte=1"`
	AutoUpdate         float32       `yaml:"auto_update" envconfig:"AUTO_UPDATE" validate:"gt=0,lte=1"`
	DuplicateCurated   float32       `yaml:"duplicate_curated" envconfig:"DUPLICATE_CURATED" validate:"gt=0,lte=1"`
	DuplicateAutomatic float32       `yaml:"duplicate_automatic" envconfig:"DUPLICATE_AUTOMATIC" validate:"gt=0,lte=1"`
	VerifyAvg          float32       `yaml:"verify_avg" envconfig:"VERIFY_AVG" validate:"gt=0,lte=1"`
	VerifyMax          float32       `yaml:"verify_max" envconfig:"VERIFY_MAX" validate:"gt=0,lte=1"`
	Short              time.Duration `yaml:"short" envconfig:"SHORT" validate:"gt=0"`
	CombinedMin        time.Duration `yaml:"combined_min" envconfig:"COMBINED_MIN" validate:"gt=0"`
}

// ProcessConfig tunes recording processing.
type ProcessConfig struct {
	// Concurrency bounds how many recordings are processed at once.
	Concurrency int  `yaml:"concurrency" envconfig:"CONCURRENCY" validate:"gte=1"`
	AutoUpdate  bool `yaml:"auto_update" envconfig:"AUTO_UPDATE"`

	// LockDir holds conversation lock files. Empty locks within the
	// process only.
	LockDir string `yaml:"lock_dir" envconfig:"LOCK_DIR"`
}

// Default returns the built-in configuration rooted at paths.
func Default(paths *cli.Paths) *Config {
	return &Config{
		Dir: paths.AppDir(),
		Library: LibraryConfig{
			Backend: BackendLocal,
			Root:    paths.DataPath("library"),
			Groups:  GroupsFiles,
		},
		VoiceDB: VoiceDBConfig{
			Dir: paths.DataPath("voicedb"),
		},
		Embedding: EmbeddingConfig{
			Dimension:  voiceprint.DefaultDimension,
			Burst:      1,
			Timeout:    60 * time.Second,
			MaxElapsed: 30 * time.Second,
		},
		Diarizer: DiarizerConfig{
			Provider: DiarizerAssemblyAI,
		},
		Thresholds: Thresholds{
			Match:              identity.DefaultMatchThreshold,
			AutoUpdate:         identity.DefaultAutoUpdateConfidence,
			DuplicateCurated:   identity.DuplicateCurated,
			DuplicateAutomatic: identity.DuplicateAutomatic,
			VerifyAvg:          identity.DefaultAvgThreshold,
			VerifyMax:          identity.DefaultMaxThreshold,
			Short:              identity.DefaultShortDuration,
			CombinedMin:        conversation.DefaultMinCombined,
		},
		Process: ProcessConfig{
			Concurrency: 2,
			AutoUpdate:  true,
			LockDir:     paths.LockDir(),
		},
	}
}

// Load loads the configuration for the current user. An empty path reads
// the default config file if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	paths, err := cli.NewPaths(AppName)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return LoadFrom(paths, path)
}

// LoadFrom is Load with explicit user directories.
func LoadFrom(paths *cli.Paths, path string) (*Config, error) {
	cfg := Default(paths)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = paths.ConfigFile()
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
