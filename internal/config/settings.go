// Package config loads the typed application settings.
//
// Precedence, lowest first: built-in defaults, the TOML config file,
// SERCHA_KB_* environment variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "SERCHA_KB"

// FileName is the config file looked for inside the data directory.
const FileName = "config.toml"

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// ChunkingSettings configures the chunker.
type ChunkingSettings struct {
	Tokens    int    `mapstructure:"tokens" validate:"gte=16,lte=8192"`
	Overlap   int    `mapstructure:"overlap" validate:"gte=0,ltfield=Tokens"`
	Tokenizer string `mapstructure:"tokenizer" validate:"oneof=words tiktoken"`
}

// EmbeddingSettings configures the embedding backend and its cache.
type EmbeddingSettings struct {
	Provider       string        `mapstructure:"provider" validate:"oneof=local openai ollama"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	Dimensions     int           `mapstructure:"dimensions" validate:"gte=0,lte=8192"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gte=1,lte=2048"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst          int           `mapstructure:"burst" validate:"gte=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CacheSize      int           `mapstructure:"cache_size" validate:"gte=0"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"gte=1,lte=64"`
}

// SearchSettings configures ranking defaults.
type SearchSettings struct {
	K            int     `mapstructure:"k" validate:"gte=1,lte=100"`
	Alpha        float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	SnippetChars int     `mapstructure:"snippet_chars" validate:"gte=20"`
	Candidates   int     `mapstructure:"candidates" validate:"gte=1"`
}

// WatchSettings configures watch sessions.
type WatchSettings struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"gt=0"`
}

// ScheduleSettings configures background tasks.
type ScheduleSettings struct {
	RescanInterval time.Duration `mapstructure:"rescan_interval" validate:"gte=0"`
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// Settings is the complete application configuration.
type Settings struct {
	DataDir       string            `mapstructure:"data_dir" validate:"required"`
	Roots         []string          `mapstructure:"roots" validate:"dive,required"`
	Storage       string            `mapstructure:"storage" validate:"oneof=sqlite memory"`
	MaxFileSizeMB int               `mapstructure:"max_file_size_mb" validate:"gte=0"`
	Workers       int               `mapstructure:"workers" validate:"gte=1,lte=64"`
	FileTimeout   time.Duration     `mapstructure:"file_timeout" validate:"gt=0"`
	Chunking      ChunkingSettings  `mapstructure:"chunking"`
	Embedding     EmbeddingSettings `mapstructure:"embedding"`
	Search        SearchSettings    `mapstructure:"search"`
	Watch         WatchSettings     `mapstructure:"watch"`
	Schedule      ScheduleSettings  `mapstructure:"schedule"`
	Server        ServerSettings    `mapstructure:"server"`
	Audit         bool              `mapstructure:"audit"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// MaxFileSize returns the size limit in bytes.
func (s *Settings) MaxFileSize() int64 {
	return int64(s.MaxFileSizeMB) << 20
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":    KeyDataDir,
	"root":        KeyRoots,
	"storage":     KeyStorage,
	"workers":     KeyWorkers,
	"provider":    KeyEmbeddingProvider,
	"model":       KeyEmbeddingModel,
	"host":        KeyServerHost,
	"port":        KeyServerPort,
	"debounce":    KeyWatchDebounce,
	"rescan":      KeyScheduleRescan,
	"max-size-mb": KeyMaxFileSizeMB,
}

// Load reads the settings. configFile may be empty, in which case
// <data_dir>/config.toml is read when present. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyEmbeddingAPIKey, EnvPrefix+"_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	if configFile == "" {
		candidate := filepath.Join(ExpandHome(v.GetString(KeyDataDir)), FileName)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.ConfigFile = configFile
	s.normalise()

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// normalise expands paths and drops blank roots.
func (s *Settings) normalise() {
	s.DataDir = ExpandHome(strings.TrimSpace(s.DataDir))
	roots := make([]string, 0, len(s.Roots))
	for _, r := range s.Roots {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			roots = append(roots, ExpandHome(part))
		}
	}
	s.Roots = roots
	s.Embedding.Provider = strings.ToLower(strings.TrimSpace(s.Embedding.Provider))
}

// Validate checks field ranges and cross-field constraints.
// Failures are reported as *domain.ValidationError keyed by config key.
func Validate(s *Settings) error {
	fields := make(map[string]string)

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("mapstructure")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			_, name, _ := strings.Cut(fe.Namespace(), ".")
			fields[name] = fe.Tag()
		}
	}

	provider := domain.EmbeddingProvider(s.Embedding.Provider)
	if provider.RequiresAPIKey() && s.Embedding.APIKey == "" {
		fields[KeyEmbeddingAPIKey] = "required_for_provider"
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolvePath returns the config file to edit: configFile when set,
// otherwise config.toml inside dataDir, the SERCHA_KB_DATA_DIR directory
// or the default data directory.
func ResolvePath(configFile, dataDir string) string {
	if configFile != "" {
		return ExpandHome(configFile)
	}
	if dataDir == "" {
		dataDir = os.Getenv(EnvPrefix + "_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(ExpandHome(dataDir), FileName)
}
