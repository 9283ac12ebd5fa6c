// Package config provides configuration management for Memento.
// Settings come from, in increasing precedence: built-in defaults, an
// optional YAML file named by MEMENTO_CONFIG, a .env file in the working
// directory, and MEMENTO_ environment variables. Nested keys map to
// variables by joining with underscores, so search.max_results is read
// from MEMENTO_SEARCH_MAX_RESULTS.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/validation"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "MEMENTO"

// ConfigFileEnv names the variable holding an optional YAML config path.
const ConfigFileEnv = "MEMENTO_CONFIG"

// Config holds all configuration settings for the Memento application.
type Config struct {
	Storage StorageConfig      `mapstructure:"storage"`
	LLM     LLMConfig          `mapstructure:"llm"`
	Search  SearchConfig       `mapstructure:"search"`
	Decay   engine.DecayConfig `mapstructure:"decay"`
	Notes   NotesConfig        `mapstructure:"notes"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
	Log     LogConfig          `mapstructure:"log"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// DataPath holds workspace databases (default: ./data).
	DataPath string `mapstructure:"data_path" validate:"required"`

	// WorkspacesFile is a JSON workspace list. Empty means a single
	// workspace stored under DataPath.
	WorkspacesFile string `mapstructure:"workspaces_file"`

	// DefaultWorkspace serves requests that name none (default: default).
	DefaultWorkspace string `mapstructure:"default_workspace" validate:"required"`

	// VectorDSN is an optional postgres DSN for the pgvector index.
	VectorDSN string `mapstructure:"vector_dsn"`
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=ollama none"`
	OllamaURL         string        `mapstructure:"ollama_url" validate:"required,url"`
	Model             string        `mapstructure:"model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`

	// CacheSize bounds cached fallback classifications (default: 512).
	CacheSize int `mapstructure:"cache_size" validate:"gte=1"`

	// Fallback refines low-confidence classifications with the model.
	Fallback bool `mapstructure:"fallback"`

	// Embeddings enables chunk and query embeddings.
	Embeddings bool `mapstructure:"embeddings"`
}

// SearchConfig contains search defaults.
type SearchConfig struct {
	MaxResults     int `mapstructure:"max_results" validate:"gte=1,lte=100"`
	MaxExpansion   int `mapstructure:"max_expansion" validate:"gte=0"`
	CandidateLimit int `mapstructure:"candidate_limit" validate:"gtefield=MaxResults"`
}

// NotesConfig points at a markdown notes directory. An empty Path disables
// note indexing.
type NotesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]any{
	"storage.data_path":         "./data",
	"storage.workspaces_file":   "",
	"storage.default_workspace": "default",
	"storage.vector_dsn":        "",

	"llm.provider":            "ollama",
	"llm.ollama_url":          "http://localhost:11434",
	"llm.model":               "qwen2.5:7b",
	"llm.embedding_model":     "nomic-embed-text",
	"llm.timeout":             "30s",
	"llm.requests_per_second": 5.0,
	"llm.burst":               5,
	"llm.cache_size":          512,
	"llm.fallback":            true,
	"llm.embeddings":          true,

	"search.max_results":     10,
	"search.max_expansion":   5,
	"search.candidate_limit": 50,

	"decay.active_half_life_days":   90.0,
	"decay.resolved_half_life_days": 45.0,
	"decay.archived_half_life_days": 15.0,

	"notes.path":      "",
	"notes.watch":     false,
	"metrics.addr":    "",
	"log.level":       "info",
	"log.development": false,
}

// aliases keeps the short variable names of earlier releases working.
var aliases = map[string]string{
	"storage.data_path":   "MEMENTO_DATA_PATH",
	"llm.ollama_url":      "MEMENTO_OLLAMA_URL",
	"llm.model":           "MEMENTO_OLLAMA_MODEL",
	"llm.embedding_model": "MEMENTO_EMBEDDING_MODEL",
}

// LoadConfig loads configuration from the environment, reading the file
// named by MEMENTO_CONFIG when it is set.
func LoadConfig() (*Config, error) {
	return LoadFromPath(os.Getenv(ConfigFileEnv))
}

// LoadFromPath loads configuration from a YAML file at path, overlaid by
// environment variables. An empty path skips the file. The result is
// validated before it is returned.
func LoadFromPath(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range aliases {
		// The canonical name wins over the alias.
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EngineConfig returns the engine settings derived from the search, LLM
// and decay sections.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.MaxResults = c.Search.MaxResults
	ec.MaxExpansion = c.Search.MaxExpansion
	ec.CandidateLimit = c.Search.CandidateLimit
	if c.LLM.Timeout > 0 {
		ec.EmbeddingTimeout = c.LLM.Timeout
	}
	ec.Decay = c.Decay
	return ec
}

// NewLogger builds a zap logger writing to stderr. Stdout belongs to the
// MCP transport.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
