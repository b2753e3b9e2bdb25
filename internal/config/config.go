// Package config loads application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables
//  2. Config file (~/.casadex/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (database password, API key) are masked in String()
// and MarshalJSON(); validation fails fast at load time.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidSourceDir indicates the source folder is not usable.
	ErrInvalidSourceDir = errors.New("invalid source folder")

	// ErrInvalidHistoryBackend indicates an unknown session history backend.
	ErrInvalidHistoryBackend = errors.New("invalid history backend")

	// ErrInvalidChunking indicates chunk size/overlap settings are out of range.
	ErrInvalidChunking = errors.New("invalid chunking settings")

	// ErrInvalidRetrieval indicates retrieval settings are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval settings")
)

// Session history backends accepted in Config.HistoryBackend.
const (
	HistoryPostgres = "postgres"
	HistoryRedis    = "redis"
	HistoryMemory   = "memory"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when
// adding new secrets.
type Config struct {
	// Model configuration
	GeminiAPIKey   string  `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbedModel     string  `mapstructure:"embed_model" json:"embed_model"`
	GenerateModel  string  `mapstructure:"generate_model" json:"generate_model"`
	EmbedDimension int     `mapstructure:"embed_dimension" json:"embed_dimension"`
	ModelRPS       float64 `mapstructure:"model_rps" json:"model_rps"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Session history
	HistoryBackend    string `mapstructure:"history_backend" json:"history_backend"`
	HistoryLimit      int    `mapstructure:"history_limit" json:"history_limit"`
	RedisAddr         string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	SessionTTLMinutes int    `mapstructure:"session_ttl_minutes" json:"session_ttl_minutes"`

	// Ingestion
	SourceDir      string `mapstructure:"source_dir" json:"source_dir"`
	RowsPerSegment int    `mapstructure:"rows_per_segment" json:"rows_per_segment"`
	ChunkMaxRunes  int    `mapstructure:"chunk_max_runes" json:"chunk_max_runes"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	SyncWorkers    int    `mapstructure:"sync_workers" json:"sync_workers"`

	// Retrieval
	TopK      int `mapstructure:"top_k" json:"top_k"`
	Overfetch int `mapstructure:"overfetch" json:"overfetch"`

	// Server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".casadex")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres fields.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Model defaults
	viper.SetDefault("embed_model", "gemini-embedding-001")
	viper.SetDefault("generate_model", "gemini-2.5-flash")
	viper.SetDefault("embed_dimension", 768)
	viper.SetDefault("model_rps", 2.0)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "casadex")
	viper.SetDefault("postgres_password", "casadex_dev_password")
	viper.SetDefault("postgres_db_name", "casadex")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Session defaults
	viper.SetDefault("history_backend", HistoryPostgres)
	viper.SetDefault("history_limit", 20)
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("session_ttl_minutes", 1440)

	// Ingestion defaults
	viper.SetDefault("source_dir", "./knowledge")
	viper.SetDefault("rows_per_segment", 1)
	viper.SetDefault("chunk_max_runes", 1000)
	viper.SetDefault("chunk_overlap", 200)
	viper.SetDefault("sync_workers", 4)

	// Retrieval defaults
	viper.SetDefault("top_k", 5)
	viper.SetDefault("overfetch", 4)

	// Server defaults
	viper.SetDefault("server_addr", "127.0.0.1:3400")

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("postgres_password", "CASADEX_POSTGRES_PASSWORD")
	mustBind("redis_password", "CASADEX_REDIS_PASSWORD")

	mustBind("history_backend", "CASADEX_HISTORY_BACKEND")
	mustBind("redis_addr", "CASADEX_REDIS_ADDR")
	mustBind("source_dir", "CASADEX_SOURCE_DIR")
	mustBind("server_addr", "CASADEX_SERVER_ADDR")
	mustBind("log_level", "CASADEX_LOG_LEVEL")
	mustBind("log_json", "CASADEX_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters at each end for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisPassword = maskSecret(a.RedisPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
