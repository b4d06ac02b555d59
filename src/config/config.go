// Package config provides configuration management for graphdoctor.
// Configuration is read from a JSON file, overlaid with environment
// variables, and validated before use.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Config enumerates every recognized option and its default. There is no
// dynamic settings bag: unknown keys in the config file are rejected.
type Config struct {
	// Capture.
	BufferLimit       int `json:"buffer_limit" validate:"min=1"`
	QueueCapacity     int `json:"queue_capacity" validate:"min=1"`
	TracebackTimeoutS int `json:"traceback_timeout_seconds" validate:"min=1"`

	// History.
	HistorySize int    `json:"history_size" validate:"min=1"`
	ArchiveDSN  string `json:"archive_dsn,omitempty"`

	// Sanitization.
	PrivacyMode string `json:"privacy_mode" validate:"oneof=none basic strict"`

	// Provider.
	ProviderBaseURL string `json:"provider_base_url" validate:"omitempty,url"`
	ProviderAPIKey  string `json:"provider_api_key,omitempty"`
	Model           string `json:"model"`
	Language        string `json:"language"`
	EndpointIsLocal bool   `json:"endpoint_is_local"`

	// Dispatch.
	RequestsPerMinute  int `json:"requests_per_minute" validate:"min=1"`
	MaxConcurrent      int `json:"max_concurrent" validate:"min=1"`
	MaxAttempts        int `json:"max_attempts" validate:"min=1,max=10"`
	StreamIdleTimeoutS int `json:"stream_idle_timeout_seconds" validate:"min=1"`

	// Patterns.
	PatternFile string `json:"pattern_file,omitempty"`

	// Composer.
	MaxPackages int `json:"max_packages" validate:"min=1"`

	// Persistence.
	RunLogDir  string `json:"run_log_dir,omitempty"`
	MaxRunLogs int    `json:"max_run_logs" validate:"min=1"`

	// Server.
	ListenAddr string `json:"listen_addr"`

	// Events. Empty means in-memory emitter only.
	EventBrokers []string `json:"event_brokers,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BufferLimit:        500,
		QueueCapacity:      256,
		TracebackTimeoutS:  5,
		HistorySize:        20,
		PrivacyMode:        "basic",
		Model:              "gpt-4o-mini",
		Language:           "en",
		RequestsPerMinute:  30,
		MaxConcurrent:      3,
		MaxAttempts:        3,
		StreamIdleTimeoutS: 30,
		MaxPackages:        25,
		MaxRunLogs:         10,
		ListenAddr:         "127.0.0.1:8299",
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad loads the configuration and panics on error. Useful in main()
// where configuration errors should be fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Only secrets and
// deployment-specific knobs are exposed through the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GRAPHDOCTOR_API_KEY"); v != "" {
		cfg.ProviderAPIKey = v
	}
	if v := os.Getenv("GRAPHDOCTOR_BASE_URL"); v != "" {
		cfg.ProviderBaseURL = v
	}
	if v := os.Getenv("GRAPHDOCTOR_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("GRAPHDOCTOR_ARCHIVE_DSN"); v != "" {
		cfg.ArchiveDSN = v
	}
	if v := os.Getenv("GRAPHDOCTOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GRAPHDOCTOR_ENDPOINT_LOCAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EndpointIsLocal = b
		}
	}
}
