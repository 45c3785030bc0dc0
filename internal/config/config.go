package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	MaxConcurrent int    `json:"max_concurrent" validate:"min=1"`
	MockMode      bool   `json:"mock_mode"`
	API           struct {
		BaseURL                string `json:"base_url" validate:"required,url"`
		RequestTimeoutSeconds  int    `json:"request_timeout_seconds" validate:"min=1"`
		ResourceTimeoutSeconds int    `json:"resource_timeout_seconds" validate:"min=1"`
	} `json:"api"`
	Chat struct {
		HistoryLimit      int    `json:"history_limit" validate:"min=1"`
		MaxMessageLength  int    `json:"max_message_length" validate:"min=1"`
		WelcomeMessage    string `json:"welcome_message"`
		FallbackRulesPath string `json:"fallback_rules_path"`
		RetryAttempts     int    `json:"retry_attempts" validate:"min=1,max=10"`
	} `json:"chat"`
	Device struct {
		Model      string `json:"model"`
		OSVersion  string `json:"os_version"`
		AppVersion string `json:"app_version"`
	} `json:"device"`
	Telegram struct {
		Token               string `json:"token"`
		APIEndpoint         string `json:"api_endpoint"`
		PollTimeoutSeconds  int    `json:"poll_timeout_seconds" validate:"min=1"`
		PollIntervalMS      int    `json:"poll_interval_ms" validate:"min=0"`
		ErrorBackoffSeconds int    `json:"error_backoff_seconds" validate:"min=1"`
	} `json:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen" validate:"required_if=Enabled true"`
	} `json:"http"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".m10chat"),
		LogLevel:      "info",
		MaxConcurrent: 1,
	}
	cfg.API.BaseURL = "https://api.m10support.com/api/v1"
	cfg.API.RequestTimeoutSeconds = 30
	cfg.API.ResourceTimeoutSeconds = 60
	cfg.Chat.HistoryLimit = 50
	cfg.Chat.MaxMessageLength = 500
	cfg.Chat.RetryAttempts = 3
	cfg.Device.Model = "m10chat"
	cfg.Device.OSVersion = runtime.GOOS + "/" + runtime.GOARCH
	cfg.Device.AppVersion = "1.0"
	cfg.Telegram.PollTimeoutSeconds = 30
	cfg.Telegram.PollIntervalMS = 500
	cfg.Telegram.ErrorBackoffSeconds = 3
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8710"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("M10_API_BASE_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if mock := os.Getenv("M10_MOCK_MODE"); mock != "" {
		if v, err := strconv.ParseBool(mock); err == nil {
			cfg.MockMode = v
		}
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if level := os.Getenv("M10_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and required values. Load does not call it so that
// partial files stay editable through SetValue.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequestTimeout bounds a single backend call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSeconds) * time.Second
}

// ResourceTimeout bounds the backend HTTP client.
func (c *Config) ResourceTimeout() time.Duration {
	return time.Duration(c.API.ResourceTimeoutSeconds) * time.Second
}

// PollTimeout is the server-side long-poll window.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Telegram.PollTimeoutSeconds) * time.Second
}

// PollInterval is the pause between successful polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Telegram.PollIntervalMS) * time.Millisecond
}

// ErrorBackoff is the pause after a failed poll.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Telegram.ErrorBackoffSeconds) * time.Second
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// ToMap converts cfg to a nested map keyed by JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, masking secrets if asked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads a dot-separated key from the config file at path. The file
// is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores a dot-separated key in the existing config file at path.
// The value is decoded as JSON when possible (numbers, booleans) and stored
// as a string otherwise.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	flat := Flatten(raw)
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
