package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"M10_API_BASE_URL", "M10_MOCK_MODE", "TELEGRAM_BOT_TOKEN", "M10_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if cfg.API.BaseURL != "https://api.m10support.com/api/v1" {
		t.Errorf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Errorf("expected history_limit=50, got %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.MaxMessageLength != 500 {
		t.Errorf("expected max_message_length=500, got %d", cfg.Chat.MaxMessageLength)
	}
	if cfg.MaxConcurrent != 1 {
		t.Errorf("expected max_concurrent=1, got %d", cfg.MaxConcurrent)
	}
	if cfg.RequestTimeout() != 30*time.Second || cfg.ResourceTimeout() != 60*time.Second {
		t.Errorf("unexpected timeouts %v / %v", cfg.RequestTimeout(), cfg.ResourceTimeout())
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("unexpected poll interval %v", cfg.PollInterval())
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"chat": {"history_limit": 10}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.HistoryLimit != 10 {
		t.Errorf("expected history_limit=10, got %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.MaxMessageLength != 500 {
		t.Errorf("expected default max_message_length, got %d", cfg.Chat.MaxMessageLength)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"chat": `), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("M10_API_BASE_URL", "http://localhost:8000/api/v1")
	t.Setenv("M10_MOCK_MODE", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("M10_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000/api/v1" {
		t.Errorf("base url not overridden: %q", cfg.API.BaseURL)
	}
	if !cfg.MockMode {
		t.Error("mock mode not overridden")
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token not overridden: %q", cfg.Telegram.Token)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level not overridden: %q", cfg.LogLevel)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.API.BaseURL = "http://localhost:8000/api/v1"
	original.Chat.WelcomeMessage = "Hello"
	original.Telegram.Token = "bot-token-456"
	original.HTTP.Listen = "127.0.0.1:9000"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.API.BaseURL != original.API.BaseURL {
		t.Errorf("API.BaseURL mismatch: %v != %v", loaded.API.BaseURL, original.API.BaseURL)
	}
	if loaded.Chat.WelcomeMessage != original.Chat.WelcomeMessage {
		t.Errorf("Chat.WelcomeMessage mismatch: %v != %v", loaded.Chat.WelcomeMessage, original.Chat.WelcomeMessage)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v != %v", loaded.Telegram.Token, original.Telegram.Token)
	}
	if loaded.HTTP.Listen != original.HTTP.Listen {
		t.Errorf("HTTP.Listen mismatch: %v != %v", loaded.HTTP.Listen, original.HTTP.Listen)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/test"}
	cfg.Chat.HistoryLimit = 20

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	chat, ok := m["chat"].(map[string]any)
	if !ok {
		t.Fatalf("expected chat to be map, got %T", m["chat"])
	}
	if chat["history_limit"] != float64(20) {
		t.Errorf("expected chat.history_limit=20, got %v", chat["history_limit"])
	}
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Telegram.Token = "bot-token-abcd"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if plain["telegram.token"] != "bot-token-abcd" {
		t.Errorf("expected unmasked token, got %v", plain["telegram.token"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if masked["telegram.token"] != "***abcd" {
		t.Errorf("expected masked token ***abcd, got %v", masked["telegram.token"])
	}
	if masked["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", masked["log_level"])
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := Default()
	cfg.Chat.HistoryLimit = 25
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "api.base_url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "https://api.m10support.com/api/v1" {
		t.Errorf("unexpected api.base_url %v", v)
	}

	v, err = GetValue(path, "chat.history_limit")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(25) {
		t.Errorf("expected chat.history_limit=25, got %v (%T)", v, v)
	}
}

func TestGetValue_CreatesMissingFile(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	v, err := GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(1) {
		t.Errorf("expected max_concurrent=1, got %v", v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_Types(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	cases := []struct {
		key, raw string
		want     any
	}{
		{"log_level", "debug", "debug"},
		{"chat.max_message_length", "300", float64(300)},
		{"mock_mode", "true", true},
		{"api.base_url", "http://localhost:8000/api/v1", "http://localhost:8000/api/v1"},
		{"custom.setting", "value", "value"},
	}
	for _, tc := range cases {
		if err := SetValue(path, tc.key, tc.raw); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tc.key, err)
		}
		v, err := GetValue(path, tc.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tc.key, err)
		}
		if v != tc.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tc.key, tc.want, tc.want, v, v)
		}
	}

	// Untouched values survive.
	v, err := GetValue(path, "chat.history_limit")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(50) {
		t.Errorf("expected chat.history_limit=50 preserved, got %v", v)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.MaxMessageLength != 300 || !cfg.MockMode {
		t.Errorf("typed reload mismatch: %d %v", cfg.Chat.MaxMessageLength, cfg.MockMode)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }, "BaseURL"},
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }, "BaseURL"},
		{"zero history limit", func(c *Config) { c.Chat.HistoryLimit = 0 }, "HistoryLimit"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, "MaxConcurrent"},
		{"listen required when enabled", func(c *Config) { c.HTTP.Listen = "" }, "Listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to name %s, got %q", tt.field, err.Error())
			}
		})
	}

	cfg := Default()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Listen = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("listen is optional when http is disabled: %v", err)
	}
}
