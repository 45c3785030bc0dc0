package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/user/m10chat/internal/chat"
	"github.com/user/m10chat/internal/config"
	"github.com/user/m10chat/internal/fallback"
	"github.com/user/m10chat/internal/httpapi"
	"github.com/user/m10chat/internal/relay"
	"github.com/user/m10chat/internal/state"
	"github.com/user/m10chat/pkg/supportapi"
)

// app holds the wired components for one process.
type app struct {
	cfg         *config.Config
	sessions    *state.SessionStore
	transcripts *state.TranscriptStore
	bridge      *relay.Bridge
	bus         *chat.Bus
	controller  *chat.Controller
}

func newBackend(cfg *config.Config) supportapi.Backend {
	if cfg.MockMode {
		slog.Info("mock mode enabled, backend calls stay in-process")
		return supportapi.NewMock()
	}
	return supportapi.New(&supportapi.Config{
		BaseURL:         cfg.API.BaseURL,
		RequestTimeout:  cfg.RequestTimeout(),
		ResourceTimeout: cfg.ResourceTimeout(),
	})
}

func newFallback(cfg *config.Config) (*fallback.Generator, error) {
	if cfg.Chat.FallbackRulesPath == "" {
		return fallback.Default(), nil
	}
	table, err := fallback.LoadTable(cfg.Chat.FallbackRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load fallback rules: %w", err)
	}
	return fallback.New(table), nil
}

// newBridge returns nil when no bot token is configured.
func newBridge(cfg *config.Config) (*relay.Bridge, error) {
	if cfg.Telegram.Token == "" {
		return nil, nil
	}
	bridge, err := relay.New(cfg.Telegram.Token, state.NewBindingStore(cfg.DataDir), relay.Options{
		APIEndpoint:  cfg.Telegram.APIEndpoint,
		PollTimeout:  cfg.PollTimeout(),
		PollInterval: cfg.PollInterval(),
		ErrorBackoff: cfg.ErrorBackoff(),
	})
	if err != nil {
		return nil, fmt.Errorf("create relay: %w", err)
	}
	return bridge, nil
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	gen, err := newFallback(cfg)
	if err != nil {
		return nil, err
	}
	bridge, err := newBridge(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		sessions:    state.NewSessionStore(cfg.DataDir),
		transcripts: state.NewTranscriptStore(cfg.DataDir),
		bridge:      bridge,
		bus:         chat.NewBus(slog.Default()),
	}

	retry := chat.DefaultRetryPolicy()
	if cfg.Chat.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Chat.RetryAttempts
	}

	deps := chat.Deps{
		Backend:     newBackend(cfg),
		Fallback:    gen,
		Sessions:    a.sessions,
		Transcripts: a.transcripts,
		Bus:         a.bus,
	}
	if bridge != nil {
		deps.Relay = bridge
	}
	a.controller = chat.New(deps, chat.Options{
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		WelcomeMessage:   cfg.Chat.WelcomeMessage,
		MaxConcurrent:    int64(cfg.MaxConcurrent),
		Device: supportapi.DeviceInfo{
			Model:      cfg.Device.Model,
			OSVersion:  cfg.Device.OSVersion,
			AppVersion: cfg.Device.AppVersion,
		},
		Retry: retry,
	})
	return a, nil
}

// handler builds the local HTTP API.
func (a *app) handler() *httpapi.Server {
	var rs httpapi.RelayControl
	if a.bridge != nil {
		rs = a.bridge
	}
	return httpapi.NewServer(a.controller, rs, a.sessions, a.transcripts)
}

func (a *app) close() {
	a.controller.Stop()
	if err := a.bus.Close(); err != nil {
		slog.Warn("close event bus", "error", err)
	}
}
