package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat session with the relay and the local HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	defer setupLogging(cfg).Close()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	pid := pidFileIn(cfg.DataDir)
	if err := pid.write(); err != nil {
		return err
	}
	defer pid.remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.controller.Start(ctx); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	defer a.close()

	snap := a.controller.Snapshot()
	slog.Info("m10chat started",
		"data_dir", cfg.DataDir,
		"session_id", string(snap.SessionID),
		"mode", string(snap.Mode),
		"mock_mode", cfg.MockMode,
		"relay", a.bridge != nil,
		"pid_file", string(pid),
	)
	if a.bridge == nil {
		slog.Warn("telegram relay disabled (no token)")
	}

	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           a.handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http api started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http api error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			a.close()
			pid.remove()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				return fmt.Errorf("re-exec: %w", err)
			}
		}
		slog.Info("shutting down", "signal", sig.String())
		return nil
	}
}
