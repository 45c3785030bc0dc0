package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/m10chat/internal/relay"
	"github.com/user/m10chat/internal/state"
)

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayStatusCmd, relayUnbindCmd, relayVerifyCmd, relaySendCmd)
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Manage the Telegram relay",
}

var relayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a Telegram chat is bound",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()

		chatID, bound, err := state.NewBindingStore(cfg.DataDir).Load()
		if err != nil {
			return fmt.Errorf("load binding: %w", err)
		}
		if cfg.Telegram.Token == "" {
			fmt.Fprintln(out, "Relay: disabled (no telegram.token)")
		} else {
			fmt.Fprintln(out, "Relay: enabled")
		}
		if bound {
			fmt.Fprintf(out, "Bound chat: %d\n", chatID)
		} else {
			fmt.Fprintln(out, "Bound chat: none (the first chat to message the bot is bound)")
		}
		return nil
	},
}

var relayUnbindCmd = &cobra.Command{
	Use:   "unbind",
	Short: "Forget the bound Telegram chat",
	Long: "Forget the bound Telegram chat. When a server is running with the HTTP API\n" +
		"enabled, it drops the binding immediately; otherwise relay.json is cleared.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()

		_, runErr := pidFileIn(cfg.DataDir).running()
		serverUp := runErr == nil
		if serverUp && cfg.HTTP.Enabled {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := unbindRunning(ctx, cfg.HTTP.Listen)
			if err == nil {
				fmt.Fprintln(out, "Relay chat unbound.")
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Running server did not unbind: %v\n", err)
		}

		if err := state.NewBindingStore(cfg.DataDir).Clear(); err != nil {
			return fmt.Errorf("clear binding: %w", err)
		}
		if serverUp {
			fmt.Fprintln(out, "Relay chat unbound. Restart the server to pick up the change.")
		} else {
			fmt.Fprintln(out, "Relay chat unbound.")
		}
		return nil
	},
}

// unbindRunning asks the server listening on addr to drop its relay chat.
func unbindRunning(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, "http://"+addr+"/api/relay/binding", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, body.Error)
	}
	return nil
}

var relayVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the bot token against Telegram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge, err := requireBridge()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		username, err := bridge.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify bot token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token OK: @%s\n", username)
		return nil
	},
}

var relaySendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a line to the bound chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge, err := requireBridge()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := bridge.Send(ctx, args[0]); err != nil {
			if errors.Is(err, relay.ErrNoBoundChat) {
				return errors.New("no chat is bound yet: message the bot first while the server runs")
			}
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Sent.")
		return nil
	},
}

func requireBridge() (*relay.Bridge, error) {
	bridge, err := newBridge(loadConfig())
	if err != nil {
		return nil, err
	}
	if bridge == nil {
		return nil, errors.New("telegram.token is not set")
	}
	return bridge, nil
}
