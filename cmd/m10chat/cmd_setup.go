package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/m10chat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		fmt.Fprintln(out, "m10chat setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		runSetup(scanner, out, cfg)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

func runSetup(scanner *bufio.Scanner, out io.Writer, cfg *config.Config) {
	cfg.API.BaseURL = prompt(scanner, out, "Support API base URL", cfg.API.BaseURL)

	mock := prompt(scanner, out, "Mock mode (true/false)", strconv.FormatBool(cfg.MockMode))
	if v, err := strconv.ParseBool(mock); err == nil {
		cfg.MockMode = v
	}

	cfg.Chat.WelcomeMessage = prompt(scanner, out, "Welcome message (empty for built-in)", cfg.Chat.WelcomeMessage)

	// Optional
	cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)

	enabled := prompt(scanner, out, "Enable local HTTP API (true/false)", strconv.FormatBool(cfg.HTTP.Enabled))
	if v, err := strconv.ParseBool(enabled); err == nil {
		cfg.HTTP.Enabled = v
	}
	if cfg.HTTP.Enabled {
		cfg.HTTP.Listen = prompt(scanner, out, "HTTP listen address", cfg.HTTP.Listen)
	}
}

// prompt shows label with its default and reads one line. An empty answer
// keeps the default.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
