package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/m10chat/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print secret values unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and change settings in the config file",
	Long: `Settings are addressed by dotted keys such as api.base_url or
telegram.token. Environment variables (M10_API_BASE_URL, M10_MOCK_MODE,
TELEGRAM_BOT_TOKEN, M10_LOG_LEVEL) override the file at run time.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting, secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		showSecrets, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !showSecrets)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
		for _, k := range config.SortedKeys(values) {
			fmt.Fprintf(w, "%s\t= %v\n", k, values[k])
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:     "get <key>",
	Short:   "Print one setting",
	Example: "  m10chat config get chat.history_limit",
	Args:    cobra.ExactArgs(1),
	RunE:    func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if config.IsSecretKey(args[0]) {
			val = config.MaskSecrets(map[string]any{args[0]: val})[args[0]]
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Change one setting (numbers and booleans are stored typed)",
	Example: "  m10chat config set mock_mode true\n  m10chat config set api.base_url http://localhost:8000/api/v1",
	Args:    cobra.ExactArgs(2),
	RunE:    func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		// Load writes defaults on first use so there is a file to edit.
		if _, err := config.Load(cfgPath); err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, key, raw); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		if config.IsSecretKey(key) {
			raw = "(hidden)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated: %s\n", key, raw)
		return nil
	},
}
