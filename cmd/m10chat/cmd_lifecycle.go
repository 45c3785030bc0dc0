package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// signalServer delivers sig to the process recorded by `serve`.
func signalServer(cmd *cobra.Command, sig syscall.Signal, verb string) error {
	pid, err := pidFileIn(loadConfig().DataDir).running()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Asked server (PID %d) to %s.\n", pid, verb)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running `m10chat serve`",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalServer(cmd, syscall.SIGTERM, "stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec a running `m10chat serve` with fresh config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalServer(cmd, syscall.SIGHUP, "restart")
	},
}
