package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/m10chat/internal/export"
	"github.com/user/m10chat/internal/state"
	"github.com/user/m10chat/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)
	sessionShowCmd.Flags().StringP("format", "f", "markdown", "output format: json, yaml or markdown")
	sessionShowCmd.Flags().IntP("limit", "n", 0, "show only the last N messages (0 for all)")
	sessionShowCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect recorded chat sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		transcripts := state.NewTranscriptStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tSTATUS\tMESSAGES\tCREATED")
		for _, s := range list {
			count, err := transcripts.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.SessionID,
				s.Mode,
				s.Status,
				count,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Export a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")

		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		cfg := loadConfig()
		doc, err := loadDocument(context.Background(), cfg.DataDir, types.SessionID(args[0]), limit)
		if err != nil {
			return err
		}

		if output == "" {
			return exporter.Export(doc, cmd.OutOrStdout())
		}
		if filepath.Ext(output) == "" {
			output += "." + exporter.Extension()
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		if err := exporter.Export(doc, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d messages to %s\n", len(doc.Messages), output)
		return nil
	},
}

// loadDocument assembles an export document from the session index and the
// transcript. Sessions missing from the index still export when a
// transcript exists.
func loadDocument(ctx context.Context, dataDir string, id types.SessionID, limit int) (*export.Document, error) {
	sessions := state.NewSessionStore(dataDir)
	transcripts := state.NewTranscriptStore(dataDir)

	rec, err := sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	entries, err := transcripts.Tail(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if rec == nil && len(entries) == 0 {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return export.NewDocument(id, rec, entries), nil
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete recorded sessions",
	Long:  "Delete a session's index record and transcript, or every session with \"all\".",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		out := cmd.OutOrStdout()
		ctx := context.Background()

		if args[0] == "all" {
			if err := sessions.DeleteAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "All sessions cleared.")
			return nil
		}

		err := sessions.Delete(ctx, types.SessionID(args[0]))
		switch {
		case errors.Is(err, types.ErrInvalidSessionID):
			return fmt.Errorf("invalid session ID: %s", args[0])
		case errors.Is(err, state.ErrNotFound):
			return fmt.Errorf("session not found: %s", args[0])
		case err != nil:
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Fprintf(out, "Session %s cleared.\n", args[0])
		return nil
	},
}
