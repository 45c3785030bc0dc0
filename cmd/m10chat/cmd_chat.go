package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/user/m10chat/internal/chat"
	"github.com/user/m10chat/internal/types"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	relayStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("135"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	sessionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with support in the terminal",
	Long: `Open a support session and chat in the terminal.

Commands: /retry opens a new session, /dismiss hides the offline banner,
/quit exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.LogLevel == "" || strings.EqualFold(cfg.LogLevel, "info") {
		// Keep the terminal for the conversation.
		cfg.LogLevel = "warn"
	}
	defer setupLogging(cfg).Close()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := cmd.OutOrStdout()
	view := &chatView{out: out}

	events, err := a.controller.Events(ctx)
	if err != nil {
		return err
	}
	if err := a.controller.Start(ctx); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	defer a.close()

	view.update(a.controller.Snapshot())
	go func() {
		for range events {
			view.update(a.controller.Snapshot())
		}
	}()

	return chatLoop(ctx, cmd.InOrStdin(), out, a.controller, view)
}

// chatSession is the controller surface the terminal loop drives.
type chatSession interface {
	Submit(text string) (types.ChatMessage, error)
	Retry(ctx context.Context) error
	DismissBanner()
	Snapshot() chat.Snapshot
	WaitIdle(timeout time.Duration) bool
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, c chatSession, view *chatView) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/retry":
			if err := c.Retry(ctx); err != nil {
				fmt.Fprintln(out, bannerStyle.Render("Retry failed: "+err.Error()))
			}
		case "/dismiss":
			c.DismissBanner()
		default:
			if _, err := c.Submit(line); err != nil {
				fmt.Fprintln(out, bannerStyle.Render(submitErrorText(err)))
				continue
			}
			c.WaitIdle(time.Minute)
		}
		view.update(c.Snapshot())
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("read stdin", "error", err)
	}
	return nil
}

func submitErrorText(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Message is empty."
	case errors.Is(err, chat.ErrMessageTooLong):
		return "Message is too long."
	case errors.Is(err, chat.ErrNotReady):
		return "Session is not ready yet."
	default:
		return "Could not send: " + err.Error()
	}
}

// chatView prints snapshot messages once each. A new session id restarts
// the count.
type chatView struct {
	mu      sync.Mutex
	out     io.Writer
	session types.SessionID
	banner  string
	printed int
}

func (v *chatView) update(s chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.SessionID != v.session {
		v.session = s.SessionID
		v.printed = 0
		if s.SessionID != "" {
			fmt.Fprintln(v.out, sessionStyle.Render(fmt.Sprintf("session %s (%s)", s.SessionID, s.Mode)))
		}
	}
	if s.Banner != v.banner {
		v.banner = s.Banner
		if s.Banner != "" {
			fmt.Fprintln(v.out, bannerStyle.Render("! "+s.Banner))
		}
	}
	if v.printed > len(s.Messages) {
		v.printed = len(s.Messages)
	}
	for _, msg := range s.Messages[v.printed:] {
		fmt.Fprintln(v.out, renderMessage(msg))
	}
	v.printed = len(s.Messages)
}

func renderMessage(msg types.ChatMessage) string {
	var b strings.Builder
	switch {
	case msg.IsFromUser:
		b.WriteString(userStyle.Render("You:") + " " + msg.Text)
	case msg.Origin == types.OriginRelay:
		// Relay lines carry their own prefix.
		b.WriteString(relayStyle.Render(msg.Text))
	default:
		b.WriteString(agentStyle.Render("Support:") + " " + msg.Text)
	}
	for _, src := range msg.Sources {
		line := "  - " + src.Title
		if src.URL != "" {
			line += " (" + src.URL + ")"
		}
		b.WriteString("\n")
		b.WriteString(sourceStyle.Render(line))
	}
	return b.String()
}
