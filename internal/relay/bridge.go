// Package relay bridges the support chat to a Telegram bot. A single
// long-poll loop binds the first chat that messages the bot and delivers
// its texts on a channel; Send mirrors conversation lines to that chat.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxTelegramMessage = 4096
	inboundBuffer      = 64
)

// ChatBinding persists the bound chat id.
type ChatBinding interface {
	Load() (int64, bool, error)
	Save(chatID int64) error
	Clear() error
}

// Options tunes the poll loop. Zero values take the defaults.
type Options struct {
	APIEndpoint     string
	PollTimeout     time.Duration
	LongPollTimeout time.Duration
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	HTTPClient      *http.Client
}

func (o *Options) withDefaults() {
	if o.APIEndpoint == "" {
		o.APIEndpoint = tgbotapi.APIEndpoint
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.LongPollTimeout <= 0 {
		o.LongPollTimeout = o.PollTimeout + 5*time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 3 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Polling      bool   `json:"polling"`
	Bound        bool   `json:"bound"`
	ChatID       int64  `json:"chat_id,omitempty"`
	LastUpdateID int    `json:"last_update_id"`
	LastError    string `json:"last_error,omitempty"`
}

// Bridge is the Telegram relay.
type Bridge struct {
	bot     *tgbotapi.BotAPI
	opts    Options
	binding ChatBinding
	inbound chan string

	mu        sync.Mutex
	chatID    int64
	bound     bool
	lastSeen  int
	lastError error
	polling   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a bridge for the given bot token. A previously persisted
// chat binding is restored. No network call is made until Start or Send.
func New(token string, binding ChatBinding, opts Options) (*Bridge, error) {
	opts.withDefaults()

	bot := &tgbotapi.BotAPI{Token: token, Client: opts.HTTPClient, Buffer: 100}
	bot.SetAPIEndpoint(opts.APIEndpoint)

	b := &Bridge{
		bot:     bot,
		opts:    opts,
		binding: binding,
		inbound: make(chan string, inboundBuffer),
	}
	if binding != nil {
		id, ok, err := binding.Load()
		if err != nil {
			return nil, err
		}
		b.chatID, b.bound = id, ok
	}
	return b, nil
}

// Inbound delivers accepted texts from the bound chat. It is never closed.
func (b *Bridge) Inbound() <-chan string {
	return b.inbound
}

// Start launches the poll loop. Calling Start while polling is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.polling {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.polling = true
	go b.loop(ctx, b.done)
}

// Stop ends the poll loop, aborting an in-flight getUpdates request, and
// waits for it to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Bridge) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		b.mu.Lock()
		b.polling = false
		b.cancel = nil
		b.mu.Unlock()
		close(done)
	}()

	slog.Info("relay polling started")
	for {
		wait := b.opts.PollInterval
		if err := b.poll(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("relay poll failed", "error", err, "retry_in", b.opts.ErrorBackoff)
			wait = b.opts.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			slog.Info("relay polling stopped")
			return
		case <-time.After(wait):
		}
	}
}

// poll runs one getUpdates round trip and processes the batch.
func (b *Bridge) poll(ctx context.Context) error {
	b.mu.Lock()
	offset := b.lastSeen + 1
	b.mu.Unlock()

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(b.opts.PollTimeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	updates, err := b.botFor(ctx, b.opts.LongPollTimeout).GetUpdates(cfg)
	if err != nil {
		err = classify("get updates", err)
		b.setLastError(err)
		return err
	}
	b.setLastError(nil)
	return b.process(ctx, updates)
}

func (b *Bridge) process(ctx context.Context, updates []tgbotapi.Update) error {
	var accepted []string

	b.mu.Lock()
	previous := b.lastSeen
	for _, u := range updates {
		if u.UpdateID > b.lastSeen {
			b.lastSeen = u.UpdateID
		}
		if u.UpdateID <= previous {
			continue
		}
		msg := u.Message
		if msg == nil || msg.Text == "" || msg.Chat == nil {
			continue
		}
		if msg.From != nil && msg.From.IsBot {
			continue
		}
		if !b.bound {
			if b.binding != nil {
				if err := b.binding.Save(msg.Chat.ID); err != nil {
					slog.Error("persist relay chat binding", "chat_id", msg.Chat.ID, "error", err)
				}
			}
			b.chatID, b.bound = msg.Chat.ID, true
			slog.Info("relay chat bound", "chat_id", msg.Chat.ID)
		}
		if msg.Chat.ID != b.chatID {
			slog.Debug("relay message from unbound chat discarded", "chat_id", msg.Chat.ID)
			continue
		}
		accepted = append(accepted, msg.Text)
	}
	b.mu.Unlock()

	for _, text := range accepted {
		select {
		case b.inbound <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Send posts text to the bound chat, split into Telegram-sized parts.
func (b *Bridge) Send(ctx context.Context, text string) error {
	b.mu.Lock()
	chatID, bound := b.chatID, b.bound
	b.mu.Unlock()

	if !bound {
		return ErrNoBoundChat
	}

	bot := b.botFor(ctx, b.opts.RequestTimeout)
	for _, part := range splitMessage(text) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return classify("send message", err)
		}
	}
	return nil
}

// Verify checks the token with getMe and returns the bot's username.
func (b *Bridge) Verify(ctx context.Context) (string, error) {
	user, err := b.botFor(ctx, b.opts.RequestTimeout).GetMe()
	if err != nil {
		return "", classify("get me", err)
	}
	return user.UserName, nil
}

// Unbind forgets the bound chat in memory and on disk. The next inbound
// message binds again.
func (b *Bridge) Unbind() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.binding != nil {
		if err := b.binding.Clear(); err != nil {
			return err
		}
	}
	b.chatID, b.bound = 0, false
	return nil
}

// Status reports the current bridge state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Polling:      b.polling,
		Bound:        b.bound,
		ChatID:       b.chatID,
		LastUpdateID: b.lastSeen,
	}
	if b.lastError != nil {
		s.LastError = b.lastError.Error()
	}
	return s
}

func (b *Bridge) setLastError(err error) {
	b.mu.Lock()
	b.lastError = err
	b.mu.Unlock()
}

func (b *Bridge) botFor(ctx context.Context, timeout time.Duration) *tgbotapi.BotAPI {
	bot := *b.bot
	bot.Client = &contextClient{ctx: ctx, timeout: timeout, base: b.opts.HTTPClient}
	return &bot
}

func classify(op string, err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{Op: op, Code: tgErr.Code, Description: tgErr.Message}
	}
	return &TransportError{Op: op, Err: err}
}

// splitMessage cuts text into parts of at most maxTelegramMessage runes.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		end := maxTelegramMessage
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	return parts
}
