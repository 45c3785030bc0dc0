// Package chat owns the support conversation: it creates the session,
// routes user and relay messages to the backend or the fallback generator,
// mirrors the exchange to the relay and publishes every change.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/user/m10chat/internal/fallback"
	"github.com/user/m10chat/internal/relay"
	"github.com/user/m10chat/internal/types"
	"github.com/user/m10chat/pkg/supportapi"
)

// State is the controller lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateSending       State = "sending"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrNotReady       = errors.New("chat session is not ready")
)

const (
	DefaultWelcomeMessage = "Salam! Mən m10 dəstək xidmətindən Aydın. Necə kömək edə bilərəm?"
	OfflineBanner         = "Support service is unreachable. Replies are generated offline until you retry."

	relayUserPrefix      = "User: "
	relayAssistantPrefix = "Assistant: "
	relayInboundPrefix   = "📱 Telegram: "
)

// Relay is the messenger bridge the controller mirrors the chat to.
type Relay interface {
	Start(ctx context.Context)
	Stop()
	Send(ctx context.Context, text string) error
	Inbound() <-chan string
}

// Deps are the controller's collaborators. Only Backend is required.
type Deps struct {
	Backend     supportapi.Backend
	Relay       Relay
	Fallback    *fallback.Generator
	Sessions    types.SessionStore
	Transcripts types.TranscriptStore
	Bus         *Bus
}

// Options tunes the controller. Zero values take the defaults.
type Options struct {
	HistoryLimit     int
	MaxMessageLength int
	WelcomeMessage   string
	MaxConcurrent    int64
	Device           supportapi.DeviceInfo
	Retry            *RetryPolicy
}

func (o *Options) withDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 500
	}
	if o.WelcomeMessage == "" {
		o.WelcomeMessage = DefaultWelcomeMessage
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
	if o.Retry == nil {
		o.Retry = DefaultRetryPolicy()
	}
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	State     State               `json:"state"`
	Mode      types.Mode          `json:"mode,omitempty"`
	SessionID types.SessionID     `json:"session_id,omitempty"`
	Messages  []types.ChatMessage `json:"messages"`
	Typing    bool                `json:"typing"`
	Banner    string              `json:"banner,omitempty"`
}

// Controller runs one conversation at a time.
type Controller struct {
	deps  Deps
	opts  Options
	queue *Queue

	mu       sync.Mutex
	state    State
	session  *types.Session
	banner   string
	inFlight int
	started  bool
	alive    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. Call Start to open the session.
func New(deps Deps, opts Options) *Controller {
	opts.withDefaults()
	if deps.Fallback == nil {
		deps.Fallback = fallback.Default()
	}
	c := &Controller{
		deps:  deps,
		opts:  opts,
		state: StateUninitialized,
	}
	c.queue = NewQueue(opts.MaxConcurrent, c.process)
	return c
}

// Start opens the session, then starts the relay and consumes its inbound
// messages until Stop or ctx cancellation.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	c.started, c.alive = true, true
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	c.mu.Unlock()

	c.queue.Start(ctx)
	if err := c.initialize(ctx); err != nil {
		return err
	}

	if c.deps.Relay != nil {
		c.deps.Relay.Start(ctx)
		c.wg.Add(1)
		go c.consumeInbound(ctx)
	}
	return nil
}

// Stop cancels the relay polling, the inbound consumer and the send queue.
// Replies that finish afterwards are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	cancel := c.cancel
	c.mu.Unlock()

	if c.deps.Relay != nil {
		c.deps.Relay.Stop()
	}
	cancel()
	c.queue.Stop()
	c.wg.Wait()
}

// Retry opens a new session and supersedes the current one.
func (c *Controller) Retry(ctx context.Context) error {
	return c.initialize(ctx)
}

func (c *Controller) initialize(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive || c.state == StateInitializing {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.state = StateInitializing
	c.mu.Unlock()
	c.publish(Event{Kind: EventState, State: StateInitializing})

	sess := &types.Session{CreatedAt: time.Now()}
	var banner, initErr string

	id, err := c.deps.Backend.CreateSession(ctx)
	if err == nil {
		err = types.SessionID(id).Validate()
	}
	if err != nil {
		slog.Warn("create session failed, running offline", "error", err)
		sess.ID = types.NewLocalSessionID()
		banner, initErr = OfflineBanner, err.Error()
	} else {
		sess.ID = types.SessionID(id)
		sess.Messages = c.loadHistory(ctx, sess.ID)
	}
	sess.Mode = types.ModeOf(sess.ID)
	sess.Messages = append(sess.Messages, types.NewChatMessage(c.opts.WelcomeMessage, false, types.OriginSystem))

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrNotReady
	}
	previous := c.session
	c.session, c.banner, c.state = sess, banner, StateReady
	initial := append([]types.ChatMessage(nil), sess.Messages...)
	c.mu.Unlock()

	slog.Info("chat session ready", "session_id", string(sess.ID), "mode", string(sess.Mode), "history", len(initial)-1)
	c.record(sess, previous, initErr)
	for i := range initial {
		c.persist(sess.ID, initial[i])
	}

	c.publish(Event{Kind: EventState, State: StateReady, SessionID: sess.ID, Mode: sess.Mode})
	if banner != "" {
		c.publish(Event{Kind: EventBanner, SessionID: sess.ID, Banner: banner})
	}
	for i := range initial {
		c.publish(Event{Kind: EventMessage, SessionID: sess.ID, Message: &initial[i]})
	}
	return nil
}

func (c *Controller) loadHistory(ctx context.Context, id types.SessionID) []types.ChatMessage {
	history, err := c.deps.Backend.GetHistory(ctx, string(id), c.opts.HistoryLimit)
	if err != nil {
		slog.Info("history unavailable", "session_id", string(id), "error", err)
		return nil
	}

	msgs := make([]types.ChatMessage, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, types.ChatMessage{
			ID:         types.MessageID(h.ID),
			Text:       h.Text,
			IsFromUser: h.FromUser,
			Origin:     types.OriginHistory,
			CreatedAt:  h.Timestamp,
			Sources:    citationsFrom(h.Sources),
		})
	}
	return msgs
}

// Submit appends the user's message and queues its reply. The returned
// message is the one appended.
func (c *Controller) Submit(text string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > c.opts.MaxMessageLength {
		return types.ChatMessage{}, fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, c.opts.MaxMessageLength)
	}

	c.mu.Lock()
	sess, ready := c.session, c.alive && c.state == StateReady
	c.mu.Unlock()
	if !ready || sess == nil {
		return types.ChatMessage{}, ErrNotReady
	}

	msg := types.NewChatMessage(text, true, types.OriginLocal)
	if !c.appendMessage(sess, msg) {
		return types.ChatMessage{}, ErrNotReady
	}
	if err := c.queue.Enqueue(&Job{Origin: types.OriginLocal, Text: text, Session: sess}); err != nil {
		return msg, fmt.Errorf("enqueue reply: %w", err)
	}
	return msg, nil
}

func (c *Controller) consumeInbound(ctx context.Context) {
	defer c.wg.Done()
	inbound := c.deps.Relay.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-inbound:
			c.handleInbound(text)
		}
	}
}

func (c *Controller) handleInbound(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}

	if !c.appendMessage(sess, types.NewChatMessage(relayInboundPrefix+text, false, types.OriginRelay)) {
		return
	}
	if err := c.queue.Enqueue(&Job{Origin: types.OriginRelay, Text: text, Session: sess}); err != nil {
		slog.Error("enqueue relay reply", "error", err)
	}
}

// process produces and appends the reply for one job.
func (c *Controller) process(job *Job) error {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.setTyping(1)
	defer c.setTyping(-1)

	var answer string
	var sources []types.Citation

	g, gctx := errgroup.WithContext(ctx)
	if job.Origin == types.OriginLocal {
		g.Go(func() error {
			c.forward(gctx, relayUserPrefix+job.Text)
			return nil
		})
	}
	g.Go(func() error {
		answer, sources = c.reply(gctx, job.Session.ID, job.Text)
		return nil
	})
	_ = g.Wait()

	msg := types.NewChatMessage(answer, false, types.OriginAssistant)
	msg.Sources = sources
	if !c.appendMessage(job.Session, msg) {
		slog.Debug("reply discarded", "session_id", string(job.Session.ID))
		return nil
	}
	c.forward(ctx, relayAssistantPrefix+answer)
	return nil
}

// reply asks the backend when online and falls back on any failure.
func (c *Controller) reply(ctx context.Context, id types.SessionID, text string) (string, []types.Citation) {
	if id.IsLocal() {
		return c.deps.Fallback.Reply(text), nil
	}

	var resp *supportapi.MessageResponse
	err := c.opts.Retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.deps.Backend.SendMessage(ctx, &supportapi.MessageRequest{
			SessionID:  string(id),
			Message:    text,
			DeviceInfo: c.opts.Device,
		})
		return err
	})
	if err != nil {
		slog.Warn("backend reply failed, using fallback", "session_id", string(id), "error", err)
		return c.deps.Fallback.Reply(text), nil
	}
	if strings.TrimSpace(resp.Answer) == "" {
		slog.Warn("backend returned an empty answer, using fallback", "session_id", string(id))
		return c.deps.Fallback.Reply(text), nil
	}
	return resp.Answer, citationsFrom(resp.Sources)
}

// forward mirrors text to the relay. Failures are logged only.
func (c *Controller) forward(ctx context.Context, text string) {
	if c.deps.Relay == nil {
		return
	}
	if err := c.deps.Relay.Send(ctx, text); err != nil {
		if errors.Is(err, relay.ErrNoBoundChat) {
			slog.Debug("relay has no bound chat")
			return
		}
		slog.Warn("relay send failed", "error", err)
	}
}

// appendMessage appends msg if sess is still the live session.
func (c *Controller) appendMessage(sess *types.Session, msg types.ChatMessage) bool {
	c.mu.Lock()
	if !c.alive || c.session != sess {
		c.mu.Unlock()
		return false
	}
	sess.Messages = append(sess.Messages, msg)
	c.mu.Unlock()

	c.persist(sess.ID, msg)
	c.publish(Event{Kind: EventMessage, SessionID: sess.ID, Message: &msg})
	return true
}

func (c *Controller) setTyping(delta int) {
	c.mu.Lock()
	before := c.inFlight > 0
	c.inFlight += delta
	after := c.inFlight > 0
	var id types.SessionID
	if c.session != nil {
		id = c.session.ID
	}
	c.mu.Unlock()

	if before != after {
		state := StateReady
		if after {
			state = StateSending
		}
		c.publish(Event{Kind: EventTyping, SessionID: id, Typing: after, State: state})
	}
}

// DismissBanner hides the offline banner.
func (c *Controller) DismissBanner() {
	c.mu.Lock()
	had := c.banner != ""
	c.banner = ""
	var id types.SessionID
	if c.session != nil {
		id = c.session.ID
	}
	c.mu.Unlock()

	if had {
		c.publish(Event{Kind: EventBanner, SessionID: id})
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:    c.state,
		Typing:   c.inFlight > 0,
		Banner:   c.banner,
		Messages: []types.ChatMessage{},
	}
	if s.State == StateReady && s.Typing {
		s.State = StateSending
	}
	if c.session != nil {
		s.SessionID = c.session.ID
		s.Mode = c.session.Mode
		s.Messages = append(s.Messages, c.session.Messages...)
	}
	return s
}

// Events streams controller events. It returns an error when the
// controller was built without a bus.
func (c *Controller) Events(ctx context.Context) (<-chan Event, error) {
	if c.deps.Bus == nil {
		return nil, errors.New("event bus not configured")
	}
	return c.deps.Bus.Subscribe(ctx)
}

// WaitIdle blocks until every queued reply has been appended, or the
// timeout expires.
func (c *Controller) WaitIdle(timeout time.Duration) bool {
	return c.queue.WaitIdle(timeout)
}

func (c *Controller) publish(ev Event) {
	if c.deps.Bus == nil {
		return
	}
	if err := c.deps.Bus.Publish(ev); err != nil {
		slog.Warn("publish chat event", "kind", string(ev.Kind), "error", err)
	}
}

func (c *Controller) persist(id types.SessionID, msg types.ChatMessage) {
	if c.deps.Transcripts == nil {
		return
	}
	if err := c.deps.Transcripts.Append(context.Background(), id, msg); err != nil {
		slog.Error("persist chat message", "session_id", string(id), "error", err)
	}
}

func (c *Controller) record(sess *types.Session, previous *types.Session, initErr string) {
	if c.deps.Sessions == nil {
		return
	}
	ctx := context.Background()
	err := c.deps.Sessions.Create(ctx, &types.SessionRecord{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		CreatedAt: sess.CreatedAt,
		InitError: initErr,
	})
	if err != nil {
		slog.Error("record session", "session_id", string(sess.ID), "error", err)
	}
	if previous == nil || previous.ID == sess.ID {
		return
	}
	if err := c.deps.Sessions.Supersede(ctx, previous.ID, sess.ID); err != nil {
		slog.Error("supersede session", "session_id", string(previous.ID), "error", err)
	}
}
