package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/m10chat/internal/fallback"
	"github.com/user/m10chat/internal/relay"
	"github.com/user/m10chat/internal/state"
	"github.com/user/m10chat/internal/types"
	"github.com/user/m10chat/pkg/supportapi"
)

type fakeBackend struct {
	mu         sync.Mutex
	createErrs []error
	sessionID  string
	history    []supportapi.HistoryMessage
	historyErr error
	send       func(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error)
	requests   []supportapi.MessageRequest
}

func (f *fakeBackend) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.sessionID, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	send := f.send
	f.mu.Unlock()
	if send == nil {
		return &supportapi.MessageResponse{SessionID: req.SessionID, Answer: "echo: " + req.Message}, nil
	}
	return send(ctx, req)
}

func (f *fakeBackend) GetHistory(ctx context.Context, sessionID string, limit int) ([]supportapi.HistoryMessage, error) {
	return f.history, f.historyErr
}

func (f *fakeBackend) Requests() []supportapi.MessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supportapi.MessageRequest(nil), f.requests...)
}

type fakeRelay struct {
	mu      sync.Mutex
	inbound chan string
	sent    []string
	started int
	stopped int
	sendErr error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{inbound: make(chan string, 8)}
}

func (r *fakeRelay) Start(ctx context.Context) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *fakeRelay) Stop() {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

func (r *fakeRelay) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *fakeRelay) Inbound() <-chan string {
	return r.inbound
}

func (r *fakeRelay) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

var errUnreachable = &supportapi.TransportError{Op: "create session", Err: errors.New("connection refused")}

func startController(t *testing.T, deps Deps) *Controller {
	t.Helper()
	c := New(deps, Options{Retry: fastPolicy(2)})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func texts(msgs []types.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestStartOnlineLoadsHistoryBeforeWelcome(t *testing.T) {
	backend := &fakeBackend{
		sessionID: "abc123",
		history: []supportapi.HistoryMessage{
			{ID: "6f1c2a52-6d4b-4c1e-9b1f-0d2a7c3e9a10", Text: "earlier question", FromUser: true},
			{ID: "2b7e1d7c-3f0a-4d5e-8c6b-1a2b3c4d5e6f", Text: "earlier answer"},
		},
	}
	c := startController(t, Deps{Backend: backend})

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, types.ModeOnline, snap.Mode)
	assert.Equal(t, types.SessionID("abc123"), snap.SessionID)
	assert.Empty(t, snap.Banner)
	assert.Equal(t, []string{"earlier question", "earlier answer", DefaultWelcomeMessage}, texts(snap.Messages))
	assert.Equal(t, types.OriginHistory, snap.Messages[0].Origin)
	assert.True(t, snap.Messages[0].IsFromUser)
}

func TestHistoryFailureIsSilent(t *testing.T) {
	backend := &fakeBackend{sessionID: "abc123", historyErr: errors.New("boom")}
	c := startController(t, Deps{Backend: backend})

	snap := c.Snapshot()
	assert.Equal(t, types.ModeOnline, snap.Mode)
	assert.Equal(t, []string{DefaultWelcomeMessage}, texts(snap.Messages))
}

func TestStartOfflineUsesFallback(t *testing.T) {
	backend := &fakeBackend{createErrs: []error{errUnreachable}}
	c := startController(t, Deps{Backend: backend})

	snap := c.Snapshot()
	assert.True(t, strings.HasPrefix(string(snap.SessionID), types.LocalSessionPrefix))
	assert.Equal(t, types.ModeOffline, snap.Mode)
	assert.Equal(t, OfflineBanner, snap.Banner)
	assert.Equal(t, []string{DefaultWelcomeMessage}, texts(snap.Messages))

	_, err := c.Submit("  what is my balans?  ")
	require.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	snap = c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "what is my balans?", snap.Messages[1].Text)
	assert.True(t, snap.Messages[1].IsFromUser)
	assert.Equal(t, fallback.Default().Reply("balans"), snap.Messages[2].Text)
	assert.False(t, snap.Messages[2].IsFromUser)
	assert.Empty(t, backend.Requests(), "offline sessions never call the backend")
}

func TestSubmitOnlineCallsBackend(t *testing.T) {
	backend := &fakeBackend{
		sessionID: "abc123",
		send: func(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error) {
			return &supportapi.MessageResponse{
				SessionID: req.SessionID,
				Answer:    "Check the home screen.",
				Sources: []supportapi.Source{
					{Title: "FAQ", URL: "https://m10.az/faq", Excerpt: "<p>Open <strong>Home</strong></p>"},
					{Title: "Relative", URL: "/faq", Excerpt: "plain"},
				},
			}, nil
		},
	}
	c := startController(t, Deps{Backend: backend})

	_, err := c.Submit("hi")
	require.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "abc123", reqs[0].SessionID)
	assert.Equal(t, "hi", reqs[0].Message)

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 3)
	reply := snap.Messages[2]
	assert.Equal(t, "Check the home screen.", reply.Text)
	assert.Equal(t, types.OriginAssistant, reply.Origin)
	require.Len(t, reply.Sources, 2)
	assert.Equal(t, "https://m10.az/faq", reply.Sources[0].URL)
	assert.Equal(t, "Open **Home**", reply.Sources[0].Excerpt)
	assert.Empty(t, reply.Sources[1].URL)
	assert.Equal(t, "plain", reply.Sources[1].Excerpt)
}

func TestSubmitBackendFailureFallsBack(t *testing.T) {
	backend := &fakeBackend{
		sessionID: "abc123",
		send: func(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error) {
			return nil, &supportapi.StatusError{Op: "send message", Code: 503, Detail: "down"}
		},
	}
	c := startController(t, Deps{Backend: backend})

	_, err := c.Submit("köçürmə etmək istəyirəm")
	require.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, fallback.Default().Reply("köçürmə"), snap.Messages[2].Text)
	assert.Len(t, backend.Requests(), 2, "503 is retried once before falling back")
}

func TestSubmitRejectsEmptyAndLongInput(t *testing.T) {
	backend := &fakeBackend{sessionID: "abc123"}
	c := startController(t, Deps{Backend: backend})

	_, err := c.Submit("   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = c.Submit(strings.Repeat("ə", 501))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = c.Submit(strings.Repeat("ə", 500))
	assert.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	assert.Len(t, backend.Requests(), 1)
	assert.Len(t, c.Snapshot().Messages, 3)
}

func TestSubmitBeforeStart(t *testing.T) {
	c := New(Deps{Backend: &fakeBackend{sessionID: "abc123"}}, Options{})
	_, err := c.Submit("hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRepliesAppendInSendOrder(t *testing.T) {
	backend := &fakeBackend{
		sessionID: "abc123",
		send: func(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error) {
			if req.Message == "first" {
				time.Sleep(30 * time.Millisecond)
			}
			return &supportapi.MessageResponse{Answer: "re: " + req.Message}, nil
		},
	}
	c := startController(t, Deps{Backend: backend})

	for _, text := range []string{"first", "second", "third"} {
		_, err := c.Submit(text)
		require.NoError(t, err)
	}
	require.True(t, c.WaitIdle(2*time.Second))

	var replies []string
	for _, m := range c.Snapshot().Messages {
		if m.Origin == types.OriginAssistant {
			replies = append(replies, m.Text)
		}
	}
	assert.Equal(t, []string{"re: first", "re: second", "re: third"}, replies)
}

func TestRelayMirrorsConversation(t *testing.T) {
	rl := newFakeRelay()
	c := startController(t, Deps{Backend: &fakeBackend{sessionID: "abc123"}, Relay: rl})

	_, err := c.Submit("hi")
	require.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	assert.Equal(t, []string{"User: hi", "Assistant: echo: hi"}, rl.Sent())
}

func TestRelayFailureDoesNotBlockChat(t *testing.T) {
	rl := newFakeRelay()
	rl.sendErr = relay.ErrNoBoundChat
	c := startController(t, Deps{Backend: &fakeBackend{sessionID: "abc123"}, Relay: rl})

	_, err := c.Submit("hi")
	require.NoError(t, err)
	require.True(t, c.WaitIdle(2*time.Second))

	assert.Len(t, c.Snapshot().Messages, 3)
}

func TestInboundRelayMessage(t *testing.T) {
	rl := newFakeRelay()
	c := startController(t, Deps{Backend: &fakeBackend{sessionID: "abc123"}, Relay: rl})

	rl.inbound <- "salam"

	require.Eventually(t, func() bool {
		return len(c.Snapshot().Messages) == 3 && len(rl.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "📱 Telegram: salam", snap.Messages[1].Text)
	assert.False(t, snap.Messages[1].IsFromUser)
	assert.Equal(t, types.OriginRelay, snap.Messages[1].Origin)
	assert.Equal(t, "echo: salam", snap.Messages[2].Text)
	assert.Equal(t, []string{"Assistant: echo: salam"}, rl.Sent())
}

func TestRetrySupersedesSession(t *testing.T) {
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	transcripts := state.NewTranscriptStore(dir)
	backend := &fakeBackend{createErrs: []error{errUnreachable}, sessionID: "abc123"}
	c := startController(t, Deps{Backend: backend, Sessions: sessions, Transcripts: transcripts})

	offline := c.Snapshot().SessionID
	require.True(t, offline.IsLocal())

	require.NoError(t, c.Retry(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, types.SessionID("abc123"), snap.SessionID)
	assert.Equal(t, types.ModeOnline, snap.Mode)
	assert.Empty(t, snap.Banner)
	assert.Equal(t, []string{DefaultWelcomeMessage}, texts(snap.Messages))

	ctx := context.Background()
	old, err := sessions.Get(ctx, offline)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusSuperseded, old.Status)
	assert.Equal(t, types.SessionID("abc123"), old.SupersededBy)
	assert.NotEmpty(t, old.InitError)

	count, err := transcripts.Count(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDismissBanner(t *testing.T) {
	c := startController(t, Deps{Backend: &fakeBackend{createErrs: []error{errUnreachable}}})
	require.NotEmpty(t, c.Snapshot().Banner)

	c.DismissBanner()
	assert.Empty(t, c.Snapshot().Banner)
}

func TestStopDiscardsLateReplies(t *testing.T) {
	entered := make(chan struct{})
	backend := &fakeBackend{
		sessionID: "abc123",
		send: func(ctx context.Context, req *supportapi.MessageRequest) (*supportapi.MessageResponse, error) {
			close(entered)
			<-ctx.Done()
			return nil, &supportapi.TransportError{Op: "send message", Err: ctx.Err()}
		},
	}
	rl := newFakeRelay()
	c := New(Deps{Backend: backend, Relay: rl}, Options{})
	require.NoError(t, c.Start(context.Background()))

	_, err := c.Submit("hi")
	require.NoError(t, err)
	<-entered

	c.Stop()

	snap := c.Snapshot()
	assert.Equal(t, []string{DefaultWelcomeMessage, "hi"}, texts(snap.Messages))
	assert.Equal(t, 1, rl.stopped)

	_, err = c.Submit("again")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, c.Retry(context.Background()), ErrNotReady)
}

func TestEventsPublished(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	c := New(Deps{Backend: &fakeBackend{sessionID: "abc123"}, Bus: bus}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Events(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventMessage {
				require.NotNil(t, ev.Message)
				assert.Equal(t, DefaultWelcomeMessage, ev.Message.Text)
				assert.Equal(t, types.SessionID("abc123"), ev.SessionID)
				assert.Positive(t, ev.Seq)
				return
			}
		case <-deadline:
			t.Fatal("no message event received")
		}
	}
}

func TestUnsafeSessionIDRunsOffline(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backend := &fakeBackend{sessionID: "../../escaped"}
	c := startController(t, Deps{
		Backend:     backend,
		Sessions:    state.NewSessionStore(dataDir),
		Transcripts: state.NewTranscriptStore(dataDir),
	})

	snap := c.Snapshot()
	assert.True(t, snap.SessionID.IsLocal())
	assert.Equal(t, types.ModeOffline, snap.Mode)
	assert.Equal(t, OfflineBanner, snap.Banner)

	_, err := os.Stat(filepath.Join(root, "escaped"))
	assert.True(t, os.IsNotExist(err), "nothing may be written outside the data dir")

	count, err := state.NewTranscriptStore(dataDir).Count(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetryWithSameSessionIDKeepsItActive(t *testing.T) {
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	backend := &fakeBackend{sessionID: "abc123"}
	c := startController(t, Deps{Backend: backend, Sessions: sessions})

	require.NoError(t, c.Retry(context.Background()))
	assert.Equal(t, types.SessionID("abc123"), c.Snapshot().SessionID)

	rec, err := sessions.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusActive, rec.Status)
	assert.Empty(t, rec.SupersededBy)
}
