// Package httpapi is the local HTTP surface over the chat controller.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/m10chat/internal/chat"
	"github.com/user/m10chat/internal/relay"
	"github.com/user/m10chat/internal/types"
)

// ChatService is the controller surface the API drives.
type ChatService interface {
	Snapshot() chat.Snapshot
	Submit(text string) (types.ChatMessage, error)
	Retry(ctx context.Context) error
	DismissBanner()
}

// RelayControl reports the relay bridge state and drops its chat binding.
type RelayControl interface {
	Status() relay.Status
	Unbind() error
}

// Server is the HTTP handler for the local API.
type Server struct {
	chat        ChatService
	relay       RelayControl
	sessions    types.SessionStore
	transcripts types.TranscriptStore
	mux         *http.ServeMux
}

// NewServer creates a Server. relay, sessions and transcripts may be nil;
// their endpoints then answer 503.
func NewServer(svc ChatService, rs RelayControl, sessions types.SessionStore, transcripts types.TranscriptStore) *Server {
	s := &Server{
		chat:        svc,
		relay:       rs,
		sessions:    sessions,
		transcripts: transcripts,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/messages", s.handleSubmit)
	s.mux.HandleFunc("POST /api/session/retry", s.handleRetry)
	s.mux.HandleFunc("DELETE /api/session/banner", s.handleDismissBanner)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	s.mux.HandleFunc("GET /api/relay", s.handleRelay)
	s.mux.HandleFunc("DELETE /api/relay/binding", s.handleRelayUnbind)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// submitRequest is the JSON body for POST /api/messages.
type submitRequest struct {
	Text string `json:"text"`
}

type submitResponse struct {
	Message types.ChatMessage `json:"message"`
	Session chat.Snapshot     `json:"session"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	msg, err := s.chat.Submit(req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, submitResponse{Message: msg, Session: s.chat.Snapshot()})
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("submit message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Retry(r.Context()); err != nil {
		if errors.Is(err, chat.ErrNotReady) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("retry session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	s.chat.DismissBanner()
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	*types.SessionRecord
	MessageCount int64 `json:"message_count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	ctx := r.Context()
	records, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(records))
	for _, rec := range records {
		resp := sessionResponse{SessionRecord: rec}
		if s.transcripts != nil {
			count, err := s.transcripts.Count(ctx, rec.SessionID)
			if err != nil {
				slog.Warn("count messages failed", "session_id", string(rec.SessionID), "error", err)
			}
			resp.MessageCount = count
		}
		result = append(result, resp)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}
	sessionID := types.SessionID(r.PathValue("id"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.transcripts.Tail(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("tail transcript failed", "session_id", string(sessionID), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*types.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.relay.Status())
}

func (s *Server) handleRelayUnbind(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}
	if err := s.relay.Unbind(); err != nil {
		slog.Error("unbind relay chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	slog.Info("relay chat unbound")
	writeJSON(w, http.StatusOK, s.relay.Status())
}
