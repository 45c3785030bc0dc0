package supportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultResourceTimeout = 60 * time.Second
)

// Client implements Backend over the /chat/ios HTTP JSON API.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// New creates a Client. Zero timeouts fall back to 30s per request and 60s
// per resource.
func New(config *Config) *Client {
	cfg := *config
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = defaultResourceTimeout
	}
	return &Client{
		config: &cfg,
		httpClient: &http.Client{
			Timeout: cfg.ResourceTimeout,
		},
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Detail *string `json:"detail"`
}

type historyResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

type historyRecord struct {
	ID        string   `json:"id"`
	Text      *string  `json:"text"`
	Sender    string   `json:"sender"`
	Timestamp string   `json:"timestamp"`
	Sources   []Source `json:"sources"`
}

// CreateSession asks the backend for a new session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp sessionResponse
	if err := c.do(ctx, "create session", http.MethodPost, "/chat/ios/session", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &DecodeError{Op: "create session", Err: fmt.Errorf("missing session_id")}
	}
	if !safeSessionID(resp.SessionID) {
		return "", &DecodeError{Op: "create session", Err: fmt.Errorf("unsafe session_id %q", resp.SessionID)}
	}
	return resp.SessionID, nil
}

// safeSessionID reports whether id can be used as a single path element.
func safeSessionID(id string) bool {
	return id != "." && !strings.ContainsAny(id, "/\\\x00") && !strings.Contains(id, "..")
}

// SendMessage posts a user message and returns the assistant's answer.
func (c *Client) SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	body := *req
	if body.Platform == "" {
		body.Platform = Platform
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now()
	}

	var resp MessageResponse
	if err := c.do(ctx, "send message", http.MethodPost, "/chat/ios/message", &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHistory fetches up to limit messages for the session. Records that do
// not decode or validate are skipped; the rest are returned in server order.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]HistoryMessage, error) {
	path := "/chat/ios/history/" + url.PathEscape(sessionID) + "?limit=" + strconv.Itoa(limit)

	var resp historyResponse
	if err := c.do(ctx, "get history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]HistoryMessage, 0, len(resp.Messages))
	for i, raw := range resp.Messages {
		msg, err := decodeHistoryRecord(raw)
		if err != nil {
			slog.Debug("skipping history record", "session_id", sessionID, "index", i, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func decodeHistoryRecord(raw json.RawMessage) (HistoryMessage, error) {
	var rec historyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return HistoryMessage{}, err
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return HistoryMessage{}, fmt.Errorf("invalid id %q: %w", rec.ID, err)
	}
	if rec.Text == nil {
		return HistoryMessage{}, fmt.Errorf("missing text")
	}
	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return HistoryMessage{}, err
	}
	return HistoryMessage{
		ID:        id.String(),
		Text:      *rec.Text,
		FromUser:  rec.Sender == "user",
		Timestamp: ts,
		Sources:   rec.Sources,
	}, nil
}

func (c *Client) endpoint(path string) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, c.config.BaseURL)
	}
	full, err := url.Parse(base.String() + path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	return full.String(), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	slog.Debug("backend response", "op", op, "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Detail: errorDetail(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func errorDetail(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != nil {
		return *er.Detail
	}
	if len(body) == 0 {
		return "unknown error"
	}
	return string(body)
}
