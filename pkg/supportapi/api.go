// Package supportapi talks to the M10 support chat backend.
package supportapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Backend is the chat backend used by the session controller.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]HistoryMessage, error)
}

// Platform is sent with every message request.
const Platform = "ios"

// Config holds connection settings for Client.
type Config struct {
	BaseURL         string
	RequestTimeout  time.Duration
	ResourceTimeout time.Duration
}

type DeviceInfo struct {
	Model      string `json:"model"`
	OSVersion  string `json:"os_version"`
	AppVersion string `json:"app_version"`
}

type MessageRequest struct {
	SessionID  string     `json:"session_id"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Platform   string     `json:"platform"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
}

type ResponseMetadata struct {
	TokensUsed *int     `json:"tokens_used,omitempty"`
	Model      *string  `json:"model,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type MessageResponse struct {
	SessionID string           `json:"session_id"`
	MessageID string           `json:"message_id"`
	Answer    string           `json:"answer"`
	Language  string           `json:"language"`
	Sources   []Source         `json:"sources"`
	Timestamp Timestamp        `json:"timestamp"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// HistoryMessage is a validated history record.
type HistoryMessage struct {
	ID        string
	Text      string
	FromUser  bool
	Timestamp time.Time
	Sources   []Source
}

// Timestamp decodes RFC 3339 values with or without a zone offset.
// Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range zonelessLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unrecognized format %q", s)
}
