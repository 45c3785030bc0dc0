package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/user/m10chat/internal/types"
)

// Topic is the bus topic carrying controller events.
const Topic = "chat.events"

// EventKind names what changed.
type EventKind string

const (
	EventState   EventKind = "state"
	EventMessage EventKind = "message"
	EventTyping  EventKind = "typing"
	EventBanner  EventKind = "banner"
)

// Event is one controller change. Seq increases by one per published event;
// subscribers may see events out of order and should sort on it.
type Event struct {
	Seq       int64              `json:"seq"`
	Kind      EventKind          `json:"kind"`
	SessionID types.SessionID    `json:"session_id,omitempty"`
	State     State              `json:"state,omitempty"`
	Mode      types.Mode         `json:"mode,omitempty"`
	Message   *types.ChatMessage `json:"message,omitempty"`
	Typing    bool               `json:"typing,omitempty"`
	Banner    string             `json:"banner,omitempty"`
	At        time.Time          `json:"at"`
}

// Bus publishes controller events over an in-process watermill pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	seq    atomic.Int64
}

// NewBus creates a Bus logging through logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logger),
		),
	}
}

// Publish stamps ev with the next sequence number and publishes it.
func (b *Bus) Publish(ev Event) error {
	ev.Seq = b.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.pubsub.Publish(Topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams events until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				slog.Error("decode chat event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down, closing all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
