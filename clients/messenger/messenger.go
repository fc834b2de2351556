package messenger

import (
	"context"
	"fmt"
	"time"
)

// RateLimitedError is returned by a transport when the messaging API rejects a
// send and reports how long the caller must wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Sender delivers a plain-text message to a single recipient or channel ID.
type Sender interface {
	// SendText sends text to the given chat ID. Returns *RateLimitedError when
	// the transport reports a required wait time.
	SendText(ctx context.Context, chatID, text string) error

	// Close cleans up any resources.
	Close() error
}

// Broadcaster posts a message to a fixed broadcast target.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
	Close() error
}

// MultiBroadcaster fans a broadcast out to multiple targets.
type MultiBroadcaster struct {
	broadcasters []Broadcaster
}

// NewMultiBroadcaster creates a MultiBroadcaster with the given targets.
// Nil entries are filtered out.
func NewMultiBroadcaster(broadcasters ...Broadcaster) *MultiBroadcaster {
	var active []Broadcaster
	for _, b := range broadcasters {
		if b != nil {
			active = append(active, b)
		}
	}
	return &MultiBroadcaster{broadcasters: active}
}

// Broadcast posts to every registered target. The last error wins; one
// target's failure never blocks the others.
func (m *MultiBroadcaster) Broadcast(ctx context.Context, text string) error {
	var lastErr error
	for _, b := range m.broadcasters {
		if err := b.Broadcast(ctx, text); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all registered targets.
func (m *MultiBroadcaster) Close() error {
	var lastErr error
	for _, b := range m.broadcasters {
		if err := b.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active targets.
func (m *MultiBroadcaster) Count() int {
	return len(m.broadcasters)
}
