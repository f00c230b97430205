// Package source provides the transports that feed change notifications to
// the debounce coordinator.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Subscription.Next once the subscription is closed.
var ErrClosed = errors.New("subscription closed")

// Event is a single change notification. The payload is opaque and only logged.
type Event struct {
	Source     string    `json:"source"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Source produces change events through a subscription.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
	Name() string
}

// Subscription is a lazy, unbounded sequence of events.
// Next blocks until an event arrives, the context ends, or the transport fails.
type Subscription interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}
