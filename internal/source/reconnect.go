package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tangthinker/mirrorwatch/internal/logger"
)

// Reconnecting wraps a Source and re-subscribes with exponential backoff when
// the transport fails. It gives up once MaxElapsed has passed without a
// successful subscription.
type Reconnecting struct {
	inner      Source
	maxElapsed time.Duration
}

// NewReconnecting wraps src. A zero maxElapsed retries forever.
func NewReconnecting(src Source, maxElapsed time.Duration) *Reconnecting {
	return &Reconnecting{inner: src, maxElapsed: maxElapsed}
}

// Name returns the wrapped adapter name.
func (r *Reconnecting) Name() string { return r.inner.Name() }

// Subscribe performs the first subscription, retrying on failure.
func (r *Reconnecting) Subscribe(ctx context.Context) (Subscription, error) {
	rs := &reconnectingSubscription{parent: r}
	if err := rs.connect(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *Reconnecting) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = r.maxElapsed
	return backoff.WithContext(b, ctx)
}

type reconnectingSubscription struct {
	parent *Reconnecting

	mu     sync.Mutex
	cur    Subscription
	closed bool
}

func (rs *reconnectingSubscription) connect(ctx context.Context) error {
	op := func() error {
		rs.mu.Lock()
		closed := rs.closed
		rs.mu.Unlock()
		if closed {
			return backoff.Permanent(ErrClosed)
		}

		sub, err := rs.parent.inner.Subscribe(ctx)
		if err != nil {
			return err
		}

		rs.mu.Lock()
		defer rs.mu.Unlock()
		if rs.closed {
			_ = sub.Close()
			return backoff.Permanent(ErrClosed)
		}
		rs.cur = sub
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Subscription failed, retrying",
			"source", rs.parent.inner.Name(), "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, rs.parent.newBackOff(ctx), notify); err != nil {
		return fmt.Errorf("subscribing to %s: %w", rs.parent.inner.Name(), err)
	}
	return nil
}

// Next forwards to the current subscription and reconnects on transport errors.
func (rs *reconnectingSubscription) Next(ctx context.Context) (Event, error) {
	for {
		rs.mu.Lock()
		cur, closed := rs.cur, rs.closed
		rs.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		ev, err := cur.Next(ctx)
		if err == nil {
			return ev, nil
		}
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}

		rs.mu.Lock()
		closed = rs.closed
		rs.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		logger.Warn("Transport failed, reconnecting", "source", rs.parent.inner.Name(), "error", err)
		_ = cur.Close()
		if err := rs.connect(ctx); err != nil {
			return Event{}, err
		}
	}
}

// Close closes the current subscription and stops any further reconnects.
func (rs *reconnectingSubscription) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true
	if rs.cur != nil {
		return rs.cur.Close()
	}
	return nil
}
