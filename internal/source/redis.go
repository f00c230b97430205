package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSource subscribes to a single Redis pub/sub channel.
type RedisSource struct {
	cfg RedisConfig
}

// NewRedisSource creates a source for the given channel.
func NewRedisSource(cfg RedisConfig) *RedisSource {
	return &RedisSource{cfg: cfg}
}

// Name returns the adapter name.
func (s *RedisSource) Name() string { return "redis" }

// Subscribe connects to Redis and waits for the subscription to be confirmed.
func (s *RedisSource) Subscribe(ctx context.Context) (Subscription, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", s.cfg.Addr, err)
	}

	ps := client.Subscribe(ctx, s.cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.cfg.Channel, err)
	}

	return &redisSubscription{
		client: client,
		pubsub: ps,
		closed: make(chan struct{}),
	}, nil
}

type redisSubscription struct {
	client *redis.Client
	pubsub *redis.PubSub

	closeOnce sync.Once
	closed    chan struct{}
}

// Next blocks until a message is published on the channel.
func (r *redisSubscription) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-r.closed:
			return Event{}, ErrClosed
		default:
		}

		msg, err := r.pubsub.Receive(ctx)
		if err != nil {
			select {
			case <-r.closed:
				return Event{}, ErrClosed
			default:
			}
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, fmt.Errorf("receiving from redis: %w", err)
		}

		if ev, ok := messageEvent(msg, time.Now()); ok {
			return ev, nil
		}
	}
}

// Close unsubscribes and releases the connection.
func (r *redisSubscription) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.pubsub.Close()
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// messageEvent maps a pub/sub frame to an event. Subscription confirmations
// and pongs are not change notifications.
func messageEvent(msg any, now time.Time) (Event, bool) {
	m, ok := msg.(*redis.Message)
	if !ok {
		return Event{}, false
	}
	return Event{
		Source:     "redis",
		Payload:    m.Payload,
		ReceivedAt: now,
	}, true
}
