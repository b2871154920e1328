package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisBus carries fan-out messages between processes over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Stream is one channel's flow of payloads.
type Stream interface {
	Messages() <-chan []byte
	Close() error
}

type subscription struct {
	ps   *redis.PubSub
	done chan struct{}
	out  chan []byte
}

// Subscribe waits for the subscription to be confirmed before returning so
// no message published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Stream, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				return
			}
		}
	}()
	return &subscription{ps: ps, done: done, out: out}, nil
}

func (s *subscription) Messages() <-chan []byte { return s.out }

// Close must be called exactly once.
func (s *subscription) Close() error {
	close(s.done)
	return s.ps.Close()
}
