package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBridge implements the event bridge on Redis pub/sub.
type RedisBridge struct {
	client  *redis.Client
	channel string

	mu   sync.Mutex
	subs []func()
}

// NewRedisBridge creates a bridge on top of an existing Redis connection.
func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	return &RedisBridge{client: client, channel: channel}
}

// Publish sends an event to the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	return nil
}

// Subscribe registers a handler for all events on the channel.
func (b *RedisBridge) Subscribe(ctx context.Context, h Handler) (func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)

	// Force the subscription to be established before returning so events
	// published right after Subscribe are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				h(e)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	b.mu.Lock()
	b.subs = append(b.subs, cancel)
	b.mu.Unlock()

	return cancel, nil
}

// Close cancels all subscriptions. The Redis connection itself is shared and
// owned by the caller.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, cancel := range b.subs {
		cancel()
	}
	b.subs = nil
	return nil
}
