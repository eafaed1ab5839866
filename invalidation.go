package iam

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// CACHE INVALIDATION BUS
// ============================================================================

// InvalidationChannel is the pub/sub channel carrying tenant invalidation
// broadcasts between resolver instances.
const InvalidationChannel = "iam:invalidation"

// InvalidationBus propagates tenant-scoped cache invalidation across resolver
// instances. Publish broadcasts a tenant id; Subscribe registers a handler
// invoked for every broadcast, including the publisher's own.
type InvalidationBus interface {
	Publish(ctx context.Context, tenantID string) error
	Subscribe(ctx context.Context, handler func(tenantID string)) error
	Close() error
}

// LocalInvalidationBus delivers broadcasts synchronously in-process. Fits
// single-instance deployments and tests.
type LocalInvalidationBus struct {
	mu       sync.RWMutex
	handlers []func(tenantID string)
}

func NewLocalInvalidationBus() *LocalInvalidationBus {
	return &LocalInvalidationBus{}
}

func (b *LocalInvalidationBus) Publish(ctx context.Context, tenantID string) error {
	b.mu.RLock()
	handlers := make([]func(string), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(tenantID)
	}
	return nil
}

func (b *LocalInvalidationBus) Subscribe(ctx context.Context, handler func(tenantID string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *LocalInvalidationBus) Close() error { return nil }

// RedisInvalidationBus broadcasts over a redis pub/sub channel so every
// resolver process sharing the redis instance observes tenant mutations.
type RedisInvalidationBus struct {
	client  redis.UniversalClient
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisInvalidationBus publishes on InvalidationChannel unless channel
// overrides it.
func NewRedisInvalidationBus(client redis.UniversalClient, channel string) *RedisInvalidationBus {
	if channel == "" {
		channel = InvalidationChannel
	}
	return &RedisInvalidationBus{client: client, channel: channel}
}

func (b *RedisInvalidationBus) Publish(ctx context.Context, tenantID string) error {
	return b.client.Publish(ctx, b.channel, tenantID).Err()
}

// Subscribe starts a goroutine that feeds broadcasts to the handler until the
// context is canceled or the bus is closed.
func (b *RedisInvalidationBus) Subscribe(ctx context.Context, handler func(tenantID string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	ch := sub.Channel()
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (b *RedisInvalidationBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil
	return firstErr
}
