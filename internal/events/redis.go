package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type RedisBus struct {
	client redis.UniversalClient
}

func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so that publishes issued after
	// Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &redisSubscription{ps: ps, out: make(chan Envelope, 64), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

// Close is a no-op: the client is owned by the caller.
func (b *RedisBus) Close() error { return nil }

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- Envelope{Channel: m.Channel, Payload: []byte(m.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) C() <-chan Envelope { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
