package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// MemoryBus delivers in-process. It also records every publish so tests
// can assert on traffic without subscribing first.
type MemoryBus struct {
	mu        sync.Mutex
	subs      map[*memorySubscription]struct{}
	published []Envelope
	fail      error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{})}
}

// FailWith makes every later Publish return err. nil restores publishing.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, b.fail)
	}
	env := Envelope{Channel: channel, Payload: data}
	b.published = append(b.published, env)
	for s := range b.subs {
		if _, ok := s.channels[channel]; !ok {
			continue
		}
		select {
		case s.out <- env:
		default:
			// at-most-once: a full subscriber drops the message
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	s := &memorySubscription{bus: b, channels: make(map[string]struct{}), out: make(chan Envelope, 256)}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBus) Close() error { return nil }

// Published returns the envelopes sent on channel, in publish order.
func (b *MemoryBus) Published(channel string) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Envelope
	for _, e := range b.published {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}

type memorySubscription struct {
	bus      *MemoryBus
	channels map[string]struct{}
	out      chan Envelope
	once     sync.Once
}

func (s *memorySubscription) C() <-chan Envelope { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.out)
	})
	return nil
}
