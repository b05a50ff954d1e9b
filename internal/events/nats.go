package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// NATSBus maps every channel to a core NATS subject of the same name.
type NATSBus struct {
	nc *nats.Conn
}

func ConnectNATS(url string, log *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("delivery-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

func (b *NATSBus) Publish(_ context.Context, channel string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	if err := b.nc.Publish(channel, data); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	s := &natsSubscription{
		in:   make(chan *nats.Msg, 64),
		out:  make(chan Envelope, 64),
		done: make(chan struct{}),
	}
	for _, ch := range channels {
		sub, err := b.nc.ChanSubscribe(ch, s.in)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("subscribe %s: %w", ch, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := b.nc.Flush(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("subscribe flush: %w", err)
	}
	go s.pump()
	return s, nil
}

func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

type natsSubscription struct {
	subs []*nats.Subscription
	in   chan *nats.Msg
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) pump() {
	defer close(s.out)
	for {
		select {
		case m := <-s.in:
			select {
			case s.out <- Envelope{Channel: m.Subject, Payload: m.Data}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *natsSubscription) C() <-chan Envelope { return s.out }

func (s *natsSubscription) Close() error {
	var first error
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && first == nil {
				first = err
			}
		}
		close(s.done)
	})
	return first
}
