package events

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type BreakerSettings struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// BreakerBus stops hammering an unhealthy bus: after MaxFailures
// consecutive publish errors it fails fast until Timeout elapses.
type BreakerBus struct {
	Bus
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

func NewBreakerBus(inner Bus, st BreakerSettings, log *zap.Logger) *BreakerBus {
	if st.MaxFailures == 0 {
		st.MaxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-bus",
		MaxRequests: 1,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &BreakerBus{Bus: inner, cb: cb, log: log}
}

func (b *BreakerBus) Publish(ctx context.Context, channel string, payload any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.Bus.Publish(ctx, channel, payload)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: %s: %v", domain.ErrPublish, channel, err)
	}
	return err
}

func (b *BreakerBus) State() gobreaker.State { return b.cb.State() }
