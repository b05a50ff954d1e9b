package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/events"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HandlerFunc applies one confirmation event.
type HandlerFunc func(ctx context.Context, env events.Envelope) error

// ReceiptsConsumer bridges confirmation events produced by other services
// onto the reconciler. Each record's key is the event channel and its value
// the channel payload.
type ReceiptsConsumer struct {
	reader messageReader
	handle HandlerFunc
	log    *zap.Logger
	retry  backoff.BackOff
}

func NewReceiptsConsumer(brokers []string, topic, groupID string, handle HandlerFunc, log *zap.Logger) *ReceiptsConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &ReceiptsConsumer{reader: r, handle: handle, log: log.Named("kafka-receipts"), retry: newRetry()}
}

// Run blocks until ctx is cancelled. Records are committed after handling,
// including ones the handler rejected, since redelivery would not fix them.
func (c *ReceiptsConsumer) Run(ctx context.Context) error {
	if c.retry == nil {
		c.retry = newRetry()
	}
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			wait := c.retry.NextBackOff()
			c.log.Warn("kafka read error", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		c.retry.Reset()

		if len(m.Key) == 0 {
			c.log.Warn("skipping receipt without channel key", zap.Int64("offset", m.Offset))
		} else if err := c.handle(ctx, events.Envelope{Channel: string(m.Key), Payload: m.Value}); err != nil {
			c.log.Warn("receipt not applied",
				zap.String("channel", string(m.Key)),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

func (c *ReceiptsConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// newRetry backs off read errors from 200ms up to 30s and never gives up.
func newRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}
