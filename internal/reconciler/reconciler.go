// Package reconciler upgrades persisted message status from confirmation
// events. Every handler is idempotent: events may arrive twice, late or out
// of order, and status only ever moves forward.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/events"
	"github.com/fathima-sithara/delivery-service/internal/metrics"
	"github.com/fathima-sithara/delivery-service/internal/pending"
	"github.com/fathima-sithara/delivery-service/internal/repository"
)

var ErrUnknownChannel = errors.New("unknown event channel")

type Options struct {
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

type Reconciler struct {
	store    repository.Store
	receipts repository.ReceiptIndex
	pending  pending.Queue
	bus      events.Bus
	log      *zap.Logger
	opts     Options
}

func New(store repository.Store, receipts repository.ReceiptIndex, queue pending.Queue, bus events.Bus, log *zap.Logger, opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reconciler{
		store:    store,
		receipts: receipts,
		pending:  queue,
		bus:      bus,
		log:      log.Named("reconciler"),
		opts:     opts,
	}
}

// Run consumes the confirmation channels until ctx is done. Events are
// applied one at a time so that a channel's publish order is preserved.
func (r *Reconciler) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, events.ConfirmationChannels()...)
	if err != nil {
		return err
	}
	defer sub.Close()
	r.log.Info("reconciler subscribed", zap.Strings("channels", events.ConfirmationChannels()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C():
			if !ok {
				return errors.New("event subscription closed")
			}
			if err := r.Handle(ctx, env); err != nil {
				r.log.Warn("event not applied", zap.String("channel", env.Channel), zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) Handle(ctx context.Context, env events.Envelope) error {
	switch {
	case env.Channel == events.ChannelSeenPending:
		var ev events.SeenPending
		if err := env.Decode(&ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Channel, err)
		}
		return r.RecordSeenPending(ctx, ev)

	case env.Channel == events.ChannelPendingDelivered:
		var ev events.PendingDelivered
		if err := env.Decode(&ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Channel, err)
		}
		return r.DeliverPending(ctx, ev)

	case isDeviceChannel(env.Channel, events.DeliveryChannel):
		var ref events.MessageRef
		if err := env.Decode(&ref); err != nil {
			return fmt.Errorf("decode %s: %w", env.Channel, err)
		}
		_, err := r.MarkDelivered(ctx, ref.ID)
		return err

	case isDeviceChannel(env.Channel, events.SeenChannel):
		var ref events.MessageRef
		if err := env.Decode(&ref); err != nil {
			return fmt.Errorf("decode %s: %w", env.Channel, err)
		}
		_, err := r.MarkSeen(ctx, ref.ID)
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnknownChannel, env.Channel)
}

func isDeviceChannel(channel string, name func(domain.DeviceClass) string) bool {
	for _, d := range domain.DeviceClasses {
		if strings.EqualFold(channel, name(d)) {
			return true
		}
	}
	return false
}

func (r *Reconciler) MarkDelivered(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.StatusDelivered)
}

func (r *Reconciler) MarkSeen(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.StatusSeen)
}

func (r *Reconciler) transition(ctx context.Context, id string, status domain.Status) (bool, error) {
	if id == "" {
		return false, &domain.ValidationError{Field: "id", Reason: "required"}
	}
	changed, err := r.store.UpdateStatus(ctx, id, status, r.opts.Clock().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if changed {
		r.opts.Metrics.Transition(string(status))
		r.log.Debug("status upgraded", zap.String("message_id", id), zap.String("status", string(status)))
	}
	return changed, nil
}

// RecordSeenPending remembers that ev.To has ev.ID from ev.From on screen
// somewhere but has not opened the conversation yet.
func (r *Reconciler) RecordSeenPending(ctx context.Context, ev events.SeenPending) error {
	if err := domain.Validate(&ev); err != nil {
		return err
	}
	if err := r.receipts.AddUnseen(ctx, ev.To, ev.From, ev.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// DeliverPending applies a buffered message that reached its recipient's
// reconnecting device. Running it twice for the same id leaves a single
// history entry.
func (r *Reconciler) DeliverPending(ctx context.Context, ev events.PendingDelivered) error {
	if err := domain.Validate(&ev); err != nil {
		return err
	}
	log := r.log.With(zap.String("message_id", ev.MessageID), zap.String("to", ev.ToUserID))

	msg := domain.Message{
		ID:          ev.MessageID,
		From:        ev.FromUserID,
		To:          ev.ToUserID,
		Message:     ev.MessageContent,
		MessageBack: ev.MessageBackContent,
		Type:        ev.Type,
		Status:      domain.StatusSent,
	}
	if msg.Type == "" {
		msg.Type = domain.DefaultMessageType
	}
	if ev.CreatedAt != nil {
		msg.CreatedAt = ev.CreatedAt.UTC()
	} else {
		msg.CreatedAt = r.opts.Clock().UTC()
	}

	err := r.store.AppendMessage(ctx, domain.ConversationKey(msg.From, msg.To), msg)
	if err != nil && !errors.Is(err, domain.ErrDuplicateMessage) {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if _, err := r.MarkDelivered(ctx, msg.ID); err != nil {
		return err
	}

	// Only the draining device got the message; the other device class
	// keeps its copy until it reconnects.
	if ev.Device.Valid() {
		if err := r.pending.RemoveOne(ctx, msg.To, ev.Device, msg.ID); err != nil {
			log.Warn("pending remove failed", zap.String("device", string(ev.Device)), zap.Error(err))
		}
	}

	stored, err := r.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if stored.Status == domain.StatusSeen {
		return nil
	}
	if err := r.receipts.AddUnseen(ctx, msg.To, msg.From, msg.ID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}
