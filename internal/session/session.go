// Package session handles the device side of delivery: connecting drains
// the device's pending queue, focusing a conversation confirms what was
// waiting to be seen, and acknowledging confirms live receipt.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/events"
	"github.com/fathima-sithara/delivery-service/internal/metrics"
	"github.com/fathima-sithara/delivery-service/internal/pending"
	"github.com/fathima-sithara/delivery-service/internal/presence"
	"github.com/fathima-sithara/delivery-service/internal/repository"
)

type Manager struct {
	presence presence.Registry
	pending  pending.Queue
	receipts repository.ReceiptIndex
	bus      events.Bus
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewManager(reg presence.Registry, queue pending.Queue, receipts repository.ReceiptIndex, bus events.Bus, log *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		presence: reg,
		pending:  queue,
		receipts: receipts,
		bus:      bus,
		log:      log.Named("session"),
		metrics:  m,
	}
}

func validate(user string, device domain.DeviceClass) error {
	return domain.Validate(domain.DeviceRef{User: user, Device: device})
}

// Connect registers the device and hands it everything buffered while it
// was away, deduplicated by id. Each non-echo entry is announced on
// PENDING_MESSAGE_DELIVERED; an entry whose announcement fails goes back
// on the queue so the next connect retries it.
func (m *Manager) Connect(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) ([]domain.PendingEntry, error) {
	if err := validate(user, device); err != nil {
		return nil, err
	}
	if err := m.presence.Register(ctx, user, device, focusedPeer); err != nil {
		return nil, err
	}
	log := m.log.With(zap.String("user", user), zap.String("device", string(device)))

	entries, err := m.pending.DrainAll(ctx, user, device)
	if err != nil {
		return nil, fmt.Errorf("drain pending: %w", err)
	}
	entries = domain.DedupeEntries(entries)
	m.metrics.Drained(string(device), len(entries))

	var seenNow []string
	for _, e := range entries {
		if e.Echo {
			continue
		}
		if err := m.bus.Publish(ctx, events.ChannelPendingDelivered, events.PendingDeliveredFrom(e, device)); err != nil {
			m.metrics.Degraded("publish")
			log.Warn("pending delivery not announced, requeueing", zap.String("message_id", e.ID), zap.Error(err))
			if err := m.pending.Enqueue(ctx, user, device, e); err != nil {
				log.Error("requeue failed", zap.String("message_id", e.ID), zap.Error(err))
			}
			continue
		}
		if focusedPeer != "" && e.From == focusedPeer {
			seenNow = append(seenNow, e.ID)
		}
	}

	// Drained messages reach the unseen index only once the reconciler
	// applies them, so a device that reconnects focused confirms them here.
	for _, id := range seenNow {
		if err := m.bus.Publish(ctx, events.SeenChannel(device), events.MessageRef{ID: id}); err != nil {
			m.metrics.Degraded("publish")
			log.Warn("seen confirmation not published", zap.String("message_id", id), zap.Error(err))
		}
	}

	if focusedPeer != "" {
		if _, err := m.confirmSeen(ctx, log, user, device, focusedPeer); err != nil {
			log.Warn("seen confirmation on connect failed", zap.Error(err))
		}
	}
	log.Info("device connected", zap.Int("pending", len(entries)))
	return entries, nil
}

// Heartbeat refreshes the presence lease.
func (m *Manager) Heartbeat(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) error {
	if err := validate(user, device); err != nil {
		return err
	}
	return m.presence.Register(ctx, user, device, focusedPeer)
}

// Focus records that the device opened the conversation with peer and
// confirms every message from peer that was waiting to be seen. It returns
// the confirmed ids.
func (m *Manager) Focus(ctx context.Context, user string, device domain.DeviceClass, peer string) ([]string, error) {
	if err := validate(user, device); err != nil {
		return nil, err
	}
	if !domain.ValidUserID(peer) {
		return nil, &domain.ValidationError{Field: "peer", Reason: "must not be blank or contain '_'"}
	}
	if err := m.presence.Register(ctx, user, device, peer); err != nil {
		return nil, err
	}
	return m.confirmSeen(ctx, m.log.With(zap.String("user", user), zap.String("device", string(device))), user, device, peer)
}

func (m *Manager) confirmSeen(ctx context.Context, log *zap.Logger, user string, device domain.DeviceClass, peer string) ([]string, error) {
	ids, err := m.receipts.TakeUnseen(ctx, user, peer)
	if err != nil {
		return nil, fmt.Errorf("take unseen: %w", err)
	}
	channel := events.SeenChannel(device)
	confirmed := make([]string, 0, len(ids))
	var failed []string
	for _, id := range ids {
		if err := m.bus.Publish(ctx, channel, events.MessageRef{ID: id}); err != nil {
			failed = append(failed, id)
			continue
		}
		confirmed = append(confirmed, id)
	}
	if len(failed) > 0 {
		m.metrics.Degraded("publish")
		log.Warn("seen confirmations not published, keeping them unseen", zap.Strings("ids", failed))
		if err := m.receipts.AddUnseen(ctx, user, peer, failed...); err != nil {
			log.Error("restoring unseen receipts failed", zap.Error(err))
		}
	}
	return confirmed, nil
}

// Acknowledge confirms that the device rendered messages pushed to it live.
func (m *Manager) Acknowledge(ctx context.Context, user string, device domain.DeviceClass, ids []string) error {
	if err := validate(user, device); err != nil {
		return err
	}
	channel := events.DeliveryChannel(device)
	var errs []error
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := m.bus.Publish(ctx, channel, events.MessageRef{ID: id}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Disconnect(ctx context.Context, user string, device domain.DeviceClass) error {
	if err := validate(user, device); err != nil {
		return err
	}
	if err := m.presence.Clear(ctx, user, device); err != nil {
		return err
	}
	m.log.Info("device disconnected", zap.String("user", user), zap.String("device", string(device)))
	return nil
}
