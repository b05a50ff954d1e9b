// Package delivery decides the initial status of a direct message and fans
// it out to the conversation store, the pending queues of offline devices
// and the real-time channel of online ones.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/events"
	"github.com/fathima-sithara/delivery-service/internal/metrics"
	"github.com/fathima-sithara/delivery-service/internal/pending"
	"github.com/fathima-sithara/delivery-service/internal/presence"
	"github.com/fathima-sithara/delivery-service/internal/repository"
)

const defaultIDAttempts = 3

// Notifier is told about messages that reached no recipient device.
type Notifier interface {
	NotifyOffline(ctx context.Context, m domain.Message) error
}

type Options struct {
	// PublishDelay postpones the real-time publish. Zero publishes inline.
	PublishDelay time.Duration
	Notifier     Notifier
	Metrics      *metrics.Metrics
	Clock        func() time.Time
	NewID        func(from, to string, at time.Time) string
	IDAttempts   int
}

type Coordinator struct {
	store    repository.Store
	presence presence.Registry
	pending  pending.Queue
	bus      events.Bus
	log      *zap.Logger
	opts     Options

	wg sync.WaitGroup
}

func New(store repository.Store, reg presence.Registry, queue pending.Queue, bus events.Bus, log *zap.Logger, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewMessageID
	}
	if opts.IDAttempts <= 0 {
		opts.IDAttempts = defaultIDAttempts
	}
	return &Coordinator{
		store:    store,
		presence: reg,
		pending:  queue,
		bus:      bus,
		log:      log.Named("delivery"),
		opts:     opts,
	}
}

// NewMessageID derives an id from the pair and the send time. The random
// suffix keeps two sends within the same millisecond apart.
func NewMessageID(from, to string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%d-%s", from, to, at.UnixMilli(), suffix)
}

// Send persists the message and routes it. Only validation and persistence
// failures are returned; everything after the append is best effort and
// degrades the reported status instead.
func (c *Coordinator) Send(ctx context.Context, req domain.SendRequest) (*domain.SendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := c.opts.Clock().UTC()
	msg, err := c.appendMessage(ctx, req, now)
	if err != nil {
		return nil, err
	}
	log := c.log.With(zap.String("message_id", msg.ID), zap.String("from", msg.From), zap.String("to", msg.To))

	online := c.lookupRecipient(ctx, log, msg.To)
	for _, d := range domain.DeviceClasses {
		if _, ok := online[d]; !ok {
			c.enqueue(ctx, log, msg.To, d, domain.NewPendingEntry(msg, false, now))
		}
	}

	status := decide(online, msg.From)

	c.echo(ctx, log, req.Device, msg, now)

	if len(online) > 0 {
		pushed := msg
		pushed.Apply(status, now)
		if !c.publishChat(ctx, log, pushed) {
			// nothing reached the online devices; buffer it like an offline send
			for d := range online {
				c.enqueue(ctx, log, msg.To, d, domain.NewPendingEntry(msg, false, now))
			}
			status = domain.StatusSent
		}
	}

	if status != domain.StatusSent {
		if _, err := c.store.UpdateStatus(ctx, msg.ID, status, now); err != nil {
			c.opts.Metrics.Degraded("status")
			log.Warn("status not persisted, reporting sent", zap.String("status", string(status)), zap.Error(err))
			status = domain.StatusSent
		}
	}

	if len(online) == 0 && c.opts.Notifier != nil {
		if err := c.opts.Notifier.NotifyOffline(ctx, msg); err != nil {
			c.opts.Metrics.Degraded("notify")
			log.Warn("offline notification failed", zap.Error(err))
		}
	}

	c.opts.Metrics.Send(string(status))
	log.Debug("message routed", zap.String("status", string(status)), zap.Int("online_devices", len(online)))

	res := &domain.SendResult{Status: status, MessageID: msg.ID, CreatedAt: msg.CreatedAt}
	if status.Rank() >= domain.StatusDelivered.Rank() {
		t := now
		res.DeliveredAt = &t
	}
	if status == domain.StatusSeen {
		t := now
		res.SeenAt = &t
	}
	return res, nil
}

func (c *Coordinator) appendMessage(ctx context.Context, req domain.SendRequest, now time.Time) (domain.Message, error) {
	msg := domain.Message{
		From:        req.From,
		To:          req.To,
		Message:     req.Message,
		MessageBack: req.MessageBack,
		Type:        req.Type,
		CreatedAt:   now,
		Status:      domain.StatusSent,
	}
	key := domain.ConversationKey(req.From, req.To)

	var err error
	for attempt := 0; attempt < c.opts.IDAttempts; attempt++ {
		msg.ID = c.opts.NewID(req.From, req.To, now)
		err = c.store.AppendMessage(ctx, key, msg)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrDuplicateMessage) {
			break
		}
		c.log.Info("message id collision, regenerating", zap.String("message_id", msg.ID))
	}
	return msg, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

// lookupRecipient returns the recipient's connected devices. A failed
// lookup counts that device as offline, which only costs a redundant
// pending entry.
func (c *Coordinator) lookupRecipient(ctx context.Context, log *zap.Logger, user string) map[domain.DeviceClass]*domain.PresenceRecord {
	online := make(map[domain.DeviceClass]*domain.PresenceRecord, len(domain.DeviceClasses))
	for _, d := range domain.DeviceClasses {
		rec, err := c.presence.Lookup(ctx, user, d)
		if err != nil {
			c.opts.Metrics.Degraded("presence")
			log.Warn("presence lookup failed, treating device as offline", zap.String("device", string(d)), zap.Error(err))
			continue
		}
		if rec != nil {
			online[d] = rec
		}
	}
	return online
}

func decide(online map[domain.DeviceClass]*domain.PresenceRecord, sender string) domain.Status {
	if len(online) == 0 {
		return domain.StatusSent
	}
	for _, rec := range online {
		if rec.FocusedOn(sender) {
			return domain.StatusSeen
		}
	}
	return domain.StatusDelivered
}

func (c *Coordinator) enqueue(ctx context.Context, log *zap.Logger, user string, device domain.DeviceClass, entry domain.PendingEntry) {
	if err := c.pending.Enqueue(ctx, user, device, entry); err != nil {
		c.opts.Metrics.Degraded("enqueue")
		log.Warn("pending enqueue failed", zap.String("user", user), zap.String("device", string(device)), zap.Bool("echo", entry.Echo), zap.Error(err))
		return
	}
	c.opts.Metrics.Enqueued(string(device))
}

// echo replays the message on the sender's other device class when that
// device is not connected.
func (c *Coordinator) echo(ctx context.Context, log *zap.Logger, origin domain.DeviceClass, msg domain.Message, now time.Time) {
	if origin == "" {
		return
	}
	other := origin.Other()
	rec, err := c.presence.Lookup(ctx, msg.From, other)
	if err != nil {
		c.opts.Metrics.Degraded("presence")
		log.Warn("sender presence lookup failed, echoing anyway", zap.String("device", string(other)), zap.Error(err))
	}
	if rec != nil {
		return
	}
	c.enqueue(ctx, log, msg.From, other, domain.NewPendingEntry(msg, true, now))
}

// publishChat reports false only when an inline publish failed. A
// delivered message is indexed as unseen through SEEN_PENDING once the push
// went out.
func (c *Coordinator) publishChat(ctx context.Context, log *zap.Logger, m domain.Message) bool {
	channel := events.ChatChannel(m.To)
	if c.opts.PublishDelay <= 0 {
		if err := c.bus.Publish(ctx, channel, m); err != nil {
			c.opts.Metrics.Degraded("publish")
			log.Warn("chat publish failed, reporting sent", zap.Error(err))
			return false
		}
		c.seenPending(ctx, log, m)
		return true
	}

	// The message is durable already; the delayed push must outlive the
	// request context.
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		time.Sleep(c.opts.PublishDelay)
		if err := c.bus.Publish(bg, channel, m); err != nil {
			c.opts.Metrics.Degraded("publish")
			log.Warn("delayed chat publish failed", zap.Error(err))
			return
		}
		c.seenPending(bg, log, m)
	}()
	return true
}

func (c *Coordinator) seenPending(ctx context.Context, log *zap.Logger, m domain.Message) {
	if m.Status != domain.StatusDelivered {
		return
	}
	if err := c.bus.Publish(ctx, events.ChannelSeenPending, events.SeenPending{From: m.From, To: m.To, ID: m.ID}); err != nil {
		c.opts.Metrics.Degraded("publish")
		log.Warn("seen-pending publish failed", zap.Error(err))
	}
}

// Wait blocks until delayed publishes have been issued.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) History(ctx context.Context, user, peer string) (*domain.Conversation, error) {
	if user == "" || peer == "" {
		return nil, &domain.ValidationError{Field: "peer", Reason: "required"}
	}
	conv, err := c.store.FindConversation(ctx, user, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return conv, nil
}

func (c *Coordinator) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	if user == "" {
		return nil, &domain.ValidationError{Field: "user", Reason: "required"}
	}
	list, err := c.store.ListConversations(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return list, nil
}
