package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/delivery"
	"github.com/fathima-sithara/delivery-service/internal/domain"
	"github.com/fathima-sithara/delivery-service/internal/events"
	"github.com/fathima-sithara/delivery-service/internal/pending"
	"github.com/fathima-sithara/delivery-service/internal/presence"
	"github.com/fathima-sithara/delivery-service/internal/reconciler"
	"github.com/fathima-sithara/delivery-service/internal/repository"
)

type env struct {
	store    *repository.MemoryStore
	receipts *repository.MemoryReceipts
	presence *presence.MemoryRegistry
	pending  *pending.MemoryQueue
	bus      *events.MemoryBus
	sessions *Manager
	coord    *delivery.Coordinator
	rec      *reconciler.Reconciler
	replayed map[string]int
}

func newEnv() *env {
	e := &env{
		store:    repository.NewMemoryStore(),
		receipts: repository.NewMemoryReceipts(),
		presence: presence.NewMemoryRegistry(time.Minute),
		pending:  pending.NewMemoryQueue(),
		bus:      events.NewMemoryBus(),
		replayed: make(map[string]int),
	}
	e.sessions = NewManager(e.presence, e.pending, e.receipts, e.bus, zap.NewNop(), nil)
	e.coord = delivery.New(e.store, e.presence, e.pending, e.bus, zap.NewNop(), delivery.Options{})
	e.rec = reconciler.New(e.store, e.receipts, e.pending, e.bus, zap.NewNop(), reconciler.Options{})
	return e
}

// replay feeds confirmations published since the last replay to the reconciler.
func (e *env) replay(t *testing.T) {
	t.Helper()
	for _, ch := range events.ConfirmationChannels() {
		published := e.bus.Published(ch)
		for _, ev := range published[e.replayed[ch]:] {
			require.NoError(t, e.rec.Handle(context.Background(), ev))
		}
		e.replayed[ch] = len(published)
	}
}

func (e *env) send(t *testing.T, from, to string, device domain.DeviceClass) *domain.SendResult {
	t.Helper()
	res, err := e.coord.Send(context.Background(), domain.SendRequest{
		From: from, To: to, Message: "enc", MessageBack: "back", Device: device,
	})
	require.NoError(t, err)
	return res
}

func (e *env) statusOf(t *testing.T, id string) domain.Status {
	t.Helper()
	m, err := e.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return m.Status
}

func TestConnectDrainsAndAnnounces(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	res := e.send(t, "alice", "bob", "")

	entries, err := e.sessions.Connect(ctx, "bob", domain.DeviceMobile, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.MessageID, entries[0].ID)

	rec, err := e.presence.Lookup(ctx, "bob", domain.DeviceMobile)
	require.NoError(t, err)
	require.NotNil(t, rec)

	announced := e.bus.Published(events.ChannelPendingDelivered)
	require.Len(t, announced, 1)

	e.replay(t)
	assert.Equal(t, domain.StatusDelivered, e.statusOf(t, res.MessageID))

	again, err := e.sessions.Connect(ctx, "bob", domain.DeviceMobile, "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEachDeviceReplaysItsOwnQueue(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	res := e.send(t, "alice", "bob", "")

	mobile, err := e.sessions.Connect(ctx, "bob", domain.DeviceMobile, "")
	require.NoError(t, err)
	require.Len(t, mobile, 1)
	e.replay(t)

	queued, err := e.pending.List(ctx, "bob", domain.DeviceWeb)
	require.NoError(t, err)
	require.Len(t, queued, 1, "mobile reconnect leaves the web copy in place")

	web, err := e.sessions.Connect(ctx, "bob", domain.DeviceWeb, "")
	require.NoError(t, err)
	require.Len(t, web, 1)
	assert.Equal(t, res.MessageID, web[0].ID)
	e.replay(t)

	conv, err := e.store.FindConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, domain.StatusDelivered, e.statusOf(t, res.MessageID))
}

func TestConnectDedupesAndSkipsEchoAnnouncements(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	dup := domain.PendingEntry{ID: "m1", From: "alice", To: "bob"}
	require.NoError(t, e.pending.Enqueue(ctx, "bob", domain.DeviceWeb, dup))
	require.NoError(t, e.pending.Enqueue(ctx, "bob", domain.DeviceWeb, dup))
	require.NoError(t, e.pending.Enqueue(ctx, "bob", domain.DeviceWeb, domain.PendingEntry{ID: "m2", From: "bob", To: "carol", Echo: true}))

	entries, err := e.sessions.Connect(ctx, "bob", domain.DeviceWeb, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Len(t, e.bus.Published(events.ChannelPendingDelivered), 1)
}

func TestConnectRequeuesWhenAnnouncementFails(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.pending.Enqueue(ctx, "bob", domain.DeviceWeb, domain.PendingEntry{ID: "m1", From: "alice", To: "bob"}))
	e.bus.FailWith(errors.New("down"))

	entries, err := e.sessions.Connect(ctx, "bob", domain.DeviceWeb, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	left, err := e.pending.List(ctx, "bob", domain.DeviceWeb)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "m1", left[0].ID)
}

func TestFocusUpgradesDeliveredToSeen(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_, err := e.sessions.Connect(ctx, "bob", domain.DeviceWeb, "carol")
	require.NoError(t, err)

	res := e.send(t, "alice", "bob", "")
	require.Equal(t, domain.StatusDelivered, res.Status)
	e.replay(t)

	ids, err := e.sessions.Focus(ctx, "bob", domain.DeviceWeb, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{res.MessageID}, ids)
	e.replay(t)
	assert.Equal(t, domain.StatusSeen, e.statusOf(t, res.MessageID))

	ids, err = e.sessions.Focus(ctx, "bob", domain.DeviceWeb, "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// focused now, so the next message is seen immediately
	next := e.send(t, "alice", "bob", "")
	assert.Equal(t, domain.StatusSeen, next.Status)
}

func TestFocusKeepsReceiptsWhenPublishFails(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.receipts.AddUnseen(ctx, "bob", "alice", "m1"))
	e.bus.FailWith(errors.New("down"))

	ids, err := e.sessions.Focus(ctx, "bob", domain.DeviceMobile, "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	left, err := e.receipts.Unseen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, left)
}

func TestConnectWithFocusConfirmsSeen(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	res := e.send(t, "alice", "bob", "")

	other := e.send(t, "carol", "bob", "")

	_, err := e.sessions.Connect(ctx, "bob", domain.DeviceMobile, "alice")
	require.NoError(t, err)
	assert.Len(t, e.bus.Published("SEEN_CACHE_MOBILE"), 1)
	e.replay(t)
	assert.Equal(t, domain.StatusSeen, e.statusOf(t, res.MessageID))
	assert.Equal(t, domain.StatusDelivered, e.statusOf(t, other.MessageID), "only the focused peer's messages are seen")
}

func TestAcknowledgePublishesDeliveryConfirmations(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.sessions.Acknowledge(ctx, "bob", domain.DeviceMobile, []string{"m1", "", "m2"}))
	assert.Len(t, e.bus.Published("DELIVERY_CACHE_MOBILE"), 2)

	e.bus.FailWith(errors.New("down"))
	err := e.sessions.Acknowledge(ctx, "bob", domain.DeviceMobile, []string{"m3"})
	assert.ErrorIs(t, err, domain.ErrPublish)
}

func TestEchoReplaysOnSendersOtherDevice(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_, err := e.sessions.Connect(ctx, "alice", domain.DeviceMobile, "bob")
	require.NoError(t, err)

	res := e.send(t, "alice", "bob", domain.DeviceMobile)

	entries, err := e.sessions.Connect(ctx, "alice", domain.DeviceWeb, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.MessageID, entries[0].ID)
	assert.True(t, entries[0].Echo)
	assert.Empty(t, e.bus.Published(events.ChannelPendingDelivered))
}

func TestDisconnectClearsPresence(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_, err := e.sessions.Connect(ctx, "bob", domain.DeviceWeb, "")
	require.NoError(t, err)
	require.NoError(t, e.sessions.Heartbeat(ctx, "bob", domain.DeviceWeb, "alice"))
	require.NoError(t, e.sessions.Disconnect(ctx, "bob", domain.DeviceWeb))

	res := e.send(t, "alice", "bob", "")
	assert.Equal(t, domain.StatusSent, res.Status)
}

func TestValidation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	_, err := e.sessions.Connect(ctx, "", domain.DeviceWeb, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.sessions.Connect(ctx, "bob", "tablet", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.sessions.Focus(ctx, "bob", domain.DeviceWeb, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
