package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id, from, to string, at time.Time) domain.Message {
	return domain.Message{
		ID:          id,
		From:        from,
		To:          to,
		Message:     "enc-" + id,
		MessageBack: "back-" + id,
		Type:        domain.DefaultMessageType,
		CreatedAt:   at,
		Status:      domain.StatusSent,
	}
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "delivery.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	key := domain.ConversationKey("alice", "bob")

	conv, err := s.FindConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, key, conv.ConversationID)
	assert.Empty(t, conv.Messages)

	require.NoError(t, s.AppendMessage(ctx, key, msg("m1", "alice", "bob", t0)))
	require.NoError(t, s.AppendMessage(ctx, key, msg("m2", "bob", "alice", t0.Add(time.Second))))

	err = s.AppendMessage(ctx, key, msg("m1", "alice", "bob", t0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateMessage))

	// symmetric lookup
	conv, err = s.FindConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "m1", conv.Messages[0].ID)
	assert.Equal(t, "m2", conv.Messages[1].ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)
	assert.Equal(t, "enc-m1", conv.Messages[0].Message)
	assert.True(t, conv.Messages[0].CreatedAt.Equal(t0))
	assert.False(t, conv.UpdatedAt.IsZero())

	got, err := s.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.From)

	_, err = s.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testStatusMonotonic(t *testing.T, s Store) {
	ctx := context.Background()
	key := domain.ConversationKey("alice", "bob")
	require.NoError(t, s.AppendMessage(ctx, key, msg("m1", "alice", "bob", t0)))
	require.NoError(t, s.AppendMessage(ctx, key, msg("m2", "alice", "bob", t0)))

	deliveredAt := t0.Add(time.Minute)
	seenAt := t0.Add(2 * time.Minute)

	changed, err := s.UpdateStatus(ctx, "m1", domain.StatusDelivered, deliveredAt)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateStatus(ctx, "m1", domain.StatusDelivered, seenAt)
	require.NoError(t, err)
	assert.False(t, changed, "duplicate delivered is a no-op")

	changed, err = s.UpdateStatus(ctx, "m1", domain.StatusSeen, seenAt)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateStatus(ctx, "m1", domain.StatusDelivered, seenAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed, "delivered after seen never regresses")

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeen, m.Status)
	require.NotNil(t, m.DeliveredAt)
	require.NotNil(t, m.SeenAt)
	assert.True(t, m.DeliveredAt.Equal(deliveredAt))
	assert.True(t, m.SeenAt.Equal(seenAt))

	// seen before delivered fills both timestamps
	changed, err = s.UpdateStatus(ctx, "m2", domain.StatusSeen, seenAt)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.UpdateStatus(ctx, "m2", domain.StatusDelivered, seenAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	m, err = s.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeen, m.Status)
	require.NotNil(t, m.DeliveredAt)
	assert.True(t, m.DeliveredAt.Equal(seenAt))

	changed, err = s.UpdateStatus(ctx, "unknown", domain.StatusSeen, seenAt)
	require.NoError(t, err)
	assert.False(t, changed)
}

func testListConversations(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, domain.ConversationKey("alice", "bob"), msg("m1", "alice", "bob", t0)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendMessage(ctx, domain.ConversationKey("alice", "carol"), msg("m2", "carol", "alice", t0)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendMessage(ctx, domain.ConversationKey("alice", "bob"), msg("m3", "bob", "alice", t0)))
	require.NoError(t, s.AppendMessage(ctx, domain.ConversationKey("dave", "bob"), msg("m4", "dave", "bob", t0)))

	list, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bob", list[0].Peer, "most recently updated first")
	assert.Equal(t, 2, list[0].MessageCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m3", list[0].LastMessage.ID)
	assert.Equal(t, "carol", list[1].Peer)

	list, err = s.ListConversations(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testConcurrentAppend(t *testing.T, s Store) {
	ctx := context.Background()
	key := domain.ConversationKey("alice", "bob")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendMessage(ctx, key, msg(fmt.Sprintf("m%d", i), "alice", "bob", t0)))
		}(i)
	}
	wg.Wait()
	conv, err := s.FindConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 20)
}

func testReceipts(t *testing.T, r ReceiptIndex) {
	ctx := context.Background()

	ids, err := r.Unseen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, r.AddUnseen(ctx, "bob", "alice", "m1", "m2"))
	require.NoError(t, r.AddUnseen(ctx, "bob", "alice", "m2", "m3"))
	require.NoError(t, r.AddUnseen(ctx, "bob", "carol", "c1"))
	require.NoError(t, r.AddUnseen(ctx, "bob", "alice"))

	ids, err = r.Unseen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)

	ids, err = r.TakeUnseen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)

	ids, err = r.TakeUnseen(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = r.Unseen(ctx, "bob", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
	testStatusMonotonic(t, NewMemoryStore())
	testListConversations(t, NewMemoryStore())
	testConcurrentAppend(t, NewMemoryStore())
}

func TestMemoryReceipts(t *testing.T) {
	testReceipts(t, NewMemoryReceipts())
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, newSQLiteStore(t))
	testStatusMonotonic(t, newSQLiteStore(t))
	testListConversations(t, newSQLiteStore(t))
	testConcurrentAppend(t, newSQLiteStore(t))
}

func TestSQLiteReceipts(t *testing.T) {
	testReceipts(t, newSQLiteStore(t))
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.db")
	s, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(context.Background(), "alice_bob", msg("m1", "alice", "bob", t0)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	conv, err := s.FindConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, domain.StatusSent, conv.Messages[0].Status)
	assert.Nil(t, conv.Messages[0].DeliveredAt)
}
