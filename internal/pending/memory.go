package pending

import (
	"context"
	"sync"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type MemoryQueue struct {
	mu    sync.Mutex
	lists map[string][]domain.PendingEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{lists: make(map[string][]domain.PendingEntry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, user string, device domain.DeviceClass, entry domain.PendingEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := domain.PendingKey(user, device)
	q.lists[key] = append(q.lists[key], entry)
	return nil
}

func (q *MemoryQueue) DrainAll(_ context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := domain.PendingKey(user, device)
	out := q.lists[key]
	delete(q.lists, key)
	if out == nil {
		out = []domain.PendingEntry{}
	}
	return out, nil
}

func (q *MemoryQueue) RemoveOne(_ context.Context, user string, device domain.DeviceClass, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := domain.PendingKey(user, device)
	kept := q.lists[key][:0]
	for _, e := range q.lists[key] {
		if e.ID != messageID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(q.lists, key)
		return nil
	}
	q.lists[key] = kept
	return nil
}

func (q *MemoryQueue) List(_ context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	src := q.lists[domain.PendingKey(user, device)]
	out := make([]domain.PendingEntry, len(src))
	copy(out, src)
	return out, nil
}
