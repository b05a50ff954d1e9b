package presence

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// MemoryRegistry is an in-process Registry for tests.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]domain.PresenceRecord
	lease   time.Duration
	now     func() time.Time
}

func NewMemoryRegistry(lease time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]domain.PresenceRecord),
		lease:   lease,
		now:     time.Now,
	}
}

// SetClock replaces the time source used for lease expiry.
func (m *MemoryRegistry) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRegistry) Register(_ context.Context, user string, device domain.DeviceClass, focusedPeer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.records[Key(user, device)] = domain.PresenceRecord{
		UserID:      user,
		Device:      device,
		FocusedPeer: focusedPeer,
		LastSeen:    now,
		ExpiresAt:   now.Add(m.lease),
	}
	return nil
}

func (m *MemoryRegistry) Lookup(_ context.Context, user string, device domain.DeviceClass) (*domain.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(user, device)
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(rec.ExpiresAt) {
		delete(m.records, key)
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryRegistry) Clear(_ context.Context, user string, device domain.DeviceClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, Key(user, device))
	return nil
}
