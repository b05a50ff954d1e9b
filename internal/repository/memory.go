package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

// MemoryStore is a process-local Store used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	index map[string]string // message id -> conversation key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*domain.Conversation),
		index: make(map[string]string),
	}
}

func (s *MemoryStore) AppendMessage(_ context.Context, key string, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv, ok := s.convs[key]
	if !ok {
		conv = &domain.Conversation{
			ConversationID: key,
			Participants:   domain.Participants(m.From, m.To),
			Messages:       []domain.Message{},
			CreatedAt:      now,
		}
		s.convs[key] = conv
	}
	for _, existing := range conv.Messages {
		if existing.ID == m.ID {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
		}
	}
	conv.Messages = append(conv.Messages, m)
	conv.UpdatedAt = now
	s.index[m.ID] = key
	return nil
}

func (s *MemoryStore) find(messageID string) *domain.Message {
	conv, ok := s.convs[s.index[messageID]]
	if !ok {
		return nil
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			return &conv.Messages[i]
		}
	}
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, messageID string, status domain.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.find(messageID)
	if m == nil {
		return false, nil
	}
	return m.Apply(status, at), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.find(messageID)
	if m == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) FindConversation(_ context.Context, a, b string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[domain.ConversationKey(a, b)]
	if !ok {
		return emptyConversation(a, b), nil
	}
	cp := *conv
	cp.Messages = append([]domain.Message{}, conv.Messages...)
	return &cp, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, user string) ([]domain.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.ConversationSummary{}
	for _, conv := range s.convs {
		if conv.Participants[0] != user && conv.Participants[1] != user {
			continue
		}
		sum := domain.ConversationSummary{
			ConversationID: conv.ConversationID,
			Peer:           domain.Peer(conv.Participants, user),
			Participants:   conv.Participants,
			MessageCount:   len(conv.Messages),
			UpdatedAt:      conv.UpdatedAt,
		}
		if n := len(conv.Messages); n > 0 {
			last := conv.Messages[n-1]
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type MemoryReceipts struct {
	mu  sync.Mutex
	ids map[string][]string
}

func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{ids: make(map[string][]string)}
}

func (r *MemoryReceipts) AddUnseen(_ context.Context, recipient, sender string, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receiptKey(recipient, sender)
	for _, id := range ids {
		present := false
		for _, have := range r.ids[key] {
			if have == id {
				present = true
				break
			}
		}
		if !present {
			r.ids[key] = append(r.ids[key], id)
		}
	}
	return nil
}

func (r *MemoryReceipts) Unseen(_ context.Context, recipient, sender string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ids[receiptKey(recipient, sender)]...), nil
}

func (r *MemoryReceipts) TakeUnseen(_ context.Context, recipient, sender string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receiptKey(recipient, sender)
	out := append([]string{}, r.ids[key]...)
	delete(r.ids, key)
	return out, nil
}
