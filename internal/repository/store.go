// Package repository persists conversation history, the system of record
// for message status, and the per-pair index of messages awaiting a seen
// confirmation.
package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type Store interface {
	// AppendMessage adds m to the conversation keyed by key, creating the
	// conversation if needed. It returns domain.ErrDuplicateMessage when the
	// conversation already holds m.ID.
	AppendMessage(ctx context.Context, key string, m domain.Message) error
	// UpdateStatus moves the message forward to status. It reports false
	// when the message is unknown or already at or past status.
	UpdateStatus(ctx context.Context, messageID string, status domain.Status, at time.Time) (bool, error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	// FindConversation returns the history between a and b in append order.
	// A pair that never talked yields an empty conversation, not an error.
	FindConversation(ctx context.Context, a, b string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, user string) ([]domain.ConversationSummary, error)
}

type ReceiptIndex interface {
	AddUnseen(ctx context.Context, recipient, sender string, ids ...string) error
	Unseen(ctx context.Context, recipient, sender string) ([]string, error)
	// TakeUnseen returns and clears the set in one step.
	TakeUnseen(ctx context.Context, recipient, sender string) ([]string, error)
}

func emptyConversation(a, b string) *domain.Conversation {
	return &domain.Conversation{
		ConversationID: domain.ConversationKey(a, b),
		Participants:   domain.Participants(a, b),
		Messages:       []domain.Message{},
	}
}
