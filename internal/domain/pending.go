package domain

import "time"

// PendingEntry is a message buffered for an offline device. Echo entries are
// copies of the owner's own outgoing messages for their other device.
type PendingEntry struct {
	ID          string    `bson:"id" json:"id"`
	From        string    `bson:"from" json:"from"`
	To          string    `bson:"to" json:"to"`
	Message     string    `bson:"message" json:"message"`
	MessageBack string    `bson:"messageBack" json:"messageBack"`
	Type        string    `bson:"type" json:"type"`
	Echo        bool      `bson:"echo,omitempty" json:"echo,omitempty"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	EnqueuedAt  time.Time `bson:"enqueuedAt" json:"enqueuedAt"`
}

func NewPendingEntry(m Message, echo bool, at time.Time) PendingEntry {
	return PendingEntry{
		ID:          m.ID,
		From:        m.From,
		To:          m.To,
		Message:     m.Message,
		MessageBack: m.MessageBack,
		Type:        m.Type,
		Echo:        echo,
		CreatedAt:   m.CreatedAt,
		EnqueuedAt:  at,
	}
}

// DedupeEntries keeps the first occurrence of every message id, preserving order.
func DedupeEntries(entries []PendingEntry) []PendingEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// PendingKey is the storage key of a (user, device class) pending buffer.
func PendingKey(user string, device DeviceClass) string {
	return user + "_" + string(device)
}
