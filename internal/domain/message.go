package domain

import (
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Rank orders statuses so that sent < delivered < seen. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.Rank() > 0 }

// Upgrade returns the status after applying next. Status never regresses, so
// the second return value is false when next does not move s forward.
func (s Status) Upgrade(next Status) (Status, bool) {
	if next.Rank() > s.Rank() {
		return next, true
	}
	return s, false
}

// Below lists the statuses a message may hold for next to still be an upgrade.
func (s Status) Below() []Status {
	out := []Status{}
	for _, st := range []Status{StatusSent, StatusDelivered, StatusSeen} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

type Message struct {
	ID          string     `bson:"id" json:"id"`
	From        string     `bson:"from" json:"from"`
	To          string     `bson:"to" json:"to"`
	Message     string     `bson:"message" json:"message"`
	MessageBack string     `bson:"messageBack" json:"messageBack"`
	Type        string     `bson:"type" json:"type"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	SeenAt      *time.Time `bson:"seenAt,omitempty" json:"seenAt,omitempty"`
	Status      Status     `bson:"status" json:"status"`
}

// Apply moves the message to status at time at, filling the matching
// timestamps. It reports whether anything changed.
func (m *Message) Apply(status Status, at time.Time) bool {
	next, ok := m.Status.Upgrade(status)
	if !ok {
		return false
	}
	m.Status = next
	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
	}
	if next == StatusSeen && m.SeenAt == nil {
		t := at
		m.SeenAt = &t
	}
	return true
}

type Conversation struct {
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	Participants   []string  `bson:"participants" json:"participants"`
	Messages       []Message `bson:"messages" json:"messages"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	Peer           string    `json:"peer"`
	Participants   []string  `json:"participants"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
	MessageCount   int       `json:"messageCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ConversationKey is the participant-order-independent id of a two-party history.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// Participants returns the pair in canonical order.
func Participants(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// Peer returns the participant that is not user.
func Peer(participants []string, user string) string {
	for _, p := range participants {
		if p != user {
			return p
		}
	}
	return user
}
