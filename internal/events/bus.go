// Package events carries real-time pushes and status confirmations between
// delivery, session and reconciler instances.
//
// Publishing is fire-and-forget and at-most-once. No driver replays missed
// messages; offline durability belongs to the pending queue.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

const (
	ChannelSeenPending      = "SEEN_PENDING"
	ChannelPendingDelivered = "PENDING_MESSAGE_DELIVERED"

	chatPrefix     = "CHAT-"
	deliveryPrefix = "DELIVERY_CACHE_"
	seenPrefix     = "SEEN_CACHE_"
)

// ChatChannel is the real-time channel of a recipient's connected devices.
func ChatChannel(user string) string { return chatPrefix + user }

func DeliveryChannel(d domain.DeviceClass) string { return deliveryPrefix + d.Upper() }

func SeenChannel(d domain.DeviceClass) string { return seenPrefix + d.Upper() }

// ConfirmationChannels lists every channel the status reconciler consumes.
func ConfirmationChannels() []string {
	out := []string{ChannelSeenPending, ChannelPendingDelivered}
	for _, d := range domain.DeviceClasses {
		out = append(out, DeliveryChannel(d), SeenChannel(d))
	}
	return out
}

type SeenPending struct {
	From string `json:"from" validate:"required,userid"`
	To   string `json:"to" validate:"required,userid"`
	ID   string `json:"id" validate:"required"`
}

type MessageRef struct {
	ID string `json:"id"`
}

type PendingDelivered struct {
	ToUserID           string     `json:"toUserId" validate:"required,userid"`
	FromUserID         string     `json:"fromUserId" validate:"required,userid"`
	MessageContent     string     `json:"messageContent"`
	MessageBackContent string     `json:"messageBackContent"`
	MessageID          string     `json:"messageId" validate:"required"`
	Type               string     `json:"type,omitempty"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`

	// Device is the device class whose queue was drained.
	Device domain.DeviceClass `json:"device,omitempty" validate:"omitempty,oneof=web mobile"`
}

// PendingDeliveredFrom builds the event announcing that e reached its
// recipient's reconnecting device.
func PendingDeliveredFrom(e domain.PendingEntry, device domain.DeviceClass) PendingDelivered {
	created := e.CreatedAt
	return PendingDelivered{
		Device:             device,
		ToUserID:           e.To,
		FromUserID:         e.From,
		MessageContent:     e.Message,
		MessageBackContent: e.MessageBack,
		MessageID:          e.ID,
		Type:               e.Type,
		CreatedAt:          &created,
	}
}

type Envelope struct {
	Channel string
	Payload []byte
}

func (e Envelope) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type Subscription interface {
	C() <-chan Envelope
	Close() error
}

type Bus interface {
	// Publish JSON-encodes payload unless it is already []byte or
	// json.RawMessage.
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
