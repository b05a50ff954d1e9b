package domain

import "time"

const DefaultMessageType = "text"

type SendRequest struct {
	From        string      `json:"from" validate:"required,userid"`
	To          string      `json:"to" validate:"required,userid,nefield=From"`
	Message     string      `json:"message" validate:"required"`
	MessageBack string      `json:"messageBack" validate:"required"`
	Type        string      `json:"type" validate:"omitempty,max=32"`
	Device      DeviceClass `json:"device" validate:"omitempty,oneof=web mobile"`
}

// Validate checks required fields. It runs before any side effect.
func (r *SendRequest) Validate() error {
	if err := Validate(r); err != nil {
		return err
	}
	if r.Type == "" {
		r.Type = DefaultMessageType
	}
	return nil
}

// DeviceRef names one device of one user.
type DeviceRef struct {
	User   string      `json:"user" validate:"required,userid"`
	Device DeviceClass `json:"device" validate:"required,oneof=web mobile"`
}

type SendResult struct {
	Status      Status     `json:"status"`
	MessageID   string     `json:"chatId"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	SeenAt      *time.Time `json:"seenAt,omitempty"`
}
