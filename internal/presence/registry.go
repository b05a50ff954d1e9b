// Package presence tracks which device classes of a user are connected and
// which peer conversation each device has in focus. Records are lease-bound:
// a device that stops refreshing its record is treated as offline.
package presence

import (
	"context"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type Registry interface {
	// Register creates or refreshes the lease for (user, device).
	Register(ctx context.Context, user string, device domain.DeviceClass, focusedPeer string) error
	// Lookup returns nil, nil when the device is offline.
	Lookup(ctx context.Context, user string, device domain.DeviceClass) (*domain.PresenceRecord, error)
	Clear(ctx context.Context, user string, device domain.DeviceClass) error
}

// Key is the store key of a presence record: <deviceClass>_<userId>.
func Key(user string, device domain.DeviceClass) string {
	return string(device) + "_" + user
}
