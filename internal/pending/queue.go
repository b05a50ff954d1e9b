// Package pending buffers messages for device classes that are offline.
//
// Every implementation appends with a single atomic store primitive and
// drains with an atomic read-and-clear; none of them read, modify and write
// back the list, which would lose entries under concurrent senders.
// Delivery out of a queue is at-least-once, so consumers dedupe by id.
package pending

import (
	"context"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type Queue interface {
	Enqueue(ctx context.Context, user string, device domain.DeviceClass, entry domain.PendingEntry) error
	DrainAll(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error)
	RemoveOne(ctx context.Context, user string, device domain.DeviceClass, messageID string) error
	List(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error)
}
