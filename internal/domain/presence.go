package domain

import (
	"fmt"
	"strings"
	"time"
)

type DeviceClass string

const (
	DeviceWeb    DeviceClass = "web"
	DeviceMobile DeviceClass = "mobile"
)

// DeviceClasses is every device class tracked for presence and pending delivery.
var DeviceClasses = []DeviceClass{DeviceWeb, DeviceMobile}

func (d DeviceClass) Valid() bool { return d == DeviceWeb || d == DeviceMobile }

// Other returns the opposite device class.
func (d DeviceClass) Other() DeviceClass {
	if d == DeviceWeb {
		return DeviceMobile
	}
	return DeviceWeb
}

func (d DeviceClass) Upper() string { return strings.ToUpper(string(d)) }

func ParseDeviceClass(s string) (DeviceClass, error) {
	d := DeviceClass(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", &ValidationError{Field: "device", Reason: fmt.Sprintf("unknown device class %q", s)}
	}
	return d, nil
}

// PresenceRecord exists only while a device is connected. There is no
// separate offline flag: a missing record is the offline signal.
type PresenceRecord struct {
	UserID      string      `json:"userId"`
	Device      DeviceClass `json:"device"`
	FocusedPeer string      `json:"focusedPeer,omitempty"`
	LastSeen    time.Time   `json:"lastSeen"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

func (p *PresenceRecord) FocusedOn(peer string) bool {
	return p != nil && p.FocusedPeer != "" && p.FocusedPeer == peer
}
