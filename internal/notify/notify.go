// Package notify delivers fire-and-forget license lifecycle events to
// client installations. Delivery failure never affects the state change
// that produced the event.
package notify

import (
	"context"
	"time"
)

// Event types pushed to client installations.
const (
	EventLicenseIssued  = "license.issued"
	EventLicenseRevoked = "license.revoked"
	EventStatusChanged  = "client.status_changed"
)

// Event is one notification addressed to a client instance.
type Event struct {
	Type             string    `json:"type"`
	ClientInstanceID string    `json:"client_instance_id"`
	LicenseKey       string    `json:"license_key,omitempty"`
	Message          string    `json:"message"`
	At               time.Time `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller on
// slow consumers and must swallow delivery errors.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop drops all events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(ctx context.Context, ev Event) {}
