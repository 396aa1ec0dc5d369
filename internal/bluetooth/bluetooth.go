// Package bluetooth defines the capabilities the application needs from the
// operating system's Bluetooth stack and selects a backend implementing them.
package bluetooth

import (
	"context"

	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/events"
)

// Subsystem is the OS Bluetooth stack as seen by a session.
//
// CreateBond and RemoveBond are requests: a nil error means the request was
// handed to the stack, and the outcome arrives later as a BondStateChanged event.
type Subsystem interface {
	IsEnabled(ctx context.Context) (bool, error)
	StartDiscovery(ctx context.Context) error
	BondedDevices(ctx context.Context) ([]devices.Record, error)
	// RequestEnable asks to power the adapter on and reports whether it was accepted.
	RequestEnable(ctx context.Context) (bool, error)
	CreateBond(ctx context.Context, rec devices.Record) error
	RemoveBond(ctx context.Context, rec devices.Record) error
	// Subscribe starts event delivery. The returned cancel func stops delivery
	// and closes the channel; it is safe to call more than once.
	Subscribe(ctx context.Context) (<-chan events.Event, func(), error)
	Close() error
}

// PermissionAuthority decides whether the process may use Bluetooth discovery.
type PermissionAuthority interface {
	Request(ctx context.Context) (bool, error)
}

// StaticAuthority always answers with its own value.
type StaticAuthority bool

// Request implements PermissionAuthority.
func (a StaticAuthority) Request(context.Context) (bool, error) {
	return bool(a), nil
}
