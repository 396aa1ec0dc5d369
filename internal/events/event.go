// Package events routes Bluetooth stack notifications into the device registry
// and the presentation layer.
package events

import "github.com/bavix/btscan/internal/devices"

// Kind is the type of a routed event.
type Kind int

// External event kinds, emitted by the Bluetooth subsystem.
const (
	DeviceFound Kind = iota + 1
	BondStateChanged
	DiscoveryStarted
	DiscoveryFinished
)

// Internal event kinds, emitted by the session so that the router stays the
// only registry writer.
const (
	ScanReset Kind = iota + 100
	DeviceUnbonded
)

// String returns the metric/log name of the kind.
func (k Kind) String() string {
	switch k {
	case DeviceFound:
		return "device_found"
	case BondStateChanged:
		return "bond_state_changed"
	case DiscoveryStarted:
		return "discovery_started"
	case DiscoveryFinished:
		return "discovery_finished"
	case ScanReset:
		return "scan_reset"
	case DeviceUnbonded:
		return "device_unbonded"
	default:
		return "unknown"
	}
}

// Event is a single notification. Device is set for DeviceFound,
// BondStateChanged and DeviceUnbonded.
//
// Done, when set, is closed by the router once the event has been applied.
type Event struct {
	Kind   Kind
	Device devices.Record
	Done   chan struct{}
}

// Found builds a DeviceFound event.
func Found(rec devices.Record) Event { return Event{Kind: DeviceFound, Device: rec} }

// BondChanged builds a BondStateChanged event.
func BondChanged(rec devices.Record) Event { return Event{Kind: BondStateChanged, Device: rec} }

// Started builds a DiscoveryStarted event.
func Started() Event { return Event{Kind: DiscoveryStarted} }

// Finished builds a DiscoveryFinished event.
func Finished() Event { return Event{Kind: DiscoveryFinished} }

// Presenter consumes registry snapshots and the scanning indicator.
// Implementations must return quickly; the router calls them inline.
type Presenter interface {
	Refresh(snapshot []devices.Record)
	SetScanning(visible bool)
}

// MultiPresenter fans out to several presenters in order.
type MultiPresenter []Presenter

// Refresh implements Presenter.
func (m MultiPresenter) Refresh(snapshot []devices.Record) {
	for _, p := range m {
		p.Refresh(snapshot)
	}
}

// SetScanning implements Presenter.
func (m MultiPresenter) SetScanning(visible bool) {
	for _, p := range m {
		p.SetScanning(visible)
	}
}

// NopPresenter discards everything.
type NopPresenter struct{}

func (NopPresenter) Refresh([]devices.Record) {}
func (NopPresenter) SetScanning(bool)         {}
