package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/metrics"
)

// BondedSource enumerates devices that currently have a bond with the local adapter.
type BondedSource interface {
	BondedDevices(ctx context.Context) ([]devices.Record, error)
}

// Router applies events to a registry and pushes the result to a presenter.
//
// The registry keeps first-seen records; the router keeps the latest known
// bond state per address on the side and overlays it on every snapshot, so a
// BondStateChanged event refreshes the view without touching the registry.
type Router struct {
	registry  *devices.Registry
	bonded    BondedSource
	presenter Presenter

	mu         sync.RWMutex
	bondStates map[string]devices.BondState

	scanning atomic.Bool
}

// NewRouter creates a router. A nil presenter discards output.
func NewRouter(registry *devices.Registry, bonded BondedSource, presenter Presenter) *Router {
	if presenter == nil {
		presenter = NopPresenter{}
	}

	return &Router{
		registry:   registry,
		bonded:     bonded,
		presenter:  presenter,
		bondStates: make(map[string]devices.BondState),
	}
}

// Run consumes events until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}

			r.Handle(ctx, ev)
		}
	}
}

// Handle applies a single event.
func (r *Router) Handle(ctx context.Context, ev Event) {
	if ev.Done != nil {
		defer close(ev.Done)
	}

	logger := zerolog.Ctx(ctx)

	metrics.RecordEvent(ev.Kind.String())

	switch ev.Kind {
	case DeviceFound:
		changed := r.mergeBonded(ctx)

		r.seedBondState(ev.Device)

		if r.registry.UpsertIfNamed(ev.Device) {
			changed = true

			logger.Debug().
				Str("address", ev.Device.Address).
				Str("name", ev.Device.Name).
				Msg("device added")
		}

		if changed {
			r.refresh()
		}
	case BondStateChanged:
		r.trackBondState(ev.Device)

		logger.Debug().
			Str("address", ev.Device.Address).
			Str("bond_state", ev.Device.BondState.String()).
			Msg("bond state changed")

		r.refresh()
	case DiscoveryStarted:
		r.scanning.Store(true)
		metrics.SetScanning(true)
		r.presenter.SetScanning(true)
	case DiscoveryFinished:
		r.scanning.Store(false)
		metrics.SetScanning(false)
		r.presenter.SetScanning(false)
	case ScanReset:
		r.registry.Reset()

		r.mu.Lock()
		r.bondStates = make(map[string]devices.BondState)
		r.mu.Unlock()

		r.refresh()
	case DeviceUnbonded:
		key := devices.NormalizeAddress(ev.Device.Address)
		if r.registry.RemoveByAddress(key) {
			r.mu.Lock()
			delete(r.bondStates, key)
			r.mu.Unlock()

			r.refresh()
		}
	default:
		logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown event kind ignored")
	}
}

// mergeBonded re-enumerates bonded devices and appends the unseen ones.
func (r *Router) mergeBonded(ctx context.Context) bool {
	if r.bonded == nil {
		return false
	}

	bonded, err := r.bonded.BondedDevices(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to enumerate bonded devices")

		return false
	}

	changed := false

	for _, rec := range bonded {
		if r.trackBondState(rec) {
			changed = true
		}
	}

	if r.registry.MergeBonded(bonded) > 0 {
		changed = true
	}

	return changed
}

// seedBondState records the state a found device carries only when nothing is
// known about it yet. Found records are property snapshots that lag behind a
// pairing in progress, so they never override a known state.
func (r *Router) seedBondState(rec devices.Record) {
	key := devices.NormalizeAddress(rec.Address)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bondStates[key]; !ok {
		r.bondStates[key] = rec.BondState
	}
}

// trackBondState records the latest bond state for rec and reports whether it changed.
func (r *Router) trackBondState(rec devices.Record) bool {
	key := devices.NormalizeAddress(rec.Address)
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.bondStates[key]
	r.bondStates[key] = rec.BondState

	return ok && prev != rec.BondState
}

func (r *Router) refresh() {
	snapshot := r.Snapshot()

	metrics.SetRegistryDevices(len(snapshot))
	r.presenter.Refresh(snapshot)
}

// Snapshot returns the registry contents with the latest bond states applied.
func (r *Router) Snapshot() []devices.Record {
	snapshot := r.registry.Snapshot()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range snapshot {
		if st, ok := r.bondStates[snapshot[i].Address]; ok {
			snapshot[i].BondState = st
		}
	}

	return snapshot
}

// Lookup returns a single record with its latest bond state.
func (r *Router) Lookup(address string) (devices.Record, bool) {
	rec, ok := r.registry.Get(address)
	if !ok {
		return devices.Record{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.bondStates[rec.Address]; ok {
		rec.BondState = st
	}

	return rec, true
}

// Scanning reports the scanning indicator state.
func (r *Router) Scanning() bool {
	return r.scanning.Load()
}
