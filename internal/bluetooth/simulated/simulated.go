// Package simulated is an in-memory Bluetooth stack driven by configuration.
// It backs the test suite and the "simulated" backend of the CLI.
package simulated

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bavix/btscan/internal/bluetooth/fanout"
	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/events"
)

const bondDelay = 10 * time.Millisecond

var (
	errAdapterPoweredOff = errors.New("simulated: adapter powered off")
	errBondRejected      = errors.New("simulated: remote device rejected the request")
	errClosed            = errors.New("simulated: closed")
)

// Adapter is a scripted Bluetooth adapter.
type Adapter struct {
	mu          sync.Mutex
	closed      bool
	powered     bool
	discovering bool

	declineEnable bool
	failBonds     bool
	foundInterval time.Duration
	duration      time.Duration

	order  []string
	remote map[string]devices.Record

	hub  *fanout.Hub
	done chan struct{}
	wg   sync.WaitGroup
}

// New builds an adapter from the simulated config section.
// discoveryDuration bounds every scan.
func New(cfg config.SimulatedConfig, discoveryDuration time.Duration) (*Adapter, error) {
	if cfg.Absent {
		return nil, customerrors.ErrCapabilityUnavailable
	}

	a := &Adapter{
		powered:       !cfg.PoweredOff,
		declineEnable: cfg.DeclineEnable,
		failBonds:     cfg.FailBonds,
		foundInterval: cfg.FoundInterval,
		duration:      discoveryDuration,
		remote:        make(map[string]devices.Record, len(cfg.Devices)),
		hub:           fanout.New(0),
		done:          make(chan struct{}),
	}

	for _, d := range cfg.Devices {
		a.put(devices.Record{
			Address:   d.Address,
			Name:      d.Name,
			Class:     d.Class,
			BondState: bondState(d.Bonded),
		})
	}

	return a, nil
}

func bondState(bonded bool) devices.BondState {
	if bonded {
		return devices.Bonded
	}

	return devices.NotBonded
}

func (a *Adapter) put(rec devices.Record) {
	rec.Address = devices.NormalizeAddress(rec.Address)
	if _, ok := a.remote[rec.Address]; !ok {
		a.order = append(a.order, rec.Address)
	}

	a.remote[rec.Address] = rec
}

// AddDevice places a new remote device in range. It is found by the next scan.
func (a *Adapter) AddDevice(rec devices.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.put(rec)
}

// Emit publishes ev to subscribers as if the stack had sent it.
func (a *Adapter) Emit(ev events.Event) {
	a.hub.Publish(ev)
}

// IsEnabled implements bluetooth.Subsystem.
func (a *Adapter) IsEnabled(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, errClosed
	}

	return a.powered, nil
}

// RequestEnable implements bluetooth.Subsystem.
func (a *Adapter) RequestEnable(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, errClosed
	}

	if a.declineEnable {
		return false, nil
	}

	a.powered = true

	return true, nil
}

// BondedDevices implements bluetooth.Subsystem.
func (a *Adapter) BondedDevices(context.Context) ([]devices.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errClosed
	}

	var out []devices.Record

	for _, addr := range a.order {
		if rec := a.remote[addr]; rec.BondState == devices.Bonded {
			out = append(out, rec)
		}
	}

	return out, nil
}

// StartDiscovery implements bluetooth.Subsystem. Every device in range is
// reported once, then discovery finishes after the configured duration.
func (a *Adapter) StartDiscovery(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errClosed
	}

	if !a.powered {
		return errAdapterPoweredOff
	}

	if a.discovering {
		return nil
	}

	a.discovering = true

	a.wg.Add(1)

	go a.discover(slices.Clone(a.order))

	return nil
}

// discover reports each address with the record current at that moment.
func (a *Adapter) discover(addresses []string) {
	defer a.wg.Done()

	started := time.Now()

	a.hub.Publish(events.Started())

	for _, addr := range addresses {
		if !a.sleep(a.foundInterval) {
			return
		}

		a.mu.Lock()
		rec, ok := a.remote[addr]
		a.mu.Unlock()

		if ok {
			a.hub.Publish(events.Found(rec))
		}
	}

	if !a.sleep(a.duration - time.Since(started)) {
		return
	}

	a.mu.Lock()
	a.discovering = false
	a.mu.Unlock()

	a.hub.Publish(events.Finished())
}

// CreateBond implements bluetooth.Subsystem. The device passes through
// Bonding before it reaches Bonded.
func (a *Adapter) CreateBond(_ context.Context, rec devices.Record) error {
	return a.changeBond(rec.Address, devices.Bonding, devices.Bonded)
}

// RemoveBond implements bluetooth.Subsystem.
func (a *Adapter) RemoveBond(_ context.Context, rec devices.Record) error {
	return a.changeBond(rec.Address, devices.NotBonded, devices.NotBonded)
}

func (a *Adapter) changeBond(address string, interim, final devices.BondState) error {
	key := devices.NormalizeAddress(address)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errClosed
	}

	if _, ok := a.remote[key]; !ok {
		return customerrors.ErrDeviceNotFoundWithAddress(key)
	}

	if a.failBonds {
		return errBondRejected
	}

	// Removal takes effect in the stack at once; only the event is delayed.
	if interim == final {
		rec := a.remote[key]
		rec.BondState = final
		a.remote[key] = rec
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		if interim != final {
			a.setBond(key, interim)
		}

		if !a.sleep(bondDelay) {
			return
		}

		a.setBond(key, final)
	}()

	return nil
}

func (a *Adapter) setBond(address string, state devices.BondState) {
	a.mu.Lock()
	rec := a.remote[address]
	rec.BondState = state
	a.remote[address] = rec
	a.mu.Unlock()

	a.hub.Publish(events.BondChanged(rec))
}

// Subscribe implements bluetooth.Subsystem.
func (a *Adapter) Subscribe(context.Context) (<-chan events.Event, func(), error) {
	ch, cancel, ok := a.hub.Subscribe()
	if !ok {
		return nil, nil, errClosed
	}

	return ch, cancel, nil
}

func (a *Adapter) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-a.done:
			return false
		default:
			return true
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-a.done:
		return false
	case <-t.C:
		return true
	}
}

// Close stops background work and closes every subscription.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return nil
	}

	a.closed = true
	close(a.done)
	a.mu.Unlock()

	a.hub.Close()
	a.wg.Wait()

	return nil
}
