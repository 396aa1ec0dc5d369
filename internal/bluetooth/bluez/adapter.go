// Package bluez implements the Bluetooth subsystem on top of the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/bavix/btscan/internal/bluetooth/fanout"
	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/events"
)

const (
	signalBuffer        = 64
	pairReplyTimeout    = 60 * time.Second
	defaultDiscoveryFor = 12 * time.Second
)

var (
	errAdapterPoweredOff = errors.New("bluez: adapter powered off")
	errClosed            = errors.New("bluez: closed")
)

// Adapter is one BlueZ adapter (hciN) seen over the system bus.
type Adapter struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	address string

	discoveryFor time.Duration
	cache        *propCache
	hub          *fanout.Hub

	sigCh   chan *dbus.Signal
	matches [][]dbus.MatchOption
	watcher *bondWatcher

	mu        sync.Mutex
	closed    bool
	stopTimer *time.Timer
	bonded    map[string]devices.Record
	// reported holds the devices already found in the current discovery.
	reported map[dbus.ObjectPath]struct{}

	// runCtx outlives request contexts and is cancelled by Close.
	runCtx context.Context //nolint:containedctx // lifetime of background calls
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to the system bus and binds the configured adapter.
// It fails with ErrCapabilityUnavailable when BlueZ or the adapter is missing.
func Open(ctx context.Context, cfg config.BluetoothConfig) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %w", customerrors.ErrCapabilityUnavailable, err)
	}

	path, address, err := findAdapter(ctx, conn, cfg.Adapter)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	a := &Adapter{
		conn:         conn,
		path:         path,
		address:      address,
		discoveryFor: cfg.DiscoveryDuration,
		cache:        newPropCache(cfg.CacheSize, cfg.CacheTTL),
		hub:          fanout.New(signalBuffer),
		sigCh:        make(chan *dbus.Signal, signalBuffer),
		bonded:       make(map[string]devices.Record),
		reported:     make(map[dbus.ObjectPath]struct{}),
		runCtx:       runCtx,
		cancel:       cancel,
	}

	if a.discoveryFor <= 0 {
		a.discoveryFor = defaultDiscoveryFor
	}

	if err := a.subscribeSignals(); err != nil {
		_ = a.Close()

		return nil, err
	}

	a.wg.Add(1)

	go a.dispatch(runCtx)

	if bonded, err := a.BondedDevices(ctx); err == nil {
		a.rememberBonded(bonded)
	}

	if cfg.WatchBondStore && cfg.BondStore != "" {
		a.startBondWatcher(runCtx, filepath.Join(cfg.BondStore, address))
	}

	zerolog.Ctx(ctx).Info().
		Str("adapter", string(path)).
		Str("address", address).
		Msg("bluez adapter opened")

	return a, nil
}

// findAdapter resolves the adapter by name (hci0), or the first adapter when name is empty.
func findAdapter(ctx context.Context, conn *dbus.Conn, name string) (dbus.ObjectPath, string, error) {
	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		if errorName(err) == errNameServiceUnknown {
			return "", "", fmt.Errorf("%w: bluetoothd is not running", customerrors.ErrCapabilityUnavailable)
		}

		return "", "", fmt.Errorf("%w: %w", customerrors.ErrCapabilityUnavailable, err)
	}

	var paths []dbus.ObjectPath

	for p, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			paths = append(paths, p)
		}
	}

	slices.Sort(paths)

	for _, p := range paths {
		if name == "" || strings.HasSuffix(string(p), "/"+name) {
			return p, devices.NormalizeAddress(stringProp(objs[p][adapterIface], "Address")), nil
		}
	}

	return "", "", fmt.Errorf("%w: %w", customerrors.ErrCapabilityUnavailable, customerrors.ErrAdapterNotFound)
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objs managedObjects

	call := conn.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: get managed objects: %w", call.Err)
	}

	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode managed objects: %w", err)
	}

	return objs, nil
}

func (a *Adapter) subscribeSignals() error {
	a.matches = [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(bluezService),
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchSender(bluezService),
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesRemoved"),
		},
		{
			dbus.WithMatchSender(bluezService),
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(a.path),
		},
	}

	for _, m := range a.matches {
		if err := a.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("bluez: add match signal: %w", err)
		}
	}

	a.conn.Signal(a.sigCh)

	return nil
}

// dispatch turns D-Bus signals into events. It owns the signal channel and
// never blocks godbus: publishing waits only on the hub's buffered channels.
func (a *Adapter) dispatch(ctx context.Context) {
	defer a.wg.Done()

	logger := zerolog.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-a.sigCh:
			if !ok {
				return
			}

			for _, ev := range a.translate(ctx, sig) {
				logger.Trace().Str("kind", ev.Kind.String()).Str("address", ev.Device.Address).Msg("bluez event")
				a.hub.Publish(ev)
			}
		}
	}
}

func (a *Adapter) translate(ctx context.Context, sig *dbus.Signal) []events.Event {
	if sig == nil {
		return nil
	}

	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		return a.onInterfacesAdded(sig)
	case objManagerIface + ".InterfacesRemoved":
		a.onInterfacesRemoved(sig)
	case propsIface + ".PropertiesChanged":
		return a.onPropertiesChanged(ctx, sig)
	}

	return nil
}

func (a *Adapter) onInterfacesAdded(sig *dbus.Signal) []events.Event {
	if len(sig.Body) < 2 {
		return nil
	}

	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)

	props, ok := ifaces[deviceIface]
	if !ok || !underAdapter(a.path, path) {
		return nil
	}

	merged := a.cache.merge(path, props, nil)
	a.markReported(path)

	return []events.Event{events.Found(recordFromProps(path, merged))}
}

func (a *Adapter) onInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}

	if path, ok := sig.Body[0].(dbus.ObjectPath); ok {
		a.cache.forget(path)

		a.mu.Lock()
		delete(a.reported, path)
		a.mu.Unlock()
	}
}

func (a *Adapter) onPropertiesChanged(ctx context.Context, sig *dbus.Signal) []events.Event {
	if len(sig.Body) < 2 {
		return nil
	}

	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	var invalidated []string
	if len(sig.Body) > 2 {
		invalidated, _ = sig.Body[2].([]string)
	}

	switch iface {
	case adapterIface:
		if sig.Path != a.path {
			return nil
		}

		if _, ok := changed["Discovering"]; !ok {
			return nil
		}

		if boolProp(changed, "Discovering") {
			a.mu.Lock()
			a.reported = make(map[dbus.ObjectPath]struct{})
			a.mu.Unlock()

			return []events.Event{events.Started()}
		}

		a.disarmStop()

		return []events.Event{events.Finished()}
	case deviceIface:
		if !underAdapter(a.path, sig.Path) {
			return nil
		}

		if _, ok := a.cache.get(sig.Path); !ok {
			a.loadDevice(ctx, sig.Path)
		}

		rec := recordFromProps(sig.Path, a.cache.merge(sig.Path, changed, invalidated))

		var out []events.Event

		if hasAny(changed, bondProps) {
			a.trackBonded(rec)
			out = append(out, events.BondChanged(rec))
		}

		// A device cached from an earlier discovery shows up again only
		// through RSSI; later RSSI updates change nothing the registry shows.
		if hasAny(changed, presenceProps) || (hasAny(changed, signalProps) && a.markReported(sig.Path)) {
			a.markReported(sig.Path)
			out = append(out, events.Found(rec))
		}

		return out
	}

	return nil
}

// markReported records p as found in the current discovery and reports
// whether it was new.
func (a *Adapter) markReported(p dbus.ObjectPath) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.reported[p]; ok {
		return false
	}

	a.reported[p] = struct{}{}

	return true
}

// loadDevice fills the cache for a device seen first through PropertiesChanged.
func (a *Adapter) loadDevice(ctx context.Context, path dbus.ObjectPath) {
	var props map[string]dbus.Variant

	call := a.conn.Object(bluezService, path).CallWithContext(ctx, propsIface+".GetAll", 0, deviceIface)
	if call.Err != nil || call.Store(&props) != nil {
		return
	}

	a.cache.merge(path, props, nil)
}

func (a *Adapter) adapterObject() dbus.BusObject {
	return a.conn.Object(bluezService, a.path)
}

func (a *Adapter) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errClosed
	}

	return nil
}

// IsEnabled implements bluetooth.Subsystem.
func (a *Adapter) IsEnabled(ctx context.Context) (bool, error) {
	if err := a.checkOpen(); err != nil {
		return false, err
	}

	var v dbus.Variant

	call := a.adapterObject().CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered")
	if call.Err != nil {
		return false, fmt.Errorf("bluez: get Powered: %w", call.Err)
	}

	if err := call.Store(&v); err != nil {
		return false, fmt.Errorf("bluez: decode Powered: %w", err)
	}

	powered, _ := v.Value().(bool)

	return powered, nil
}

// RequestEnable implements bluetooth.Subsystem by powering the adapter on.
// A refusal from BlueZ (rfkill, policy) is a declined request, not an error.
func (a *Adapter) RequestEnable(ctx context.Context) (bool, error) {
	if err := a.checkOpen(); err != nil {
		return false, err
	}

	call := a.adapterObject().CallWithContext(ctx, propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true))
	if call.Err != nil {
		if errorName(call.Err) != "" {
			zerolog.Ctx(ctx).Warn().Err(call.Err).Msg("adapter refused to power on")

			return false, nil
		}

		return false, fmt.Errorf("bluez: set Powered: %w", call.Err)
	}

	return true, nil
}

// StartDiscovery implements bluetooth.Subsystem. BlueZ discovery is
// open-ended, so it is stopped after the configured discovery window.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	call := a.adapterObject().CallWithContext(ctx, adapterIface+".StartDiscovery", 0)
	if call.Err != nil {
		switch errorName(call.Err) {
		case errNameInProgress:
			return nil
		case errNameNotReady:
			return errAdapterPoweredOff
		default:
			return fmt.Errorf("bluez: start discovery: %w", call.Err)
		}
	}

	a.armStop(zerolog.Ctx(ctx))

	return nil
}

func (a *Adapter) armStop(logger *zerolog.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopTimer != nil {
		a.stopTimer.Stop()
	}

	a.stopTimer = time.AfterFunc(a.discoveryFor, func() {
		if err := a.adapterObject().Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
			logger.Debug().Err(err).Msg("StopDiscovery failed")
		}
	})
}

func (a *Adapter) disarmStop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopTimer != nil {
		a.stopTimer.Stop()
		a.stopTimer = nil
	}
}

// BondedDevices implements bluetooth.Subsystem, ordered by address.
func (a *Adapter) BondedDevices(ctx context.Context) ([]devices.Record, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	objs, err := getManagedObjects(ctx, a.conn)
	if err != nil {
		return nil, err
	}

	var out []devices.Record

	for p, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !underAdapter(a.path, p) {
			continue
		}

		merged := a.cache.merge(p, props, nil)

		if rec := recordFromProps(p, merged); rec.BondState == devices.Bonded {
			out = append(out, rec)
		}
	}

	slices.SortFunc(out, func(x, y devices.Record) int {
		return strings.Compare(x.Address, y.Address)
	})

	return out, nil
}

// CreateBond implements bluetooth.Subsystem. Pair is sent without waiting for
// the reply; the device is reported Bonding now and Bonded (or NotBonded on
// failure) when BlueZ answers.
func (a *Adapter) CreateBond(ctx context.Context, rec devices.Record) error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	path := a.objectPath(rec)
	logger := zerolog.Ctx(ctx)

	// The reply may outlive the request; Close aborts it.
	callCtx, cancel := context.WithTimeout(a.runCtx, pairReplyTimeout)

	call := a.conn.Object(bluezService, path).GoWithContext(callCtx, deviceIface+".Pair", 0, make(chan *dbus.Call, 1))
	if call.Err != nil {
		cancel()

		return fmt.Errorf("bluez: pair: %w", call.Err)
	}

	bonding := rec
	bonding.Path = string(path)
	bonding.BondState = devices.Bonding
	a.hub.Publish(events.BondChanged(bonding))

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()
		defer cancel()

		<-call.Done

		if call.Err == nil || errorName(call.Err) == errNameAlreadyExists || a.runCtx.Err() != nil {
			return
		}

		logger.Warn().Err(call.Err).Str("address", rec.Address).Msg("pairing failed")

		failed := bonding
		failed.BondState = devices.NotBonded
		a.hub.Publish(events.BondChanged(failed))
	}()

	return nil
}

// RemoveBond implements bluetooth.Subsystem. BlueZ forgets the device
// entirely, including its bonding keys.
func (a *Adapter) RemoveBond(ctx context.Context, rec devices.Record) error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	path := a.objectPath(rec)

	if err := a.adapterObject().CallWithContext(ctx, adapterIface+".RemoveDevice", 0, path).Err; err != nil {
		return fmt.Errorf("bluez: remove device: %w", err)
	}

	a.cache.forget(path)

	a.mu.Lock()
	delete(a.bonded, devices.NormalizeAddress(rec.Address))
	a.mu.Unlock()

	return nil
}

func (a *Adapter) objectPath(rec devices.Record) dbus.ObjectPath {
	if rec.Path != "" && underAdapter(a.path, dbus.ObjectPath(rec.Path)) {
		return dbus.ObjectPath(rec.Path)
	}

	return devicePath(a.path, rec.Address)
}

// Subscribe implements bluetooth.Subsystem.
func (a *Adapter) Subscribe(context.Context) (<-chan events.Event, func(), error) {
	ch, cancel, ok := a.hub.Subscribe()
	if !ok {
		return nil, nil, errClosed
	}

	return ch, cancel, nil
}

func (a *Adapter) startBondWatcher(ctx context.Context, dir string) {
	logger := zerolog.Ctx(ctx)

	w, err := newBondWatcher(func() { a.reconcileBonds(ctx) })
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create bond store watcher")

		return
	}

	if err := w.watch(ctx, dir); err != nil {
		_ = w.close()

		logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch bond store")

		return
	}

	a.watcher = w
}

// reconcileBonds diffs the bonded set against the last known one and
// reports every device whose bond appeared or vanished.
func (a *Adapter) reconcileBonds(ctx context.Context) {
	bonded, err := a.BondedDevices(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("bond store reconcile skipped")

		return
	}

	for _, ev := range a.diffBonded(bonded) {
		a.hub.Publish(ev)
	}
}

func (a *Adapter) diffBonded(bonded []devices.Record) []events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	return diffBonded(a.bonded, bonded)
}

func (a *Adapter) rememberBonded(bonded []devices.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range bonded {
		a.bonded[rec.Address] = rec
	}
}

func (a *Adapter) trackBonded(rec devices.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec.BondState == devices.Bonded {
		a.bonded[rec.Address] = rec
	} else {
		delete(a.bonded, rec.Address)
	}
}

// diffBonded updates known in place and returns BondStateChanged events for
// additions and removals, ordered by address.
func diffBonded(known map[string]devices.Record, current []devices.Record) []events.Event {
	var out []events.Event

	seen := make(map[string]struct{}, len(current))

	for _, rec := range current {
		seen[rec.Address] = struct{}{}

		if _, ok := known[rec.Address]; !ok {
			known[rec.Address] = rec
			out = append(out, events.BondChanged(rec))
		}
	}

	gone := make([]string, 0)

	for addr := range known {
		if _, ok := seen[addr]; !ok {
			gone = append(gone, addr)
		}
	}

	slices.Sort(gone)

	for _, addr := range gone {
		rec := known[addr]
		rec.BondState = devices.NotBonded
		delete(known, addr)

		out = append(out, events.BondChanged(rec))
	}

	return out
}

// Close stops discovery, drops signal matches and closes the bus connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return nil
	}

	a.closed = true

	if a.stopTimer != nil {
		a.stopTimer.Stop()
	}
	a.mu.Unlock()

	if a.watcher != nil {
		_ = a.watcher.close()
	}

	_ = a.adapterObject().Call(adapterIface+".StopDiscovery", 0).Err

	for _, m := range a.matches {
		_ = a.conn.RemoveMatchSignal(m...)
	}

	a.conn.RemoveSignal(a.sigCh)
	a.cancel()
	a.hub.Close()
	a.wg.Wait()

	return a.conn.Close()
}
