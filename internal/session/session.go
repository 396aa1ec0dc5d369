// Package session owns one interactive use of the Bluetooth stack: the event
// subscription, the device registry it feeds, and the user actions on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bavix/btscan/internal/bluetooth"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/events"
	"github.com/bavix/btscan/internal/metrics"
)

const defaultQueueSize = 256

// Action is what selecting a device resulted in.
type Action string

// Selection actions.
const (
	ActionBond   Action = "bond"
	ActionUnbond Action = "unbond"
)

// Options wires a session.
type Options struct {
	Open      bluetooth.Opener
	Authority bluetooth.PermissionAuthority
	Presenter events.Presenter
	Notifier  Notifier
	QueueSize int
}

// Session is a live subscription to the Bluetooth stack. All registry writes
// go through its inbox and are applied by a single router goroutine.
type Session struct {
	sub      bluetooth.Subsystem
	registry *devices.Registry
	router   *events.Router
	notifier Notifier

	inbox     chan events.Event
	unsub     func()
	cancel    context.CancelFunc
	done      <-chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	sf singleflight.Group
}

// Open asks for permission, initialises the subsystem and subscribes to its
// events. On a denied permission the subsystem is never initialised.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Open == nil || opts.Authority == nil {
		return nil, customerrors.ErrSubsystemNotStarted
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}

	granted, err := opts.Authority.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission request: %w", err)
	}

	if !granted {
		notifier.Notify(ctx, Message{Level: LevelError, Text: TextPermissionDenied})

		return nil, customerrors.ErrPermissionDenied
	}

	sub, err := opts.Open(ctx)
	if err != nil {
		if errors.Is(err, customerrors.ErrCapabilityUnavailable) {
			notifier.Notify(ctx, Message{Level: LevelError, Text: TextCapabilityUnavailable})
		}

		return nil, err
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	registry := devices.NewRegistry()

	s := &Session{
		sub:      sub,
		registry: registry,
		router:   events.NewRouter(registry, sub, opts.Presenter),
		notifier: notifier,
		inbox:    make(chan events.Event, queueSize),
	}

	ch, unsub, err := sub.Subscribe(ctx)
	if err != nil {
		_ = sub.Close()

		return nil, fmt.Errorf("subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.unsub = unsub
	s.cancel = cancel
	s.done = runCtx.Done()

	s.wg.Add(2)

	go s.pump(runCtx, ch)

	go func() {
		defer s.wg.Done()

		_ = s.router.Run(runCtx, s.inbox)
	}()

	zerolog.Ctx(ctx).Debug().Int("queue_size", queueSize).Msg("session opened")

	return s, nil
}

// pump moves backend events into the router inbox.
func (s *Session) pump(ctx context.Context, ch <-chan events.Event) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			if err := s.submit(ctx, ev); err != nil {
				return
			}
		}
	}
}

func (s *Session) submit(ctx context.Context, ev events.Event) error {
	select {
	case <-s.done:
		return customerrors.ErrSessionClosed
	default:
	}

	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return customerrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply submits ev and waits until the router has applied it.
func (s *Session) apply(ctx context.Context, ev events.Event) error {
	ev.Done = make(chan struct{})

	if err := s.submit(ctx, ev); err != nil {
		return err
	}

	select {
	case <-ev.Done:
		return nil
	case <-s.done:
		return customerrors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ScanOutcome tells what a scan request did.
type ScanOutcome string

// Scan outcomes.
const (
	ScanStarted ScanOutcome = "started"
	ScanEnabled ScanOutcome = "enabled"
)

// Scan starts a new discovery. The registry is cleared first. When the
// adapter is off, Scan only asks to enable it and reports ScanEnabled; the
// user scans again after.
func (s *Session) Scan(ctx context.Context) (ScanOutcome, error) {
	if s.closed() {
		return "", customerrors.ErrSessionClosed
	}

	enabled, err := s.sub.IsEnabled(ctx)
	if err != nil {
		metrics.RecordScan("error")

		return "", err
	}

	if !enabled {
		if err := s.requestEnable(ctx); err != nil {
			return "", err
		}

		return ScanEnabled, nil
	}

	if err := s.apply(ctx, events.Event{Kind: events.ScanReset}); err != nil {
		return "", err
	}

	if err := s.sub.StartDiscovery(ctx); err != nil {
		metrics.RecordScan("error")

		return "", fmt.Errorf("start discovery: %w", err)
	}

	metrics.RecordScan(string(ScanStarted))
	zerolog.Ctx(ctx).Info().Msg("discovery started")

	return ScanStarted, nil
}

func (s *Session) requestEnable(ctx context.Context) error {
	ok, err := s.sub.RequestEnable(ctx)
	if err != nil || !ok {
		metrics.RecordScan("enable_declined")
		s.notifier.Notify(ctx, Message{Level: LevelWarning, Text: TextEnableDeclined})

		if err != nil {
			return fmt.Errorf("%w: %w", customerrors.ErrEnableRequestDeclined, err)
		}

		return customerrors.ErrEnableRequestDeclined
	}

	metrics.RecordScan("enable_requested")
	s.notifier.Notify(ctx, Message{Level: LevelInfo, Text: TextEnabled})

	return nil
}

// SelectDevice is a click on a list entry: an unbonded device gets a bond
// request, any other needs confirm before its bond is removed.
func (s *Session) SelectDevice(ctx context.Context, address string, confirm bool) (Action, error) {
	rec, err := s.lookup(address)
	if err != nil {
		return "", err
	}

	if rec.BondState == devices.NotBonded {
		return ActionBond, s.RequestBond(ctx, rec.Address)
	}

	if !confirm {
		return ActionUnbond, customerrors.ErrConfirmationRequired
	}

	return ActionUnbond, s.RequestUnbond(ctx, rec.Address)
}

// RequestBond asks the stack to bond with an unbonded device. Stack failures
// are logged and counted, not returned: the outcome arrives as an event.
func (s *Session) RequestBond(ctx context.Context, address string) error {
	rec, err := s.lookup(address)
	if err != nil {
		return err
	}

	if rec.BondState != devices.NotBonded {
		return customerrors.ErrPreconditionViolationWithState(string(ActionBond), rec.BondState.String())
	}

	_, _, _ = s.sf.Do("bond:"+rec.Address, func() (any, error) {
		if err := s.sub.CreateBond(ctx, rec); err != nil {
			s.bondFailed(ctx, ActionBond, rec, err)

			return nil, nil //nolint:nilerr // swallowed after logging
		}

		metrics.RecordBond(string(ActionBond), "sent")

		return nil, nil
	})

	return nil
}

// RequestUnbond removes the bond of a bonded or bonding device and, on
// success, drops it from the registry before returning.
func (s *Session) RequestUnbond(ctx context.Context, address string) error {
	rec, err := s.lookup(address)
	if err != nil {
		return err
	}

	if rec.BondState == devices.NotBonded {
		return customerrors.ErrPreconditionViolationWithState(string(ActionUnbond), rec.BondState.String())
	}

	_, _, _ = s.sf.Do("unbond:"+rec.Address, func() (any, error) {
		if err := s.sub.RemoveBond(ctx, rec); err != nil {
			s.bondFailed(ctx, ActionUnbond, rec, err)

			return nil, nil //nolint:nilerr // swallowed after logging
		}

		metrics.RecordBond(string(ActionUnbond), "sent")

		if err := s.apply(ctx, events.Event{Kind: events.DeviceUnbonded, Device: rec}); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("address", rec.Address).Msg("unbonded device not removed")
		}

		return nil, nil
	})

	return nil
}

func (s *Session) bondFailed(ctx context.Context, op Action, rec devices.Record, cause error) {
	metrics.RecordBond(string(op), "error")

	zerolog.Ctx(ctx).Warn().
		Err(customerrors.ErrBondOperationFailedWithCause(string(op), rec.Address, cause)).
		Str("address", rec.Address).
		Msg("bond request failed")
}

func (s *Session) lookup(address string) (devices.Record, error) {
	if s.closed() {
		return devices.Record{}, customerrors.ErrSessionClosed
	}

	if devices.NormalizeAddress(address) == "" {
		return devices.Record{}, customerrors.ErrDeviceAddressRequired
	}

	rec, ok := s.router.Lookup(address)
	if !ok {
		return devices.Record{}, customerrors.ErrDeviceNotFoundWithAddress(devices.NormalizeAddress(address))
	}

	return rec, nil
}

// Snapshot returns the current device list.
func (s *Session) Snapshot() []devices.Record {
	return s.router.Snapshot()
}

// Lookup returns one device from the list.
func (s *Session) Lookup(address string) (devices.Record, bool) {
	return s.router.Lookup(address)
}

// Scanning reports whether discovery is in progress.
func (s *Session) Scanning() bool {
	return s.router.Scanning()
}

// Enabled reports whether the adapter is powered.
func (s *Session) Enabled(ctx context.Context) (bool, error) {
	if s.closed() {
		return false, customerrors.ErrSessionClosed
	}

	return s.sub.IsEnabled(ctx)
}

// BondedDevices lists the devices bonded with the adapter, scanned or not.
func (s *Session) BondedDevices(ctx context.Context) ([]devices.Record, error) {
	if s.closed() {
		return nil, customerrors.ErrSessionClosed
	}

	return s.sub.BondedDevices(ctx)
}

// Notify sends a message through the session notifier.
func (s *Session) Notify(ctx context.Context, msg Message) {
	s.notifier.Notify(ctx, msg)
}

// Close unsubscribes and releases the subsystem. No event is handled after
// Close returns. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.unsub()
		s.cancel()
		s.wg.Wait()

		s.closeErr = s.sub.Close()
	})

	return s.closeErr
}
