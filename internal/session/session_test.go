package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/internal/bluetooth"
	"github.com/bavix/btscan/internal/bluetooth/simulated"
	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
	"github.com/bavix/btscan/internal/session"
)

const (
	headsetAddr = "00:1A:7D:DA:71:13"
	phoneAddr   = "00:1A:7D:DA:71:14"
	unnamedAddr = "00:1A:7D:DA:71:15"

	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type recorder struct {
	mu        sync.Mutex
	snapshots [][]devices.Record
	finished  int
	messages  []session.Message
}

func (r *recorder) Refresh(snapshot []devices.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = append(r.snapshots, snapshot)
}

func (r *recorder) SetScanning(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !visible {
		r.finished++
	}
}

func (r *recorder) Notify(_ context.Context, msg session.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
}

func (r *recorder) finishedScans() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.finished
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Text)
	}

	return out
}

func simConfig(mutate func(*config.SimulatedConfig)) config.SimulatedConfig {
	cfg := config.SimulatedConfig{
		Devices: []config.SimulatedDevice{
			{Address: headsetAddr, Name: "Headset", Class: 0x240404},
			{Address: unnamedAddr},
			{Address: phoneAddr, Name: "Phone", Class: 0x5a020c, Bonded: true},
		},
	}

	if mutate != nil {
		mutate(&cfg)
	}

	return cfg
}

func opener(cfg config.SimulatedConfig) bluetooth.Opener {
	return func(context.Context) (bluetooth.Subsystem, error) {
		a, err := simulated.New(cfg, 20*time.Millisecond)
		if err != nil {
			return nil, err
		}

		return a, nil
	}
}

func openSession(t *testing.T, mutate func(*config.SimulatedConfig)) (*session.Session, *recorder) {
	t.Helper()

	rec := &recorder{}

	s, err := session.Open(context.Background(), session.Options{
		Open:      opener(simConfig(mutate)),
		Authority: bluetooth.StaticAuthority(true),
		Presenter: rec,
		Notifier:  rec,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s, rec
}

func scanAndWait(t *testing.T, s *session.Session, rec *recorder) {
	t.Helper()

	before := rec.finishedScans()

	outcome, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.ScanStarted, outcome)
	require.Eventually(t, func() bool { return rec.finishedScans() > before }, waitFor, tick)
}

func addresses(records []devices.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Address)
	}

	return out
}

func TestOpen_PermissionDenied(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	opened := false

	_, err := session.Open(context.Background(), session.Options{
		Open: func(context.Context) (bluetooth.Subsystem, error) {
			opened = true

			return nil, customerrors.ErrSubsystemNotStarted
		},
		Authority: bluetooth.StaticAuthority(false),
		Notifier:  rec,
	})

	require.ErrorIs(t, err, customerrors.ErrPermissionDenied)
	assert.False(t, opened, "subsystem must not be initialised")
	assert.Equal(t, []string{session.TextPermissionDenied}, rec.texts())
}

func TestOpen_CapabilityUnavailable(t *testing.T) {
	t.Parallel()

	rec := &recorder{}

	_, err := session.Open(context.Background(), session.Options{
		Open:      opener(config.SimulatedConfig{Absent: true}),
		Authority: bluetooth.StaticAuthority(true),
		Notifier:  rec,
	})

	require.ErrorIs(t, err, customerrors.ErrCapabilityUnavailable)
	assert.Equal(t, []string{session.TextCapabilityUnavailable}, rec.texts())
}

func TestScan_MergesBondedBeforeFoundAndSkipsUnnamed(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, nil)

	scanAndWait(t, s, rec)

	assert.Equal(t, []string{phoneAddr, headsetAddr}, addresses(s.Snapshot()))
	assert.False(t, s.Scanning())
}

func TestScan_ResetsRegistry(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, func(c *config.SimulatedConfig) {
		c.Devices = []config.SimulatedDevice{{Address: headsetAddr, Name: "Headset"}}
	})

	scanAndWait(t, s, rec)
	require.Len(t, s.Snapshot(), 1)

	require.NoError(t, s.RequestBond(context.Background(), headsetAddr))
	require.Eventually(t, func() bool {
		r, ok := s.Lookup(headsetAddr)

		return ok && r.BondState == devices.Bonded
	}, waitFor, tick)

	require.NoError(t, s.RequestUnbond(context.Background(), headsetAddr))
	assert.Empty(t, s.Snapshot())

	scanAndWait(t, s, rec)
	assert.Equal(t, []string{headsetAddr}, addresses(s.Snapshot()))
}

func TestScan_AdapterOff(t *testing.T) {
	t.Parallel()

	t.Run("enable accepted", func(t *testing.T) {
		t.Parallel()

		s, rec := openSession(t, func(c *config.SimulatedConfig) { c.PoweredOff = true })

		outcome, err := s.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, session.ScanEnabled, outcome)
		assert.Equal(t, []string{session.TextEnabled}, rec.texts())
		assert.Empty(t, s.Snapshot())

		enabled, err := s.Enabled(context.Background())
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("enable declined", func(t *testing.T) {
		t.Parallel()

		s, rec := openSession(t, func(c *config.SimulatedConfig) {
			c.PoweredOff = true
			c.DeclineEnable = true
		})

		_, err := s.Scan(context.Background())
		require.ErrorIs(t, err, customerrors.ErrEnableRequestDeclined)
		assert.Equal(t, []string{session.TextEnableDeclined}, rec.texts())
	})
}

func TestRequestBond(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, nil)
	scanAndWait(t, s, rec)

	require.NoError(t, s.RequestBond(context.Background(), "00:1a:7d:da:71:13"))

	require.Eventually(t, func() bool {
		r, ok := s.Lookup(headsetAddr)

		return ok && r.BondState == devices.Bonded
	}, waitFor, tick)

	assert.Equal(t, []string{phoneAddr, headsetAddr}, addresses(s.Snapshot()))
}

func TestRequestBond_Preconditions(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, nil)
	scanAndWait(t, s, rec)

	require.ErrorIs(t, s.RequestBond(context.Background(), phoneAddr), customerrors.ErrPreconditionViolation)
	require.ErrorIs(t, s.RequestBond(context.Background(), "AA:AA:AA:AA:AA:AA"), customerrors.ErrDeviceNotFound)
	require.ErrorIs(t, s.RequestBond(context.Background(), " "), customerrors.ErrDeviceAddressRequired)
}

func TestRequestUnbond(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, nil)
	scanAndWait(t, s, rec)

	before := s.Snapshot()

	require.ErrorIs(t, s.RequestUnbond(context.Background(), headsetAddr), customerrors.ErrPreconditionViolation)
	assert.Equal(t, before, s.Snapshot())

	for range 20 {
		s, rec := openSession(t, nil)
		scanAndWait(t, s, rec)

		require.NoError(t, s.RequestUnbond(context.Background(), phoneAddr))

		_, ok := s.Lookup(phoneAddr)
		require.False(t, ok, "record is gone when the request returns")
		assert.Equal(t, []string{headsetAddr}, addresses(s.Snapshot()))

		require.ErrorIs(t, s.RequestUnbond(context.Background(), phoneAddr), customerrors.ErrDeviceNotFound)
	}
}

func TestBondFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, func(c *config.SimulatedConfig) { c.FailBonds = true })
	scanAndWait(t, s, rec)

	before := s.Snapshot()

	require.NoError(t, s.RequestBond(context.Background(), headsetAddr))
	require.NoError(t, s.RequestUnbond(context.Background(), phoneAddr))

	assert.Equal(t, before, s.Snapshot())
}

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	s, rec := openSession(t, nil)
	scanAndWait(t, s, rec)

	action, err := s.SelectDevice(context.Background(), phoneAddr, false)
	require.ErrorIs(t, err, customerrors.ErrConfirmationRequired)
	assert.Equal(t, session.ActionUnbond, action)

	_, ok := s.Lookup(phoneAddr)
	assert.True(t, ok, "unconfirmed unbond keeps the device")

	action, err = s.SelectDevice(context.Background(), headsetAddr, false)
	require.NoError(t, err)
	assert.Equal(t, session.ActionBond, action)

	action, err = s.SelectDevice(context.Background(), phoneAddr, true)
	require.NoError(t, err)
	assert.Equal(t, session.ActionUnbond, action)

	_, ok = s.Lookup(phoneAddr)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	t.Parallel()

	s, _ := openSession(t, nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Scan(context.Background())
	require.ErrorIs(t, err, customerrors.ErrSessionClosed)
	require.ErrorIs(t, s.RequestBond(context.Background(), headsetAddr), customerrors.ErrSessionClosed)

	_, err = s.BondedDevices(context.Background())
	require.ErrorIs(t, err, customerrors.ErrSessionClosed)
}
