package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/events"
)

type bondedStub struct {
	mu      sync.Mutex
	records []devices.Record
	err     error
	calls   int
}

func (b *bondedStub) BondedDevices(context.Context) ([]devices.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++

	return b.records, b.err
}

type presenterStub struct {
	refreshes [][]devices.Record
	scanning  []bool
}

func (p *presenterStub) Refresh(snapshot []devices.Record) {
	p.refreshes = append(p.refreshes, snapshot)
}

func (p *presenterStub) SetScanning(visible bool) {
	p.scanning = append(p.scanning, visible)
}

func named(address, name string) devices.Record {
	return devices.Record{Address: address, Name: name}
}

func bonded(address, name string) devices.Record {
	return devices.Record{Address: address, Name: name, BondState: devices.Bonded}
}

func addressesOf(records []devices.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Address)
	}

	return out
}

func TestRouter_DeviceFound_SameAddressKeepsFirstName(t *testing.T) {
	t.Parallel()

	p := &presenterStub{}
	r := events.NewRouter(devices.NewRegistry(), &bondedStub{}, p)
	ctx := context.Background()

	r.Handle(ctx, events.Found(named("AA:BB:CC:DD:EE:FF", "Phone")))
	r.Handle(ctx, events.Found(named("AA:BB:CC:DD:EE:FF", "Other")))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Phone", snapshot[0].Name)
	assert.Len(t, p.refreshes, 1, "unchanged registry is not refreshed")
}

func TestRouter_DeviceFound_MergesBondedFirst(t *testing.T) {
	t.Parallel()

	src := &bondedStub{records: []devices.Record{bonded("00:00:00:00:00:0A", "X"), bonded("00:00:00:00:00:0B", "Y")}}
	reg := devices.NewRegistry()
	reg.UpsertIfNamed(bonded("00:00:00:00:00:0A", "X"))

	r := events.NewRouter(reg, src, nil)

	r.Handle(context.Background(), events.Found(named("00:00:00:00:00:0C", "Z")))

	assert.Equal(t,
		[]string{"00:00:00:00:00:0A", "00:00:00:00:00:0B", "00:00:00:00:00:0C"},
		addressesOf(r.Snapshot()),
	)
	assert.Equal(t, 1, src.calls)
}

func TestRouter_DeviceFound_BondedEnumerationFailure(t *testing.T) {
	t.Parallel()

	src := &bondedStub{err: errors.New("bus gone")}
	r := events.NewRouter(devices.NewRegistry(), src, nil)

	r.Handle(context.Background(), events.Found(named("00:00:00:00:00:0C", "Z")))

	assert.Equal(t, []string{"00:00:00:00:00:0C"}, addressesOf(r.Snapshot()))
}

func TestRouter_DeviceFound_Unnamed(t *testing.T) {
	t.Parallel()

	p := &presenterStub{}
	r := events.NewRouter(devices.NewRegistry(), nil, p)

	r.Handle(context.Background(), events.Found(named("00:00:00:00:00:0C", "")))

	assert.Empty(t, r.Snapshot())
	assert.Empty(t, p.refreshes)
}

func TestRouter_BondStateChanged_OverlaysWithoutMutating(t *testing.T) {
	t.Parallel()

	reg := devices.NewRegistry()
	p := &presenterStub{}
	r := events.NewRouter(reg, nil, p)
	ctx := context.Background()

	r.Handle(ctx, events.Found(named("00:00:00:00:00:0C", "Z")))
	r.Handle(ctx, events.BondChanged(devices.Record{Address: "00:00:00:00:00:0c", BondState: devices.Bonding}))

	stored, ok := reg.Get("00:00:00:00:00:0C")
	require.True(t, ok)
	assert.Equal(t, devices.NotBonded, stored.BondState)
	assert.Equal(t, "Z", stored.Name)

	got, ok := r.Lookup("00:00:00:00:00:0C")
	require.True(t, ok)
	assert.Equal(t, devices.Bonding, got.BondState)

	require.Len(t, p.refreshes, 2)
	assert.Equal(t, devices.Bonding, p.refreshes[1][0].BondState)
	assert.Equal(t, 1, reg.Len())
}

func TestRouter_DeviceFound_KeepsKnownBondState(t *testing.T) {
	t.Parallel()

	const addr = "00:00:00:00:00:0C"

	tests := []struct {
		name  string
		state devices.BondState
	}{
		{name: "bonding", state: devices.Bonding},
		{name: "bonded", state: devices.Bonded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := events.NewRouter(devices.NewRegistry(), &bondedStub{}, nil)
			ctx := context.Background()

			r.Handle(ctx, events.Found(named(addr, "Z")))
			r.Handle(ctx, events.BondChanged(devices.Record{Address: addr, Name: "Z", BondState: tt.state}))
			r.Handle(ctx, events.Found(devices.Record{Address: addr, Name: "Z", BondState: devices.NotBonded}))

			got, ok := r.Lookup(addr)
			require.True(t, ok)
			assert.Equal(t, tt.state, got.BondState)
		})
	}
}

func TestRouter_DeviceFound_SeedsUnknownBondState(t *testing.T) {
	t.Parallel()

	r := events.NewRouter(devices.NewRegistry(), &bondedStub{}, nil)
	ctx := context.Background()

	r.Handle(ctx, events.Found(bonded("00:00:00:00:00:0D", "Speaker")))

	got, ok := r.Lookup("00:00:00:00:00:0D")
	require.True(t, ok)
	assert.Equal(t, devices.Bonded, got.BondState)
}

func TestRouter_BondedEnumerationOverridesKnownState(t *testing.T) {
	t.Parallel()

	stub := &bondedStub{}
	r := events.NewRouter(devices.NewRegistry(), stub, nil)
	ctx := context.Background()

	r.Handle(ctx, events.Found(named("00:00:00:00:00:0E", "Watch")))

	stub.mu.Lock()
	stub.records = []devices.Record{bonded("00:00:00:00:00:0E", "Watch")}
	stub.mu.Unlock()

	r.Handle(ctx, events.Found(named("00:00:00:00:00:0F", "Other")))

	got, ok := r.Lookup("00:00:00:00:00:0E")
	require.True(t, ok)
	assert.Equal(t, devices.Bonded, got.BondState)
}

func TestRouter_HandleClosesDone(t *testing.T) {
	t.Parallel()

	r := events.NewRouter(devices.NewRegistry(), nil, nil)
	ctx := context.Background()

	r.Handle(ctx, events.Found(named("00:00:00:00:00:01", "A")))

	done := make(chan struct{})
	r.Handle(ctx, events.Event{Kind: events.DeviceUnbonded, Device: named("00:00:00:00:00:01", "A"), Done: done})

	select {
	case <-done:
	default:
		t.Fatal("done not closed after Handle")
	}

	assert.Empty(t, r.Snapshot())
}

func TestRouter_Discovery(t *testing.T) {
	t.Parallel()

	p := &presenterStub{}
	r := events.NewRouter(devices.NewRegistry(), nil, p)
	ctx := context.Background()

	r.Handle(ctx, events.Started())
	assert.True(t, r.Scanning())

	r.Handle(ctx, events.Finished())
	assert.False(t, r.Scanning())

	assert.Equal(t, []bool{true, false}, p.scanning)
}

func TestRouter_SessionEvents(t *testing.T) {
	t.Parallel()

	p := &presenterStub{}
	r := events.NewRouter(devices.NewRegistry(), nil, p)
	ctx := context.Background()

	r.Handle(ctx, events.Found(named("00:00:00:00:00:01", "A")))
	r.Handle(ctx, events.Found(named("00:00:00:00:00:02", "B")))

	r.Handle(ctx, events.Event{Kind: events.DeviceUnbonded, Device: named("00:00:00:00:00:01", "A")})
	assert.Equal(t, []string{"00:00:00:00:00:02"}, addressesOf(r.Snapshot()))

	refreshes := len(p.refreshes)
	r.Handle(ctx, events.Event{Kind: events.DeviceUnbonded, Device: named("00:00:00:00:00:01", "A")})
	assert.Len(t, p.refreshes, refreshes, "absent address is a no-op")

	r.Handle(ctx, events.Event{Kind: events.ScanReset})
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, p.refreshes[len(p.refreshes)-1])
}

func TestRouter_Run(t *testing.T) {
	t.Parallel()

	r := events.NewRouter(devices.NewRegistry(), nil, nil)

	in := make(chan events.Event, 3)
	in <- events.Found(named("00:00:00:00:00:01", "A"))
	in <- events.Event{Kind: events.Kind(42)}
	in <- events.Found(named("00:00:00:00:00:02", "B"))
	close(in)

	require.NoError(t, r.Run(context.Background(), in))
	assert.Equal(t, []string{"00:00:00:00:00:01", "00:00:00:00:00:02"}, addressesOf(r.Snapshot()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, r.Run(ctx, make(chan events.Event)), context.Canceled)
}

func TestMultiPresenter(t *testing.T) {
	t.Parallel()

	a, b := &presenterStub{}, &presenterStub{}
	m := events.MultiPresenter{a, b, events.NopPresenter{}}

	m.Refresh([]devices.Record{named("00:00:00:00:00:01", "A")})
	m.SetScanning(true)

	assert.Len(t, a.refreshes, 1)
	assert.Len(t, b.refreshes, 1)
	assert.Equal(t, []bool{true}, b.scanning)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "device_found", events.DeviceFound.String())
	assert.Equal(t, "scan_reset", events.ScanReset.String())
	assert.Equal(t, "unknown", events.Kind(42).String())
}
