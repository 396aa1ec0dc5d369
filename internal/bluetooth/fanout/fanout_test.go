package fanout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/internal/bluetooth/fanout"
	"github.com/bavix/btscan/internal/events"
)

func TestHub_PublishReachesEverySubscriber(t *testing.T) {
	t.Parallel()

	hub := fanout.New(4)

	a, cancelA, ok := hub.Subscribe()
	require.True(t, ok)

	b, cancelB, ok := hub.Subscribe()
	require.True(t, ok)

	defer cancelA()
	defer cancelB()

	hub.Publish(events.Started())

	assert.Equal(t, events.DiscoveryStarted, (<-a).Kind)
	assert.Equal(t, events.DiscoveryStarted, (<-b).Kind)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := fanout.New(1)

	ch, cancel, ok := hub.Subscribe()
	require.True(t, ok)
	assert.Equal(t, 1, hub.Len())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Len())

	hub.Publish(events.Finished())
}

func TestHub_CloseUnblocksPublisher(t *testing.T) {
	t.Parallel()

	hub := fanout.New(1)

	ch, _, ok := hub.Subscribe()
	require.True(t, ok)

	hub.Publish(events.Started())

	done := make(chan struct{})

	go func() {
		defer close(done)

		hub.Publish(events.Finished())
	}()

	hub.Close()
	<-done

	_, _, ok = hub.Subscribe()
	assert.False(t, ok)

	ev, open := <-ch
	assert.True(t, open)
	assert.Equal(t, events.DiscoveryStarted, ev.Kind)
}
