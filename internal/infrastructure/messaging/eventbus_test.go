package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

func quietBus(async bool) *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode: async,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := quietBus(false)
	defer bus.Close()

	var attached, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLinkAttached, func(e shared.Event) error {
		attached = append(attached, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLinkAttachedEvent("BIR1BA/2024", "1", 1, 2, "LBIR100T", "")))
	require.NoError(t, bus.Publish(shared.NewLinkDetachedEvent("BIR1BA/2024", "1|2", 1, 2)))

	assert.Equal(t, []shared.EventType{shared.EventLinkAttached}, attached)
	assert.Equal(t, []shared.EventType{shared.EventLinkAttached, shared.EventLinkDetached}, all)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := quietBus(false)
	defer bus.Close()

	var calls int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("fail") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls++; return nil }))

	assert.NoError(t, bus.Publish(shared.NewLinkDetachedEvent("BIR1BA/2024", "1|2", 1, 2)))
	assert.Equal(t, 1, calls)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := quietBus(true)

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		defer wg.Done()
		count.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewLinkDetachedEvent("BIR1BA/2024", "1|2", 1, 2)))
	}
	wg.Wait()
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), count.Load())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := quietBus(false)
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewLinkDetachedEvent("x", "1|2", 1, 2)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}
