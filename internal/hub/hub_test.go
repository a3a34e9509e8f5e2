package hub_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbattle/internal/hub"
)

func TestHub_Deliver(t *testing.T) {
	h := hub.New(hub.Config{})

	out := h.Register("c1")
	require.True(t, h.Connected("c1"))

	assert.True(t, h.Deliver("c1", []byte("hello")))
	assert.False(t, h.Deliver("c2", []byte("hello")), "unknown connection should not receive")

	assert.Equal(t, []byte("hello"), <-out)
}

func TestHub_Unregister(t *testing.T) {
	h := hub.New(hub.Config{})

	out := h.Register("c1")
	assert.True(t, h.Unregister("c1"))
	assert.False(t, h.Unregister("c1"), "second unregister should be a no-op")

	_, ok := <-out
	assert.False(t, ok, "outbox should be closed")
	assert.False(t, h.Connected("c1"))
	assert.Equal(t, 0, h.Len())
}

func TestHub_Register_ReplacesOutbox(t *testing.T) {
	h := hub.New(hub.Config{})

	first := h.Register("c1")
	second := h.Register("c1")

	_, ok := <-first
	assert.False(t, ok, "replaced outbox should be closed")

	require.True(t, h.Deliver("c1", []byte("x")))
	assert.Equal(t, []byte("x"), <-second)
	assert.Equal(t, 1, h.Len())
}

func TestHub_DropsSlowConnection(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []string
	)

	h := hub.New(hub.Config{
		OutboxSize: 1,
		OnDrop: func(id string) {
			mu.Lock()
			dropped = append(dropped, id)
			mu.Unlock()
		},
	})

	out := h.Register("c1")
	require.True(t, h.Deliver("c1", []byte("1")))
	assert.False(t, h.Deliver("c1", []byte("2")), "full outbox should drop the connection")
	assert.False(t, h.Connected("c1"))

	assert.Equal(t, []byte("1"), <-out)
	_, ok := <-out
	assert.False(t, ok)
	assert.Equal(t, []string{"c1"}, dropped)
}
