package hub

import (
	"sync"
)

const defaultOutboxSize = 32

// Hub is the registry of the connections attached to this process.
// Each connection is represented by its outbox; closing the outbox tells the
// connection writer that nothing more will be delivered.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]chan []byte
	outbox  int
	dropped func(id string)
}

type Config struct {
	// OutboxSize is the number of pending messages a connection may buffer before it is dropped.
	OutboxSize int
	// OnDrop is called, outside of the hub lock, when a slow connection is dropped.
	OnDrop func(id string)
}

func New(c Config) *Hub {
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}

	return &Hub{
		conns:   make(map[string]chan []byte),
		outbox:  c.OutboxSize,
		dropped: c.OnDrop,
	}
}

// Register attaches a connection and returns its outbox.
// Registering an existing ID replaces (and closes) the previous outbox.
func (h *Hub) Register(id string) <-chan []byte {
	ch := make(chan []byte, h.outbox)

	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		close(old)
	}
	h.conns[id] = ch
	h.mu.Unlock()

	return ch
}

// Unregister detaches a connection. It reports whether the connection was attached.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.conns[id]
	if !ok {
		return false
	}

	close(ch)
	delete(h.conns, id)
	return true
}

// Connected reports whether the connection is attached to this process.
func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.conns[id]
	return ok
}

// Deliver queues msg on the connection outbox without blocking.
// A connection whose outbox is full is dropped. It reports whether msg was queued.
func (h *Hub) Deliver(id string, msg []byte) bool {
	h.mu.RLock()
	ch, ok := h.conns[id]
	if !ok {
		h.mu.RUnlock()
		return false
	}

	select {
	case ch <- msg:
		h.mu.RUnlock()
		return true
	default:
	}
	h.mu.RUnlock()

	h.drop(id, ch)
	return false
}

func (h *Hub) drop(id string, ch chan []byte) {
	h.mu.Lock()
	cur, ok := h.conns[id]
	if !ok || cur != ch {
		h.mu.Unlock()
		return
	}
	close(ch)
	delete(h.conns, id)
	h.mu.Unlock()

	if h.dropped != nil {
		h.dropped(id)
	}
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}
