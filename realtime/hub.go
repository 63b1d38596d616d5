package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"hexbattle-server/services"
)

var (
	ErrUnknownConnection = fmt.Errorf("%w: unknown connection", services.ErrTransport)
	ErrSlowConsumer      = fmt.Errorf("%w: connection buffer full", services.ErrTransport)
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Conn is a registered event stream. Its identity is the connection ID clients
// send back with every command.
type Conn struct {
	ID     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (c *Conn) Events() <-chan Event  { return c.events }
func (c *Conn) Done() <-chan struct{} { return c.done }
func (c *Conn) close()                { c.once.Do(func() { close(c.done) }) }

var _ services.Transport = (*Hub)(nil)

// Hub maps connection identities to their event streams. It implements
// services.Transport.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{conns: make(map[string]*Conn), buffer: buffer}
}

// Register opens a new connection with a fresh identity.
func (h *Hub) Register() *Conn {
	c := &Conn{
		ID:     uuid.NewString(),
		events: make(chan Event, h.buffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	return c
}

// Unregister removes the connection and reports whether it was present.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		c.close()
	}
	return ok
}

func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send delivers one event to identity without blocking.
func (h *Hub) Send(identity, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	h.mu.RLock()
	c, ok := h.conns[identity]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, identity)
	}
	return deliver(c, Event{Name: event, Data: data})
}

// BroadcastAll delivers event to every connection; slow ones miss it.
func (h *Hub) BroadcastAll(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[HUB] ❌ encode %s: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := deliver(c, Event{Name: event, Data: data}); err != nil {
			log.Debugf("[HUB] %s to %s: %v", event, c.ID, err)
		}
	}
}

func deliver(c *Conn, e Event) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrUnknownConnection, c.ID)
	default:
	}
	select {
	case c.events <- e:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSlowConsumer, c.ID)
	}
}
