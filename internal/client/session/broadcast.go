package session

import "sync"

// Broadcast topics shared between same-origin peers.
const (
	TopicActivity = "activity"
	TopicLogout   = "logout"
)

// Broadcaster is publish/subscribe between peers sharing one session, the
// equivalent of a browser broadcast channel between tabs. Publish delivers
// to every peer except the publisher itself.
type Broadcaster interface {
	Publish(topic string)
	// Subscribe registers fn for a topic and returns an unsubscribe func.
	Subscribe(topic string, fn func()) (unsubscribe func())
}

// Hub connects in-process peers. Each peer holds its own Endpoint.
type Hub struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
}

// NewHub returns a hub with no peers.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[*Endpoint]struct{})}
}

// Endpoint attaches a new peer to the hub.
func (h *Hub) Endpoint() *Endpoint {
	e := &Endpoint{hub: h, subs: make(map[string]map[int]func())}
	h.mu.Lock()
	h.endpoints[e] = struct{}{}
	h.mu.Unlock()
	return e
}

func (h *Hub) publish(from *Endpoint, topic string) {
	h.mu.Lock()
	peers := make([]*Endpoint, 0, len(h.endpoints))
	for e := range h.endpoints {
		if e != from {
			peers = append(peers, e)
		}
	}
	h.mu.Unlock()

	for _, e := range peers {
		e.deliver(topic)
	}
}

// Endpoint is one peer's view of the hub. It implements Broadcaster.
type Endpoint struct {
	hub    *Hub
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

func (e *Endpoint) Publish(topic string) {
	e.hub.publish(e, topic)
}

func (e *Endpoint) Subscribe(topic string, fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	if e.subs[topic] == nil {
		e.subs[topic] = make(map[int]func())
	}
	e.subs[topic][id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[topic], id)
	}
}

// Close detaches the peer from the hub.
func (e *Endpoint) Close() {
	e.hub.mu.Lock()
	delete(e.hub.endpoints, e)
	e.hub.mu.Unlock()
}

func (e *Endpoint) deliver(topic string) {
	e.mu.Lock()
	handlers := make([]func(), 0, len(e.subs[topic]))
	for _, fn := range e.subs[topic] {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	// called outside the lock so a handler may publish or unsubscribe
	for _, fn := range handlers {
		fn()
	}
}
