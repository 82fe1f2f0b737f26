// Package realtime fans product change notifications out to live queries.
package realtime

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// ChangeKind names the write that produced a Change.
type ChangeKind string

const (
	ProductCreated ChangeKind = "product.created"
	ProductUpdated ChangeKind = "product.updated"
	ProductDeleted ChangeKind = "product.deleted"
)

// Change describes one write to the products collection.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	ProductID string     `json:"productId"`
	VendorID  string     `json:"vendorId"`
	Origin    string     `json:"origin"` // broker that first saw the write
}

// Listener receives changes through a one-slot mailbox. When a change arrives
// while the previous one is still unread the newer one is dropped: listeners
// only need to know that something changed, they re-query for the details.
type Listener struct {
	ID     string
	filter func(Change) bool
	ch     chan Change
}

// C returns the listener's mailbox.
func (l *Listener) C() <-chan Change {
	return l.ch
}

// Broker manages listeners and change broadcasting.
type Broker struct {
	origin    string
	listeners map[string]*Listener
	mu        sync.RWMutex
}

// NewBroker creates a new Broker with a random origin id.
func NewBroker() *Broker {
	return &Broker{
		origin:    uuid.New().String(),
		listeners: make(map[string]*Listener),
	}
}

// Origin identifies this broker in relayed changes.
func (b *Broker) Origin() string {
	return b.origin
}

// Register adds a listener. A nil filter accepts every change.
func (b *Broker) Register(filter func(Change) bool) *Listener {
	l := &Listener{
		ID:     uuid.New().String(),
		filter: filter,
		ch:     make(chan Change, 1),
	}

	b.mu.Lock()
	b.listeners[l.ID] = l
	b.mu.Unlock()
	return l
}

// Unregister removes a listener. It is safe to call more than once.
func (b *Broker) Unregister(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, l.ID)
}

// Publish delivers a change to every matching listener without blocking.
// Changes without an origin are stamped with this broker's origin.
func (b *Broker) Publish(c Change) {
	if c.Origin == "" {
		c.Origin = b.origin
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, l := range b.listeners {
		if l.filter != nil && !l.filter(c) {
			continue
		}
		select {
		case l.ch <- c:
		default:
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (b *Broker) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Relay republishes changes that came from another broker, ignoring echoes of our own.
func (b *Broker) Relay(c Change) {
	if c.Origin == b.origin {
		return
	}
	log.Printf("[realtime] relayed %s for product %s from %s", c.Kind, c.ProductID, c.Origin)
	b.Publish(c)
}
