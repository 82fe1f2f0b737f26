package catalog

import (
	"context"
	"sync"

	"handmade/internal/store"
)

// Snapshot is one full view of a seller's products.
type Snapshot = store.Snapshot

// Subscription is a standing live query over one seller's products. Every
// snapshot replaces the previous view entirely.
type Subscription struct {
	vendorID string
	events   chan Snapshot
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	mu     sync.RWMutex
	latest Snapshot
}

func newSubscription(ctx context.Context, st Store, vendorID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		vendorID: vendorID,
		events:   make(chan Snapshot),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go sub.run(ctx, st.Watch(ctx, store.Query{VendorID: vendorID}))
	return sub
}

func (s *Subscription) run(ctx context.Context, src <-chan Snapshot) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case snap, ok := <-src:
			if !ok {
				return
			}
			s.mu.Lock()
			s.latest = snap
			s.mu.Unlock()

			select {
			case s.events <- snap:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// VendorID returns the seller this subscription is scoped to.
func (s *Subscription) VendorID() string { return s.vendorID }

// Events yields snapshots until the subscription is cancelled, then closes.
func (s *Subscription) Events() <-chan Snapshot {
	return s.events
}

// Latest returns the most recently received snapshot.
func (s *Subscription) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Cancel stops the subscription. Once it returns no further snapshot is
// delivered. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}
