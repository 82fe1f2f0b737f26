// Package store is the product document store: point writes with ownership
// rules, and live queries that push a fresh full snapshot after every change.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"handmade/internal/models"
	"handmade/internal/realtime"
	"handmade/internal/repositories"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the addressed product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrPermissionDenied is returned when the actor neither owns the product nor is an admin.
	ErrPermissionDenied = errors.New("missing or insufficient permissions")
)

// Query selects the products a live query or listing covers.
type Query = repositories.ProductQuery

// Snapshot is one full result of a live query.
type Snapshot struct {
	Products []models.Product `json:"products"`
	Err      error            `json:"-"`
	At       time.Time        `json:"at"`
}

// Publisher forwards local changes to other instances.
type Publisher interface {
	PublishProductChange(c realtime.Change) error
}

// Store wraps a ProductRepository with ownership checks and change notification.
type Store struct {
	repo      repositories.ProductRepository
	broker    *realtime.Broker
	publisher Publisher
	now       func() time.Time
}

// New creates a Store. Writes are announced on broker.
func New(repo repositories.ProductRepository, broker *realtime.Broker) *Store {
	return &Store{
		repo:   repo,
		broker: broker,
		now:    time.Now,
	}
}

// SetPublisher attaches a cross-instance publisher. Nil disables it.
func (s *Store) SetPublisher(p Publisher) {
	s.publisher = p
}

// Broker returns the broker this store announces changes on.
func (s *Store) Broker() *realtime.Broker {
	return s.broker
}

// Create persists a new product, assigning its id, timestamps and status.
func (s *Store) Create(ctx context.Context, p *models.Product) error {
	now := s.now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.StatusActive
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.announce(realtime.ProductCreated, p)
	return nil
}

// Update overwrites the mutable fields of a product owned by actor.
// The id, owner and creation time always come from the stored document.
func (s *Store) Update(ctx context.Context, p *models.Product, actor models.Identity) error {
	current, err := s.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if !allowed(current, actor) {
		return fmt.Errorf("update product %s: %w", p.ID, ErrPermissionDenied)
	}

	p.VendorID = current.VendorID
	p.VendorEmail = current.VendorEmail
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if p.Status == "" {
		p.Status = current.Status
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return notFound(err)
	}
	s.announce(realtime.ProductUpdated, p)
	return nil
}

// Delete removes a product owned by actor. Deletion is irreversible.
func (s *Store) Delete(ctx context.Context, id string, actor models.Identity) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !allowed(current, actor) {
		return fmt.Errorf("delete product %s: %w", id, ErrPermissionDenied)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.announce(realtime.ProductDeleted, current)
	return nil
}

// Get returns a single product.
func (s *Store) Get(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// List returns the products matching q, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]models.Product, error) {
	return s.repo.List(ctx, q)
}

// Watch starts a live query. The returned channel receives an initial snapshot
// and then a fresh full snapshot after every matching change; changes that
// arrive while a snapshot is pending collapse into one. The channel is closed
// once ctx is done.
func (s *Store) Watch(ctx context.Context, q Query) <-chan Snapshot {
	out := make(chan Snapshot)

	// registered before the first query so no change can slip between the two
	l := s.broker.Register(func(c realtime.Change) bool {
		return q.VendorID == "" || c.VendorID == q.VendorID
	})

	go func() {
		defer close(out)
		defer s.broker.Unregister(l)

		for {
			products, err := s.repo.List(ctx, q)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Printf("[store] live query for vendor %q failed: %v", q.VendorID, err)
			}

			select {
			case out <- Snapshot{Products: products, Err: err, At: s.now().UTC()}:
			case <-ctx.Done():
				return
			}

			select {
			case <-l.C():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Store) announce(kind realtime.ChangeKind, p *models.Product) {
	c := realtime.Change{Kind: kind, ProductID: p.ID, VendorID: p.VendorID, Origin: s.broker.Origin()}
	s.broker.Publish(c)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProductChange(c); err != nil {
		log.Printf("[store] failed to relay %s for product %s: %v", kind, p.ID, err)
	}
}

func allowed(p *models.Product, actor models.Identity) bool {
	if actor.Admin {
		return true
	}
	return actor.ID != "" && actor.ID == p.VendorID
}

func notFound(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
