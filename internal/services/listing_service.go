package services

import (
	"context"
	"log"
	"strings"
	"sync/atomic"

	"handmade/internal/cache"
	"handmade/internal/models"
	"handmade/internal/realtime"
	"handmade/internal/store"

	"golang.org/x/sync/singleflight"
)

const listingKeyPrefix = "products:"

// ProductReader is the read side of the product store.
type ProductReader interface {
	List(ctx context.Context, q store.Query) ([]models.Product, error)
	Get(ctx context.Context, id string) (*models.Product, error)
}

// ListingService serves the public product listing.
type ListingService struct {
	products ProductReader
	cache    cache.Cache
	sfGroup  singleflight.Group // collapses concurrent misses for the same search

	// bumped on every invalidation; a load that straddles one is not cached
	generation atomic.Uint64
}

// NewListingService creates a new ListingService. A nil cache disables caching.
func NewListingService(products ProductReader, c cache.Cache) *ListingService {
	if c == nil {
		c = cache.Noop{}
	}
	return &ListingService{
		products: products,
		cache:    c,
	}
}

// List returns every product newest first. A non-empty search keeps only
// products whose title or description contains it, ignoring case.
func (s *ListingService) List(ctx context.Context, search string) ([]models.Product, error) {
	term := strings.ToLower(strings.TrimSpace(search))
	key := listingKeyPrefix + term

	var cached []models.Product
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("[listing] cache error for %q: %v", term, err)
	}
	if found {
		return cached, nil
	}

	val, err, _ := s.sfGroup.Do(key, func() (interface{}, error) {
		// shared by every caller joined on key, so one cancelled request must not fail the rest
		loadCtx := context.WithoutCancel(ctx)
		gen := s.generation.Load()

		all, err := s.products.List(loadCtx, store.Query{})
		if err != nil {
			return nil, err
		}
		matched := filter(all, term)
		if s.generation.Load() != gen {
			return matched, nil
		}
		if err := s.cache.Set(loadCtx, key, matched); err != nil {
			log.Printf("[listing] failed to cache %q: %v", term, err)
		}
		return matched, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]models.Product), nil
}

// Get returns a single product.
func (s *ListingService) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.products.Get(ctx, id)
}

// WatchInvalidations drops every cached listing after any product change. It
// blocks until ctx is done.
func (s *ListingService) WatchInvalidations(ctx context.Context, broker *realtime.Broker) {
	l := broker.Register(nil)
	defer broker.Unregister(l)

	for {
		select {
		case c := <-l.C():
			if err := s.Invalidate(ctx); err != nil {
				log.Printf("[listing] failed to invalidate cache after %s: %v", c.Kind, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Invalidate drops every cached listing. Loads already in flight return their
// result but do not cache it.
func (s *ListingService) Invalidate(ctx context.Context) error {
	s.generation.Add(1)
	return s.cache.DeletePattern(ctx, listingKeyPrefix+"*")
}

func filter(products []models.Product, term string) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if term == "" ||
			strings.Contains(strings.ToLower(p.Title), term) ||
			strings.Contains(strings.ToLower(p.Description), term) {
			out = append(out, p)
		}
	}
	return out
}
