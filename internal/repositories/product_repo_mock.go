package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"handmade/internal/models"

	"github.com/google/uuid"
)

// MockProductRepository is an in-memory implementation of ProductRepository.
type MockProductRepository struct {
	products map[string]models.Product
	seq      map[string]int // insertion order, breaks createdAt ties
	next     int
	mu       sync.RWMutex
}

// NewMockProductRepository creates a new instance of MockProductRepository.
func NewMockProductRepository() *MockProductRepository {
	return &MockProductRepository{
		products: make(map[string]models.Product),
		seq:      make(map[string]int),
	}
}

// List returns products newest first.
func (r *MockProductRepository) List(_ context.Context, q ProductQuery) ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		if q.VendorID != "" && p.VendorID != q.VendorID {
			continue
		}
		productList = append(productList, clone(p))
	}
	sort.Slice(productList, func(i, j int) bool {
		a, b := productList[i], productList[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return r.seq[a.ID] > r.seq[b.ID]
	})
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MockProductRepository) GetByID(_ context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %s %w", id, ErrNotFound)
	}
	product = clone(product)
	return &product, nil
}

// Create adds a new product.
func (r *MockProductRepository) Create(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	r.next++
	r.seq[product.ID] = r.next
	r.products[product.ID] = clone(*product)
	return nil
}

// Update modifies an existing product.
func (r *MockProductRepository) Update(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[product.ID]; !ok {
		return fmt.Errorf("product with ID %s %w for update", product.ID, ErrNotFound)
	}
	r.products[product.ID] = clone(*product)
	return nil
}

// Delete removes a product by its ID.
func (r *MockProductRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return fmt.Errorf("product with ID %s %w for deletion", id, ErrNotFound)
	}
	delete(r.products, id)
	delete(r.seq, id)
	return nil
}

// clone copies the slices so callers cannot mutate stored documents.
func clone(p models.Product) models.Product {
	p.Images = append(p.Images[:0:0], p.Images...)
	p.Contacts = append(p.Contacts[:0:0], p.Contacts...)
	return p
}
