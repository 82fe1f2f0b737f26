package repositories

import (
	"context"
	"errors"

	"handmade/internal/models"
)

// ErrNotFound is wrapped by every repository lookup that finds nothing.
var ErrNotFound = errors.New("not found")

// ProductQuery selects products for a listing. An empty VendorID selects every vendor.
// Results are always ordered newest first.
type ProductQuery struct {
	VendorID string
}

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	List(ctx context.Context, q ProductQuery) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
}
