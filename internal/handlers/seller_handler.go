package handlers

import (
	"context"
	"math"
	"mime/multipart"
	"strconv"
	"strings"

	"handmade/internal/catalog"
	"handmade/internal/middleware"
	"handmade/internal/models"
	"handmade/internal/store"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// ProductStore is the part of the store the seller and admin dashboards read directly.
type ProductStore interface {
	ProductWatcher
	Get(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context, q store.Query) ([]models.Product, error)
}

// SellerHandler serves a seller's own products.
type SellerHandler struct {
	registry *catalog.Registry
	products ProductStore
}

// NewSellerHandler creates a new SellerHandler.
func NewSellerHandler(registry *catalog.Registry, products ProductStore) *SellerHandler {
	return &SellerHandler{
		registry: registry,
		products: products,
	}
}

// RegisterRoutes registers the seller product routes. The router must already
// require authentication.
func (h *SellerHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Post("/", h.HandleCreateProduct)
	productRoutes.Use("/stream", websocketOnly)
	productRoutes.Get("/stream", websocket.New(h.HandleStream))
	productRoutes.Delete("/:id", h.HandleDeleteProduct)
}

// HandleGetProducts returns the caller's products newest first.
func (h *SellerHandler) HandleGetProducts(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return respondError(c, "Please log in", catalog.ErrAuthRequired)
	}

	products, err := h.products.List(c.UserContext(), store.Query{VendorID: identity.ID})
	if err != nil {
		return respondError(c, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleCreateProduct creates a product from a multipart form with fields
// title, description, price, contacts and one or more images.
func (h *SellerHandler) HandleCreateProduct(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return respondError(c, "Please log in", catalog.ErrAuthRequired)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid multipart form",
			"error":   err.Error(),
		})
	}
	draft, err := draftFromForm(form.Value)
	if err != nil {
		return respondError(c, "Invalid product", err)
	}
	files, err := readFiles(fileHeaders(form, "images"))
	if err != nil {
		return respondError(c, "Could not read images", err)
	}

	adapter, release := h.registry.Acquire(identity.ID)
	defer release()
	staging := adapter.NewStaging()
	defer staging.Clear()

	rejected := staging.Stage(files...)
	if staging.Len() == 0 && len(rejected) > 0 {
		return respondError(c, "Error adding product", rejected[0].Err)
	}

	ctx := catalog.WithIdentity(c.UserContext(), identity)
	product, err := adapter.Create(ctx, &draft, staging)
	if err != nil {
		return respondError(c, "Error adding product", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Product added successfully!",
		"product":  product,
		"rejected": rejectionView(rejected),
	})
}

// HandleDeleteProduct deletes one of the caller's products. The caller must
// pass ?confirm=true.
func (h *SellerHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return respondError(c, "Please log in", catalog.ErrAuthRequired)
	}

	adapter, release := h.registry.Acquire(identity.ID)
	defer release()

	ctx := catalog.WithIdentity(c.UserContext(), identity)
	err := adapter.Delete(ctx, c.Params("id"), c.QueryBool("confirm"))
	if err != nil {
		return respondError(c, "Error deleting product", err)
	}
	return c.JSON(fiber.Map{"message": "Product deleted successfully!"})
}

// draftFromForm builds a DraftProduct from multipart form values.
func draftFromForm(values map[string][]string) (catalog.DraftProduct, error) {
	first := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	draft := catalog.DraftProduct{
		Title:       strings.TrimSpace(first("title")),
		Description: first("description"),
		Contacts:    append(append([]string(nil), values["contacts"]...), values["contacts[]"]...),
	}
	if raw := strings.TrimSpace(first("price")); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			return draft, &catalog.ValidationError{Fields: map[string]string{"price": "price must be a number"}}
		}
		draft.Price = &price
	}
	return draft, nil
}

func rejectionView(rejected []catalog.Rejection) []fiber.Map {
	out := make([]fiber.Map, 0, len(rejected))
	for _, r := range rejected {
		out = append(out, fiber.Map{"name": r.Name, "error": r.Err.Error()})
	}
	return out
}

// fileHeaders returns the uploads under both "name" and "name[]".
func fileHeaders(form *multipart.Form, name string) []*multipart.FileHeader {
	return append(append([]*multipart.FileHeader(nil), form.File[name]...), form.File[name+"[]"]...)
}
