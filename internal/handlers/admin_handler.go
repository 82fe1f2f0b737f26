package handlers

import (
	"handmade/internal/catalog"
	"handmade/internal/middleware"
	"handmade/internal/models"
	"handmade/internal/store"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// AdminHandler lets configured admins see and remove any product.
type AdminHandler struct {
	registry *catalog.Registry
	products ProductStore
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(registry *catalog.Registry, products ProductStore) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		products: products,
	}
}

// RegisterRoutes registers the admin routes. The router must already require an admin.
func (h *AdminHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/products", h.HandleGetProducts)
	router.Use("/products/stream", websocketOnly)
	router.Get("/products/stream", websocket.New(h.HandleStream))
	router.Delete("/products/:id", h.HandleDeleteProduct)
}

// HandleGetProducts lists every vendor's products.
func (h *AdminHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.products.List(c.UserContext(), store.Query{})
	if err != nil {
		return respondError(c, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleStream pushes every vendor's products on each change.
func (h *AdminHandler) HandleStream(c *websocket.Conn) {
	identity, _ := c.Locals(middleware.IdentityKey).(models.Identity)
	watchAll(c, h.products, "admin "+identity.ID)
}

// HandleDeleteProduct removes any product once ?confirm=true is passed.
func (h *AdminHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return respondError(c, "Please log in", catalog.ErrAuthRequired)
	}

	adapter, release := h.registry.Acquire(identity.ID)
	defer release()

	ctx := catalog.WithIdentity(c.UserContext(), identity)
	if err := adapter.Delete(ctx, c.Params("id"), c.QueryBool("confirm")); err != nil {
		return respondError(c, "Error deleting product", err)
	}
	return c.JSON(fiber.Map{"message": "Product deleted successfully!"})
}
