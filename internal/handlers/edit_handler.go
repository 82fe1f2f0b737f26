package handlers

import (
	"fmt"

	"handmade/internal/catalog"
	"handmade/internal/middleware"
	"handmade/internal/store"

	"github.com/gofiber/fiber/v2"
)

// EditHandler exposes the caller's single open edit session.
type EditHandler struct {
	registry *catalog.Registry
	products ProductStore
}

// NewEditHandler creates a new EditHandler.
func NewEditHandler(registry *catalog.Registry, products ProductStore) *EditHandler {
	return &EditHandler{
		registry: registry,
		products: products,
	}
}

// RegisterRoutes registers the edit routes. The router must already require authentication.
func (h *EditHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/products/:id/edit", h.HandleBeginEdit)

	editRoutes := router.Group("/edit")
	editRoutes.Get("/", h.HandleGetSession)
	editRoutes.Patch("/", h.HandleUpdateDraft)
	editRoutes.Delete("/", h.HandleCancel)
	editRoutes.Post("/images", h.HandleStageImages)
	editRoutes.Delete("/images/:index", h.HandleRemoveImage)
	editRoutes.Get("/previews/:id", h.HandlePreview)
	editRoutes.Post("/save", h.HandleSave)
}

type sessionView struct {
	ID        string               `json:"id"`
	ProductID string               `json:"productId"`
	State     string               `json:"state"`
	Draft     catalog.DraftProduct `json:"draft"`
	Images    []catalog.ImageEntry `json:"images"`
}

func viewOf(s *catalog.EditSession) sessionView {
	return sessionView{
		ID:        s.ID(),
		ProductID: s.ProductID(),
		State:     s.State().String(),
		Draft:     s.Draft(),
		Images:    s.Entries(),
	}
}

// HandleBeginEdit opens an edit session on one of the caller's products,
// closing any session already open.
func (h *EditHandler) HandleBeginEdit(c *fiber.Ctx) error {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return respondError(c, "Please log in", catalog.ErrAuthRequired)
	}

	productID := c.Params("id")
	product, err := h.products.Get(c.UserContext(), productID)
	if err != nil {
		return respondError(c, fmt.Sprintf("Product with ID %s not found", productID), err)
	}
	if product.VendorID != identity.ID && !identity.Admin {
		return respondError(c, "You can only edit your own products", store.ErrPermissionDenied)
	}

	adapter, release := h.registry.Acquire(identity.ID)
	defer release()

	session := adapter.BeginEdit(product)
	return c.Status(fiber.StatusCreated).JSON(viewOf(session))
}

// HandleGetSession returns the open edit session.
func (h *EditHandler) HandleGetSession(c *fiber.Ctx) error {
	_, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}
	return c.JSON(viewOf(session))
}

// HandleUpdateDraft replaces the edited fields with the JSON body.
func (h *EditHandler) HandleUpdateDraft(c *fiber.Ctx) error {
	_, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}

	var draft catalog.DraftProduct
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := session.SetDraft(draft); err != nil {
		return respondError(c, "Could not update draft", err)
	}
	return c.JSON(viewOf(session))
}

// HandleStageImages appends the uploaded "images" to the session.
func (h *EditHandler) HandleStageImages(c *fiber.Ctx) error {
	_, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid multipart form",
			"error":   err.Error(),
		})
	}
	files, err := readFiles(fileHeaders(form, "images"))
	if err != nil {
		return respondError(c, "Could not read images", err)
	}

	rejected, err := session.Stage(files...)
	if err != nil {
		return respondError(c, "Could not stage images", err)
	}
	if len(rejected) == len(files) && len(files) > 0 {
		return respondError(c, "No valid image selected", rejected[0].Err)
	}

	return c.JSON(fiber.Map{
		"session":  viewOf(session),
		"rejected": rejectionView(rejected),
	})
}

// HandleRemoveImage removes the image shown at :index.
func (h *EditHandler) HandleRemoveImage(c *fiber.Ctx) error {
	_, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}

	index, err := c.ParamsInt("index")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Image index must be a number",
			"error":   err.Error(),
		})
	}
	if err := session.RemoveImage(index); err != nil {
		return respondError(c, "Could not remove image", err)
	}
	return c.JSON(viewOf(session))
}

// HandlePreview serves the bytes of a staged image.
func (h *EditHandler) HandlePreview(c *fiber.Ctx) error {
	_, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}

	file, ok := session.Previews().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Preview not found",
		})
	}
	c.Set(fiber.HeaderContentType, file.MIMEType())
	return c.Send(file.Data)
}

// HandleSave persists the session. On failure the session stays open.
func (h *EditHandler) HandleSave(c *fiber.Ctx) error {
	adapter, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}

	identity, _ := middleware.CurrentIdentity(c)
	product, err := adapter.Save(catalog.WithIdentity(c.UserContext(), identity), session)
	if err != nil {
		return respondError(c, "Error updating product", err)
	}
	return c.JSON(fiber.Map{
		"message": "Product updated successfully!",
		"product": product,
	})
}

// HandleCancel discards the open session.
func (h *EditHandler) HandleCancel(c *fiber.Ctx) error {
	adapter, session, release, err := h.current(c)
	defer release()
	if err != nil {
		return respondError(c, "No product is being edited", err)
	}
	adapter.Cancel(session)
	return c.JSON(fiber.Map{"message": "Edit cancelled"})
}

// current returns the caller's adapter and open session. release is never nil
// and must be called once the request is done with the adapter.
func (h *EditHandler) current(c *fiber.Ctx) (*catalog.Adapter, *catalog.EditSession, func(), error) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		return nil, nil, func() {}, catalog.ErrAuthRequired
	}
	adapter, release := h.registry.Acquire(identity.ID)
	session, err := adapter.Session()
	if err != nil {
		return nil, nil, release, err
	}
	return adapter, session, release, nil
}
