package handlers

import (
	"fmt"
	"io"
	"mime/multipart"

	"handmade/internal/ingest"
	"handmade/internal/services"
	"handmade/internal/similar"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// ProductHandler serves the public product listing.
type ProductHandler struct {
	listing *services.ListingService
	watcher ProductWatcher
	similar *similar.Client
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(listing *services.ListingService, watcher ProductWatcher, similarClient *similar.Client) *ProductHandler {
	return &ProductHandler{
		listing: listing,
		watcher: watcher,
		similar: similarClient,
	}
}

// RegisterRoutes registers the public product routes.
func (h *ProductHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Use("/stream", websocketOnly)
	productRoutes.Get("/stream", websocket.New(h.HandleStream))
	productRoutes.Post("/similar", h.HandleFindSimilar)
	productRoutes.Get("/:id", h.HandleGetProductByID)
}

// HandleGetProducts lists every product newest first, optionally filtered by ?search=.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.listing.List(c.UserContext(), c.Query("search"))
	if err != nil {
		return respondError(c, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleStream pushes the whole catalog, newest first, on every change.
func (h *ProductHandler) HandleStream(c *websocket.Conn) {
	watchAll(c, h.watcher, "visitor "+c.RemoteAddr().String())
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	productID := c.Params("id")
	product, err := h.listing.Get(c.UserContext(), productID)
	if err != nil {
		return respondError(c, fmt.Sprintf("Product with ID %s not found", productID), err)
	}
	return c.JSON(product)
}

// HandleFindSimilar forwards an uploaded image to the similarity search service.
func (h *ProductHandler) HandleFindSimilar(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Please choose an image first.",
			"error":   err.Error(),
		})
	}
	file, err := readFile(fh)
	if err != nil {
		return respondError(c, "Could not read upload", err)
	}

	matches, err := h.similar.FindSimilar(c.UserContext(), file)
	if err != nil {
		if statusFor(err) == fiber.StatusInternalServerError {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"message": "Similarity search failed",
				"error":   err.Error(),
			})
		}
		return respondError(c, "Similarity search failed", err)
	}
	return c.JSON(fiber.Map{"results": matches})
}

// readFile loads an uploaded multipart file into memory.
func readFile(fh *multipart.FileHeader) (ingest.File, error) {
	f, err := fh.Open()
	if err != nil {
		return ingest.File{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ingest.File{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = "" // sniffed from the bytes
	}
	return ingest.File{
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Data:        data,
	}, nil
}

func readFiles(headers []*multipart.FileHeader) ([]ingest.File, error) {
	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
