package handlers

import (
	"errors"
	"log"

	"handmade/internal/catalog"
	"handmade/internal/ingest"
	"handmade/internal/store"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrTooLarge), errors.Is(err, ingest.ErrStillTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, catalog.ErrValidation),
		errors.Is(err, catalog.ErrNotConfirmed),
		errors.Is(err, ingest.ErrInvalidType),
		errors.Is(err, ingest.ErrDecode):
		return fiber.StatusBadRequest
	case errors.Is(err, catalog.ErrAuthRequired):
		return fiber.StatusUnauthorized
	case errors.Is(err, store.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrNoSession):
		return fiber.StatusNotFound
	case errors.Is(err, catalog.ErrSessionClosed), errors.Is(err, catalog.ErrSessionBusy):
		return fiber.StatusConflict
	case errors.Is(err, catalog.ErrStore):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError logs err and writes the standard error envelope.
func respondError(c *fiber.Ctx, message string, err error) error {
	status := statusFor(err)
	log.Printf("%s %s: %s: %v", c.Method(), c.Path(), message, err)

	body := fiber.Map{
		"message": message,
		"error":   err.Error(),
	}
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = verr.Fields
	}
	return c.Status(status).JSON(body)
}
