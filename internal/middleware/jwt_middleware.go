package middleware

import (
	"log"
	"strings"

	"handmade/internal/models"
	"handmade/internal/services"

	"github.com/gofiber/fiber/v2"
)

// IdentityKey is the fiber locals key holding the caller's models.Identity.
const IdentityKey = "identity"

// AuthRequired is a Fiber middleware to check for a valid JWT token.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the "token" query parameter.
func AuthRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")

		if authHeader := c.Get("Authorization"); authHeader != "" {
			// Expected format: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if !(len(parts) == 2 && parts[0] == "Bearer") {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"message": "Authorization header format must be 'Bearer <token>'",
				})
			}
			tokenString = parts[1]
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header is required",
			})
		}

		identity, err := authService.ValidateToken(tokenString)
		if err != nil {
			log.Printf("JWT validation failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid or expired token",
				"error":   err.Error(),
			})
		}

		c.Locals(IdentityKey, identity)
		c.Locals("user_id", identity.ID)
		c.Locals("email", identity.Email)

		return c.Next()
	}
}

// AdminRequired rejects callers that are not configured admins. It must run after AuthRequired.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := CurrentIdentity(c)
		if !ok || !identity.Admin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Admin access required",
			})
		}
		return c.Next()
	}
}

// CurrentIdentity returns the identity stored by AuthRequired.
func CurrentIdentity(c *fiber.Ctx) (models.Identity, bool) {
	identity, ok := c.Locals(IdentityKey).(models.Identity)
	return identity, ok && identity.ID != ""
}
