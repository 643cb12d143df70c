package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by a ForwardAuth proxy and populates Fiber context locals.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalEmail, c.Get("X-User-Email"))
		c.Locals(LocalName, c.Get("X-User-Name"))

		return c.Next()
	}
}
