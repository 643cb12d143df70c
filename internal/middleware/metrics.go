package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/observability"
)

// Metrics records the count and latency of every request by route pattern.
func Metrics(m *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		m.RecordHTTPRequest(c.UserContext(), c.Method(), c.Route().Path, status, time.Since(start).Seconds())
		return err
	}
}
