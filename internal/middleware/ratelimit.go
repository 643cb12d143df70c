package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/pkg/response"
)

// RateLimiter counts requests per user in fixed Redis windows.
type RateLimiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewRateLimiter creates a limiter. A nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logging.OrDefault(logger)}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}
		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // Skip rate limiting if no user (auth middleware should catch this)
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// If Redis fails, allow the request but log the error
			rl.logger.Warn("rate limiter unavailable", "key", key, "error", err)
			return c.Next()
		}

		// Set expiration on first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// WorkflowLimit limits the endpoints that start workflows, per hour.
func (rl *RateLimiter) WorkflowLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("workflows", maxPerHour, time.Hour)
}

// ReadLimit limits the remaining API endpoints, per minute.
func (rl *RateLimiter) ReadLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("reads", maxPerMin, time.Minute)
}
