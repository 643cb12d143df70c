package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/auth"
)

// AuthHandler answers forward-auth checks of a gateway running in front of
// API replicas configured with AUTH_MODE=gateway.
type AuthHandler struct {
	verifier  auth.TokenVerifier
	jwtSecret string
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(verifier auth.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// Verify handles GET /auth/verify.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	if h.verifier != nil {
		if claims, err := h.verifier.Validate(token); err == nil {
			return h.accept(c, claims.UserID, claims.Email, claims.Name)
		}
	}

	if h.jwtSecret != "" {
		if claims, err := auth.ValidateLegacyToken(token, h.jwtSecret); err == nil {
			return h.accept(c, claims.UserID, claims.Email, "")
		}
	}

	return c.SendStatus(fiber.StatusUnauthorized)
}

func (h *AuthHandler) accept(c *fiber.Ctx, userID, email, name string) error {
	c.Set("X-User-Id", userID)
	c.Set("X-User-Email", email)
	if name != "" {
		c.Set("X-User-Name", name)
	}
	return c.SendStatus(fiber.StatusOK)
}
