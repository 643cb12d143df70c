package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/auth"
	"github.com/automlhub/api/pkg/response"
)

// Fiber locals set by the auth middlewares.
const (
	LocalUserID = "userId"
	LocalEmail  = "email"
	LocalName   = "name"
	LocalClaims = "claims"
)

// UserClaims is an alias for auth.LegacyClaims for backwards compatibility
type UserClaims = auth.LegacyClaims

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
}

// NewAuthMiddleware creates a new auth middleware with Zitadel JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
	}
}

// Authenticate validates the bearer token of the Authorization header. A
// WebSocket upgrade may pass the token as the access_token query parameter
// instead, since browsers cannot set headers on it.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, errMsg := bearerToken(c)
		if errMsg != "" {
			return response.Unauthorized(c, errMsg)
		}

		// Try Zitadel JWKS verification first
		if m.verifier != nil {
			claims, err := m.verifier.Validate(tokenString)
			if err == nil {
				c.Locals(LocalUserID, claims.UserID)
				c.Locals(LocalEmail, claims.Email)
				c.Locals(LocalName, claims.Name)
				c.Locals(LocalClaims, claims)
				return c.Next()
			}
			// If JWKS verification fails and no fallback, return error
			if m.jwtSecret == "" {
				return response.Unauthorized(c, "Invalid or expired token")
			}
		}

		// Fallback to legacy HMAC verification
		if m.jwtSecret != "" {
			claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
			if err != nil {
				return response.Unauthorized(c, "Invalid or expired token")
			}

			c.Locals(LocalUserID, claims.UserID)
			c.Locals(LocalEmail, claims.Email)
			c.Locals(LocalClaims, claims)
			return c.Next()
		}

		return response.Unauthorized(c, "Authentication not configured")
	}
}

func bearerToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" && c.Get(fiber.HeaderUpgrade) != "" {
			return token, ""
		}
		return "", "Missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(LocalUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(LocalEmail).(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals(LocalName).(string); ok {
		return name
	}
	return ""
}

// CanAccessProject reports whether the caller's token is scoped to projectID.
// Legacy and gateway callers carry no project scope.
func CanAccessProject(c *fiber.Ctx, projectID string) bool {
	if claims, ok := c.Locals(LocalClaims).(*auth.Claims); ok {
		return claims.CanAccess(projectID)
	}
	return true
}

// GenerateToken creates a new legacy JWT token valid for a day (useful for testing)
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	if m.jwtSecret == "" {
		return "", fiber.NewError(fiber.StatusInternalServerError, "legacy tokens are disabled")
	}
	return auth.GenerateLegacyToken(m.jwtSecret, userID, email, 24*time.Hour)
}
