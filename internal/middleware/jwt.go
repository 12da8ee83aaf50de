// Package middleware holds the Echo middleware shared by the HTTP routes.
package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // Bearer prefix handling

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/movieflix-seatlock/internal/utils" // JWT parsing helpers
)

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the user id (uint64) and role (string) into the request context.
// The secret must match the one used when issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Read the Authorization header; only the Bearer scheme is accepted.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ") // strip the scheme to get the token itself

			// Verify signature, algorithm and expiry, then pull out the claims.
			userID, role, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			// Store the identity for downstream handlers and the rate limiter.
			c.Set(ContextUserID, userID)
			c.Set(ContextRole, role)
			return next(c)
		}
	}
}
