package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/auth"
	"github.com/kelo-pay/kelo/internal/httpx"
)

// TokenVerifier validates access tokens. *auth.Service satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (auth.Claims, error)
}

// JWTAuth returns a middleware that validates JWT access tokens and checks token version.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := verifier.Verify(c.UserContext(), tokenStr)
		if err != nil {
			return auth.HTTPError(err)
		}

		c.Locals(httpx.LocalUserID, claims.Subject)
		c.Locals(httpx.LocalRole, claims.Role)
		c.Locals(httpx.LocalTokenVersion, claims.Version)
		return c.Next()
	}
}

// RequireRole admits only callers whose role is one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := httpx.Role(c)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient permissions")
	}
}
