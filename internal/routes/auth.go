package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/auth"
)

// RegisterAuthRoutes wires the public authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, svc *Services, rateLimiter fiber.Handler) {
	h := auth.NewHandler(svc.Identity, svc.Auth, svc.Wallets, svc.Verifier)
	group := r.Group("/auth")
	group.Post("/register", h.Register)
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
	group.Post("/refresh", h.Refresh)
	group.Get("/siwe/nonce", h.Nonce)
	group.Post("/siwe/verify", h.Verify)
}

// RegisterSessionRoutes wires endpoints that need a valid access token.
func RegisterSessionRoutes(r fiber.Router, svc *Services) {
	h := auth.NewHandler(svc.Identity, svc.Auth, svc.Wallets, svc.Verifier)
	r.Post("/auth/logout", h.Logout)
}
