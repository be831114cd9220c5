package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/notification"
)

// RegisterUserRoutes wires profile, settings and notification endpoints.
func RegisterUserRoutes(r fiber.Router, svc *Services) {
	users := identity.NewHandler(svc.Identity)
	inbox := notification.NewHandler(svc.Inbox)

	group := r.Group("/users")
	group.Get("/profile", users.Profile)
	group.Put("/profile", users.UpdateProfile)
	group.Get("/settings", users.Settings)
	group.Put("/settings", users.UpdateSettings)
	group.Get("/notifications", inbox.List)
	group.Post("/notifications/:id/read", inbox.MarkRead)
}
