package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/admin"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/settlement"
)

// RegisterAdminRoutes wires the back office. r is already restricted to the
// admin role.
func RegisterAdminRoutes(r fiber.Router, svc *Services) {
	users := admin.NewHandler(svc.Admin)
	stores := merchant.NewHandler(svc.Merchants)
	book := loans.NewHandler(svc.Loans)
	settled := settlement.NewHandler(svc.Settlement)

	r.Get("/users", users.Users)
	r.Get("/users/:id", users.User)
	r.Patch("/users/:id/status", users.SetStatus)
	r.Patch("/users/:id/role", users.SetRole)
	r.Get("/analytics", users.Analytics)

	r.Get("/merchants", stores.AdminList)
	r.Patch("/merchants/:id/status", stores.SetStatus)

	r.Get("/loans", book.AdminList)
	r.Post("/loans/:id/approve", book.Approve)
	r.Post("/loans/:id/reject", book.Reject)

	r.Post("/settlements/run", settled.Run)
}
