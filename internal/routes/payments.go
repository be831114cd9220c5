package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/middleware"
	"github.com/kelo-pay/kelo/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, svc *Services) {
	h := payments.NewHandler(svc.Payments, svc.Loans)
	r.Get("/payments", h.List)
	r.Get("/payments/recent", h.Recent)
	r.Post("/payments/:method", middleware.RequireIdempotencyKey(), h.Pay)
}

// RegisterLoanRoutes wires borrower loan endpoints.
func RegisterLoanRoutes(r fiber.Router, svc *Services) {
	h := loans.NewHandler(svc.Loans)
	group := r.Group("/loans")
	group.Get("/applications", h.Applications)
	group.Post("/applications", h.Apply)
	group.Get("/active", h.Active)
	group.Get("/history", h.History)
	group.Post("/payment", middleware.RequireIdempotencyKey(), h.Repay)
	group.Get("/payment/schedule", h.Schedule)
	group.Get("/:id", h.Get)
}

// RegisterCreditRoutes wires credit score endpoints.
func RegisterCreditRoutes(r fiber.Router, svc *Services) {
	h := creditscore.NewHandler(svc.Scores)
	group := r.Group("/credit")
	group.Get("/score", h.Score)
	group.Post("/score/refresh", h.Refresh)
	group.Get("/history", h.History)
	group.Get("/eligibility", h.Eligibility)
}
