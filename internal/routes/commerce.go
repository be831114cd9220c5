package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/middleware"
	"github.com/kelo-pay/kelo/internal/orders"
	"github.com/kelo-pay/kelo/internal/settlement"
)

// RegisterCatalogRoutes wires the public marketplace.
func RegisterCatalogRoutes(r fiber.Router, svc *Services) {
	h := merchant.NewHandler(svc.Merchants)
	r.Get("/products", h.Marketplace)
	r.Get("/products/:id", h.GetProduct)
	r.Get("/stores", h.ListStores)
	r.Get("/stores/:id", h.GetStore)
}

// RegisterOrderRoutes wires customer checkout.
func RegisterOrderRoutes(r fiber.Router, svc *Services) {
	h := orders.NewHandler(svc.Orders)
	group := r.Group("/orders")
	group.Post("/", middleware.RequireIdempotencyKey(), h.Create)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	group.Post("/:id/cancel", h.Cancel)
}

// RegisterMerchantRoutes wires the merchant portal. r is already restricted
// to the merchant role.
func RegisterMerchantRoutes(r fiber.Router, svc *Services) {
	stores := merchant.NewHandler(svc.Merchants)
	sales := orders.NewHandler(svc.Orders)
	book := loans.NewHandler(svc.Loans)
	settled := settlement.NewHandler(svc.Settlement)

	r.Get("/stores", stores.MyStores)
	r.Post("/stores", stores.CreateStore)
	r.Get("/stores/:id", stores.MyStore)
	r.Put("/stores/:id", stores.UpdateStore)
	r.Get("/stores/:id/products", stores.StoreProducts)
	r.Post("/stores/:id/products", stores.CreateProduct)
	r.Put("/products/:id", stores.UpdateProduct)
	r.Delete("/products/:id", stores.DeleteProduct)
	r.Get("/payouts", stores.Payouts)
	r.Post("/payouts", middleware.RequireIdempotencyKey(), stores.RequestPayout)

	r.Get("/orders/recent", sales.Recent)
	r.Get("/analytics", sales.Analytics)

	r.Get("/settlements", settled.List)
	r.Get("/settlements/summary", settled.Summary)

	r.Get("/loans", book.StoreLoans)
	r.Post("/loans/:id/approve", book.Approve)
	r.Post("/loans/:id/reject", book.Reject)
}
