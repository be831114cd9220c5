package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, svc *Services) {
	h := wallet.NewHandler(svc.Wallets, svc.Identity)
	r.Get("/wallet", h.Me)
	r.Get("/wallet/transactions", h.Transactions)
}
