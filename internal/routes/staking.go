package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/middleware"
	"github.com/kelo-pay/kelo/internal/staking"
)

// RegisterStakingRoutes wires liquidity pool endpoints.
func RegisterStakingRoutes(r fiber.Router, svc *Services) {
	h := staking.NewHandler(svc.Staking)
	group := r.Group("/staking")
	group.Get("/pools", h.Pools)
	group.Get("/positions", h.Positions)
	keyed := middleware.RequireIdempotencyKey()
	group.Post("/deposit", keyed, h.Deposit)
	group.Post("/withdraw", keyed, h.Withdraw)
	group.Post("/claim", keyed, h.Claim)
}
