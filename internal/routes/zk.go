package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/zk"
)

// RegisterZKRoutes wires credit proof endpoints.
func RegisterZKRoutes(r fiber.Router, svc *Services) {
	h := zk.NewHandler(svc.ZK)
	group := r.Group("/zk")
	group.Post("/inputs", h.Inputs)
	group.Post("/proofs", h.Submit)
	group.Get("/proofs", h.Proofs)
}
