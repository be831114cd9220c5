package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/blockchain"
	"github.com/kelo-pay/kelo/internal/did"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/middleware"
)

// RegisterPublicChainRoutes wires network metadata and DID resolution, which
// need no session.
func RegisterPublicChainRoutes(r fiber.Router, svc *Services) {
	chain := blockchain.NewHandler(svc.Chain)
	dids := did.NewHandler(svc.DIDs)

	r.Get("/blockchain/network", chain.Networks)
	r.Get("/blockchain/did/resolve", dids.Resolve)
	r.Post("/blockchain/did/credentials/verify", dids.Verify)
}

// RegisterChainRoutes wires wallet connections, tracked transactions and the
// caller's DID.
func RegisterChainRoutes(r fiber.Router, svc *Services) {
	chain := blockchain.NewHandler(svc.Chain)
	dids := did.NewHandler(svc.DIDs)

	group := r.Group("/blockchain")
	group.Get("/wallet", chain.List)
	group.Post("/wallet", chain.Connect)
	group.Delete("/wallet/:id", chain.Disconnect)
	group.Post("/wallet/:id/primary", chain.SetPrimary)
	group.Get("/wallet/:id/balance", chain.Balance)
	group.Get("/transactions", chain.Transactions)
	group.Post("/transactions", chain.Record)
	group.Get("/transactions/:id/status", chain.Status)

	group.Get("/did", dids.Mine)
	group.Post("/did/create", dids.Create)
	group.Put("/did/update", dids.Update)
	group.Post("/did/deactivate", dids.Deactivate)
	group.Get("/did/credentials", dids.Credentials)

	adminOnly := middleware.RequireRole(identity.RoleAdmin)
	group.Post("/did/credentials/issue", adminOnly, dids.Issue)
	group.Post("/did/credentials/:id/revoke", adminOnly, dids.Revoke)
}
