package blockchain

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/siwe"
)

// Handler exposes wallet and transaction endpoints under /blockchain.
type Handler struct {
	service *Service
}

// NewHandler constructs a blockchain handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Networks handles GET /blockchain/network?family=.
func (h *Handler) Networks(c *fiber.Ctx) error {
	return httpx.OK(c, http.StatusOK, fiber.Map{
		"networks":  h.service.Networks(c.Query("family")),
		"providers": ProviderNames(),
	})
}

type connectRequest struct {
	Provider  string `json:"provider" validate:"required"`
	Network   string `json:"network" validate:"required"`
	Address   string `json:"address" validate:"required"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Connect handles POST /blockchain/wallet.
func (h *Handler) Connect(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req connectRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	conn, err := h.service.Connect(c.UserContext(), ConnectInput{
		UserID:    uid,
		Provider:  req.Provider,
		Network:   req.Network,
		Address:   req.Address,
		Message:   req.Message,
		Signature: req.Signature,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, conn, "wallet connected")
}

// List handles GET /blockchain/wallet.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	conns, err := h.service.List(c.UserContext(), uid)
	if err != nil {
		return err
	}
	if conns == nil {
		conns = []Connection{}
	}
	return httpx.OK(c, http.StatusOK, conns)
}

// Disconnect handles DELETE /blockchain/wallet/:id.
func (h *Handler) Disconnect(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	if err := h.service.Disconnect(c.UserContext(), uid, c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, nil, "wallet disconnected")
}

// SetPrimary handles POST /blockchain/wallet/:id/primary.
func (h *Handler) SetPrimary(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	conn, err := h.service.SetPrimary(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, conn, "primary wallet updated")
}

// Balance handles GET /blockchain/wallet/:id/balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	bal, err := h.service.Balance(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, bal)
}

type recordRequest struct {
	Network string `json:"network" validate:"required"`
	Hash    string `json:"hash" validate:"required"`
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value"`
}

// Record handles POST /blockchain/transactions.
func (h *Handler) Record(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req recordRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	tx, err := h.service.Record(c.UserContext(), RecordInput{
		UserID: uid, Network: req.Network, Hash: req.Hash, From: req.From, To: req.To, Value: req.Value,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, tx, "transaction recorded")
}

// Transactions handles GET /blockchain/transactions.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.Transactions(c.UserContext(), uid, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// Status handles GET /blockchain/transactions/:id/status.
func (h *Handler) Status(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	tx, err := h.service.RefreshStatus(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, tx)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTxNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownNetwork), errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrProviderNetwork),
		errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrSignatureRequired), errors.Is(err, ErrInvalidTxHash),
		errors.Is(err, ErrInvalidValue), errors.Is(err, siwe.ErrMalformedMessage):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAddressMismatch), errors.Is(err, ErrChainMismatch), errors.Is(err, siwe.ErrBadSignature),
		errors.Is(err, siwe.ErrInvalidNonce), errors.Is(err, siwe.ErrDomainMismatch), errors.Is(err, siwe.ErrExpired),
		errors.Is(err, siwe.ErrNotYetValid):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrTxTracked):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnavailable):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return identity.HTTPError(err)
	}
}
