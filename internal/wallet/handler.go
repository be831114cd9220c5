package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	users   *identity.Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, users *identity.Service) *Handler {
	return &Handler{service: service, users: users}
}

type meResponse struct {
	User    identity.Profile `json:"user"`
	Wallet  Wallet           `json:"wallet"`
	Balance Balance          `json:"balance"`
}

// Me returns the caller's profile, wallet and balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	user, err := h.users.Get(c.UserContext(), uid)
	if err != nil {
		return identity.HTTPError(err)
	}
	summary, err := h.service.SummaryFor(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, meResponse{User: user.Profile(), Wallet: summary.Wallet, Balance: summary.Balance})
}

// Transactions returns recent ledger entries for the caller's wallet.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.service.Transactions(c.UserContext(), uid, limit)
	if err != nil {
		return toHTTPError(err)
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return httpx.OK(c, http.StatusOK, entries)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
