package staking

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/payments"
)

// Handler exposes /staking endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Pools handles GET /staking/pools.
func (h *Handler) Pools(c *fiber.Ctx) error {
	pools, err := h.service.ListPools(c.UserContext())
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, pools)
}

// Positions handles GET /staking/positions.
func (h *Handler) Positions(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	positions, err := h.service.Positions(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, positions)
}

type moveRequest struct {
	PoolID     string `json:"pool_id" validate:"required,uuid"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	ClientTxID string `json:"client_tx_id"`
}

func (h *Handler) bindMove(c *fiber.Ctx) (MoveInput, error) {
	uid, err := httpx.UserID(c)
	if err != nil {
		return MoveInput{}, err
	}
	var req moveRequest
	if err := httpx.Bind(c, &req); err != nil {
		return MoveInput{}, err
	}
	if req.ClientTxID == "" {
		req.ClientTxID = c.Get("Idempotency-Key")
	}
	return MoveInput{UserID: uid, PoolID: req.PoolID, Amount: req.Amount, ClientTxID: req.ClientTxID}, nil
}

// Deposit handles POST /staking/deposit.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	in, err := h.bindMove(c)
	if err != nil {
		return err
	}
	m, err := h.service.Deposit(c.UserContext(), in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusCreated, m, "stake deposited")
}

// Withdraw handles POST /staking/withdraw.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	in, err := h.bindMove(c)
	if err != nil {
		return err
	}
	m, err := h.service.Withdraw(c.UserContext(), in)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, m, "stake withdrawn")
}

type claimRequest struct {
	PoolID string `json:"pool_id" validate:"required,uuid"`
}

// Claim handles POST /staking/claim.
func (h *Handler) Claim(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req claimRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	m, err := h.service.Claim(c.UserContext(), uid, req.PoolID, c.Get("Idempotency-Key"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, m, "rewards claimed")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrNoPosition):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPoolInactive), errors.Is(err, ErrNothingToClaim):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientStake):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return payments.HTTPError(err)
	}
}
