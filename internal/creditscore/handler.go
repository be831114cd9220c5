package creditscore

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Handler exposes the caller's credit score.
type Handler struct {
	service *Service
}

// NewHandler constructs a credit score handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Score returns the caller's current score.
func (h *Handler) Score(c *fiber.Ctx) error {
	return h.calculate(c, false)
}

// Refresh forces a recalculation.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	return h.calculate(c, true)
}

func (h *Handler) calculate(c *fiber.Ctx, force bool) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	score, err := h.service.Calculate(c.UserContext(), uid, force)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, score)
}

// History lists the caller's past scores.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	scores, err := h.service.History(c.UserContext(), uid, c.QueryInt("limit", 12))
	if err != nil {
		return err
	}
	if scores == nil {
		scores = []Score{}
	}
	return httpx.OK(c, http.StatusOK, scores)
}

// Eligibility reports the caller's available BNPL credit.
func (h *Handler) Eligibility(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	e, err := h.service.Eligibility(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, e)
}

func toHTTPError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return err
}
