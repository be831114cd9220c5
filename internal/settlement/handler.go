package settlement

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Handler exposes settlement endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// List handles GET /merchant/settlements.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.service.List(c.UserContext(), uid, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// Summary handles GET /merchant/settlements/summary.
func (h *Handler) Summary(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	out, err := h.service.Summary(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, out)
}

type runRequest struct {
	PeriodEnd *time.Time `json:"period_end"`
}

// Run handles POST /admin/settlements/run.
func (h *Handler) Run(c *fiber.Ctx) error {
	var req runRequest
	if len(c.Body()) > 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
	}
	var end time.Time
	if req.PeriodEnd != nil {
		end = *req.PeriodEnd
	}
	report, err := h.service.Run(c.UserContext(), end)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, report, "settlement run complete")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrRunning):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBadPeriod):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
