package admin

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
)

// Handler serves /admin user and analytics endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Users handles GET /admin/users?search=&role=&status=.
func (h *Handler) Users(c *fiber.Ctx) error {
	page := httpx.ParsePage(c)
	items, total, err := h.service.Users(c.UserContext(), identity.Filter{
		Search: c.Query("search"),
		Role:   c.Query("role"),
		Status: c.Query("status"),
	}, page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// User handles GET /admin/users/:id.
func (h *Handler) User(c *fiber.Ctx) error {
	p, err := h.service.User(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, p)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

// SetStatus handles PATCH /admin/users/:id/status.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	adminID, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	p, err := h.service.SetUserStatus(c.UserContext(), adminID, c.Params("id"), req.Status)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, p, "user status updated")
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=customer merchant admin"`
}

// SetRole handles PATCH /admin/users/:id/role.
func (h *Handler) SetRole(c *fiber.Ctx) error {
	adminID, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	p, err := h.service.SetUserRole(c.UserContext(), adminID, c.Params("id"), req.Role)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, p, "user role updated")
}

// Analytics handles GET /admin/analytics.
func (h *Handler) Analytics(c *fiber.Ctx) error {
	out, err := h.service.Analytics(c.UserContext())
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, out)
}

func toHTTPError(err error) error {
	if errors.Is(err, ErrSelf) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return identity.HTTPError(err)
}
