package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Handler exposes the caller's profile and settings.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type profileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=80"`
	LastName  *string `json:"last_name" validate:"omitempty,max=80"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

type settingsRequest struct {
	Theme              string `json:"theme" validate:"omitempty,oneof=light dark system"`
	EmailNotifications bool   `json:"email_notifications"`
	PushNotifications  bool   `json:"push_notifications"`
}

// Profile returns the authenticated user's profile.
func (h *Handler) Profile(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, user.Profile())
}

// UpdateProfile changes name or phone.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req profileRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	user, err := h.service.UpdateProfile(c.UserContext(), uid, ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, user.Profile(), "profile updated")
}

// Settings returns the caller's preferences.
func (h *Handler) Settings(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, user.Settings)
}

// UpdateSettings replaces the caller's preferences.
func (h *Handler) UpdateSettings(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req settingsRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	settings, err := h.service.UpdateSettings(c.UserContext(), uid, Settings{
		Theme:              req.Theme,
		EmailNotifications: req.EmailNotifications,
		PushNotifications:  req.PushNotifications,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return httpx.OK(c, http.StatusOK, settings, "settings updated")
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrWalletTaken):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrSuspended):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrWeakPassword):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}

// HTTPError maps identity errors onto HTTP statuses for handlers in other packages.
func HTTPError(err error) error { return toHTTPError(err) }
