package notification

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Handler serves the caller's inbox.
type Handler struct {
	inbox Inbox
}

// NewHandler constructs an inbox handler.
func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// List returns the caller's notifications, newest first. ?unread=true filters read items.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page := httpx.ParsePage(c)
	items, total, err := h.inbox.List(c.UserContext(), uid, c.QueryBool("unread"), page)
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, httpx.NewPaginated(items, page, total))
}

// MarkRead flags one notification as read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	if err := h.inbox.MarkRead(c.UserContext(), uid, c.Params("id"), time.Now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return httpx.OK(c, http.StatusOK, fiber.Map{"id": c.Params("id"), "read": true})
}
