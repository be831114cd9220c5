package httpx

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by the request-id and auth middleware.
const (
	LocalRequestID    = "request_id"
	LocalUserID       = "user_id"
	LocalRole         = "role"
	LocalTokenVersion = "token_version"
)

// RequestID returns the correlation id assigned to the request, if any.
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRequestID).(string)
	return id
}

// UserID returns the authenticated caller or a 401.
func UserID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals(LocalUserID).(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

// Role returns the authenticated caller's role, empty when anonymous.
func Role(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}
