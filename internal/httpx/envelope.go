// Package httpx holds the response envelope, request binding and error
// translation shared by every HTTP handler.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Envelope is the response shape returned by every /api endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK writes a successful envelope.
func OK(c *fiber.Ctx, status int, data any, message ...string) error {
	env := Envelope{Success: true, Data: data}
	if len(message) > 0 {
		env.Message = message[0]
	}
	return c.Status(status).JSON(env)
}

// Fail writes a failed envelope without going through the error handler.
func Fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Envelope{Success: false, Message: message})
}

// ErrorHandler converts returned errors into failed envelopes. *fiber.Error keeps
// its status and message; anything else is logged and reported as a 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return Fail(c, fe.Code, fe.Message)
		}
		if logger != nil {
			logger.Error("unhandled error",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestID(c)),
				slog.Any("error", err),
			)
		}
		return Fail(c, http.StatusInternalServerError, "unexpected error")
	}
}
