package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Post("/bind", func(c *fiber.Ctx) error {
		var req sampleRequest
		if err := Bind(c, &req); err != nil {
			return err
		}
		return OK(c, fiber.StatusCreated, req, "created")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("db exploded")
	})
	return app
}

func decode(t *testing.T, body io.Reader) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.NewDecoder(body).Decode(&env))
	return env
}

func TestBindValidatesAndWrapsEnvelope(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest(fiber.MethodPost, "/bind", strings.NewReader(`{"email":"a@b.co","amount":10}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	env := decode(t, resp.Body)
	require.True(t, env.Success)
	require.Equal(t, "created", env.Message)

	req = httptest.NewRequest(fiber.MethodPost, "/bind", strings.NewReader(`{"email":"nope","amount":0}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	env = decode(t, resp.Body)
	require.False(t, env.Success)
	require.Contains(t, env.Message, "email must be a valid email")
	require.Contains(t, env.Message, "amount must be greater than 0")
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := newApp()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	env := decode(t, resp.Body)
	require.False(t, env.Success)
	require.Equal(t, "unexpected error", env.Message)
}

func TestPageBounds(t *testing.T) {
	p := NewPage(0, 1000)
	require.Equal(t, 1, p.Page)
	require.Equal(t, maxPageSize, p.Limit)

	items := []int{1, 2, 3, 4, 5}
	require.Equal(t, []int{3, 4}, Window(items, Page{Page: 2, Limit: 2}))
	require.Nil(t, Window(items, Page{Page: 4, Limit: 2}))
}
