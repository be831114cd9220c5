package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/kelo-pay/kelo/internal/auth"
	"github.com/kelo-pay/kelo/internal/httpx"
)

type stubVerifier map[string]auth.Claims

func (s stubVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	claims, ok := s[token]
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

func claimsFor(sub, role string) auth.Claims {
	return auth.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	verifier := stubVerifier{
		"cust-token":  claimsFor("u1", "customer"),
		"admin-token": claimsFor("u2", "admin"),
	}
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(nil)})
	app.Use(JWTAuth(verifier))
	app.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := httpx.UserID(c)
		return c.SendString(uid)
	})
	app.Get("/admin", RequireRole("admin"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	cases := []struct {
		path, token string
		want        int
	}{
		{"/me", "", fiber.StatusUnauthorized},
		{"/me", "bogus", fiber.StatusUnauthorized},
		{"/me", "cust-token", fiber.StatusOK},
		{"/admin", "cust-token", fiber.StatusForbidden},
		{"/admin", "admin-token", fiber.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, tc.path, nil)
		if tc.token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tc.token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("%s with %q: expected %d got %d", tc.path, tc.token, tc.want, resp.StatusCode)
		}
	}
}

func loginApp(cache *redis.Client, perMin int) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(nil)})
	app.Post("/login", LoginRateLimit(cache, perMin), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func attempt(t *testing.T, app *fiber.App, email string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"email":"`+email+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp.StatusCode
}

func TestLoginRateLimitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := loginApp(cache, 2)
	for i := 0; i < 2; i++ {
		if got := attempt(t, app, "a@example.com"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, got)
		}
	}
	if got := attempt(t, app, "A@example.com"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := attempt(t, app, "b@example.com"); got != fiber.StatusOK {
		t.Fatalf("other subjects are unaffected, got %d", got)
	}
	if ttl := mr.TTL(loginRateKeyPrefix + "a@example.com"); ttl <= 0 {
		t.Fatalf("expected counter to expire, ttl=%s", ttl)
	}
}

func TestLoginRateLimitLocalFallback(t *testing.T) {
	app := loginApp(nil, 3)
	for i := 0; i < 3; i++ {
		if got := attempt(t, app, "c@example.com"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, got)
		}
	}
	if got := attempt(t, app, "c@example.com"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		id, _ := c.Locals(httpx.LocalRequestID).(string)
		if id == "" {
			return errors.New("missing request id")
		}
		return c.SendString(id)
	})
	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated uuid for oversized id, got %q", got)
	}
}
