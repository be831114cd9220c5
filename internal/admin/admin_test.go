package admin

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/identity"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
)

type fixedStores map[string]int

func (s fixedStores) CountByStatus(context.Context) (map[string]int, error) { return s, nil }

type fixedBook loans.Stats

func (b fixedBook) Stats(context.Context) (loans.Stats, error) { return loans.Stats(b), nil }

type fixedSales int64

func (s fixedSales) GMV(context.Context) (int64, error) { return int64(s), nil }

func newTestService(t *testing.T) (*Service, *identity.Service, notification.Inbox) {
	t.Helper()
	users := identity.NewService(identity.NewMemoryRepository())
	inbox := notification.NewMemoryInbox()
	svc := NewService(users, fixedStores{"active": 2, "pending": 1},
		fixedBook{Total: 4, ByStatus: map[string]int{"active": 3, "defaulted": 1}, Disbursed: 900_000, DefaultRate: 0.25},
		fixedSales(1_250_000), notification.NewInboxNotifier(inbox), logging.Discard())
	return svc, users, inbox
}

func register(t *testing.T, users *identity.Service, email, role string) identity.User {
	t.Helper()
	u, err := users.Register(context.Background(), identity.RegisterInput{
		Email: email, Password: "correct-horse", FirstName: "Test", LastName: "User", Role: role,
	})
	require.NoError(t, err)
	return u
}

func TestSuspendRevokesTokensAndNotifies(t *testing.T) {
	svc, users, inbox := newTestService(t)
	ctx := context.Background()
	admin := register(t, users, "ops@kelo.test", identity.RoleCustomer)
	target := register(t, users, "amina@kelo.test", identity.RoleCustomer)

	_, err := svc.SetUserStatus(ctx, admin.ID, admin.ID, identity.StatusSuspended)
	require.ErrorIs(t, err, ErrSelf)

	p, err := svc.SetUserStatus(ctx, admin.ID, target.ID, identity.StatusSuspended)
	require.NoError(t, err)
	require.Equal(t, identity.StatusSuspended, p.Status)

	after, err := users.Get(ctx, target.ID)
	require.NoError(t, err)
	require.Greater(t, after.TokenVersion, target.TokenVersion)

	msgs, total, err := inbox.List(ctx, target.ID, false, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, notification.KindAccountStatus, msgs[0].Kind)

	_, err = svc.SetUserStatus(ctx, admin.ID, target.ID, "banned")
	require.ErrorIs(t, err, identity.ErrInvalidStatus)
}

func TestUsersAndRoles(t *testing.T) {
	svc, users, _ := newTestService(t)
	ctx := context.Background()
	admin := register(t, users, "ops@kelo.test", identity.RoleCustomer)
	register(t, users, "shop@kelo.test", identity.RoleMerchant)
	target := register(t, users, "amina@kelo.test", identity.RoleCustomer)

	merchants, total, err := svc.Users(ctx, identity.Filter{Role: identity.RoleMerchant}, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "shop@kelo.test", merchants[0].Email)

	p, err := svc.SetUserRole(ctx, admin.ID, target.ID, identity.RoleMerchant)
	require.NoError(t, err)
	require.Equal(t, identity.RoleMerchant, p.Role)

	got, err := svc.User(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, identity.RoleMerchant, got.Role)

	_, err = svc.User(ctx, "missing")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestAnalytics(t *testing.T) {
	svc, users, _ := newTestService(t)
	register(t, users, "a@kelo.test", identity.RoleCustomer)
	register(t, users, "b@kelo.test", identity.RoleCustomer)
	register(t, users, "c@kelo.test", identity.RoleMerchant)

	out, err := svc.Analytics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, out.TotalUsers)
	require.Equal(t, 2, out.UsersByRole[identity.RoleCustomer])
	require.Equal(t, 2, out.StoresByStatus["active"])
	require.Equal(t, 4, out.Loans.Total)
	require.Equal(t, int64(1_250_000), out.GMV)
}

func TestSetStatusHandler(t *testing.T) {
	svc, users, _ := newTestService(t)
	admin := register(t, users, "ops@kelo.test", identity.RoleCustomer)
	target := register(t, users, "amina@kelo.test", identity.RoleCustomer)

	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(httpx.LocalUserID, admin.ID)
		c.Locals(httpx.LocalRole, identity.RoleAdmin)
		return c.Next()
	})
	h := NewHandler(svc)
	app.Patch("/admin/users/:id/status", h.SetStatus)

	send := func(id, body string) int {
		req := httptest.NewRequest(fiber.MethodPatch, "/admin/users/"+id+"/status", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusBadRequest, send(target.ID, `{"status":"banned"}`))
	require.Equal(t, fiber.StatusBadRequest, send(admin.ID, `{"status":"suspended"}`))
	require.Equal(t, fiber.StatusNotFound, send("nobody", `{"status":"suspended"}`))
	require.Equal(t, fiber.StatusOK, send(target.ID, `{"status":"suspended"}`))
}
