package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/kelo-pay/kelo/internal/httpx"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "Amina@Example.com", Password: "s3cret-pass", FirstName: "Amina", LastName: "Otieno"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleCustomer {
		t.Fatalf("expected customer role, got %s", user.Role)
	}
	if user.Email != "amina@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}

	authed, err := svc.Authenticate(ctx, "AMINA@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.LastLogin == nil {
		t.Fatalf("expected last login to be recorded")
	}

	if _, err := svc.Authenticate(ctx, "amina@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndAdmins(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Email: "a@b.co", Password: "longenough"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "A@B.co", Password: "longenough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "root@b.co", Password: "longenough", Role: RoleAdmin}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected admin self-registration to fail, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "short@b.co", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
}

func TestSuspensionBlocksLoginAndRevokesTokens(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, _ := svc.Register(ctx, RegisterInput{Email: "m@shop.co", Password: "longenough", Role: RoleMerchant})
	suspended, err := svc.SetStatus(ctx, user.ID, StatusSuspended)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.TokenVersion != user.TokenVersion+1 {
		t.Fatalf("expected token version bump, got %d", suspended.TokenVersion)
	}
	if _, err := svc.Authenticate(ctx, "m@shop.co", "longenough"); !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected suspended error, got %v", err)
	}
}

func TestFindOrCreateByWallet(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	addr := "0xAbC0000000000000000000000000000000000001"

	first, created, err := svc.FindOrCreateByWallet(ctx, addr)
	if err != nil || !created {
		t.Fatalf("expected account creation, created=%v err=%v", created, err)
	}
	again, created, err := svc.FindOrCreateByWallet(ctx, "0xabc0000000000000000000000000000000000001")
	if err != nil || created {
		t.Fatalf("expected existing account, created=%v err=%v", created, err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same user for case-insensitive address")
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	svc.Register(ctx, RegisterInput{Email: "one@x.co", Password: "longenough", FirstName: "Wanjiru"})
	svc.Register(ctx, RegisterInput{Email: "two@x.co", Password: "longenough", FirstName: "Kamau", Role: RoleMerchant})
	svc.Register(ctx, RegisterInput{Email: "three@x.co", Password: "longenough", FirstName: "Wambui"})

	users, total, err := svc.List(ctx, Filter{Search: "wa"}, httpx.NewPage(1, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(users) != 1 {
		t.Fatalf("expected 2 matches with page size 1, got total=%d len=%d", total, len(users))
	}

	merchants, total, _ := svc.List(ctx, Filter{Role: RoleMerchant}, httpx.NewPage(1, 10))
	if total != 1 || merchants[0].FirstName != "Kamau" {
		t.Fatalf("expected one merchant, got %+v", merchants)
	}
}

func TestRedirectFor(t *testing.T) {
	cases := map[string]string{RoleCustomer: "/dashboard", RoleMerchant: "/merchant", RoleAdmin: "/admin", "": "/dashboard"}
	for role, want := range cases {
		if got := RedirectFor(role); got != want {
			t.Fatalf("RedirectFor(%q) = %s, want %s", role, got, want)
		}
	}
}
