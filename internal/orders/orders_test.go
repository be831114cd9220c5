package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/wallet"
)

type storeDirectory struct{ merchants *merchant.Service }

func (d storeDirectory) StoreInfo(ctx context.Context, id string) (loans.StoreInfo, error) {
	s, err := d.merchants.GetStore(ctx, id)
	if errors.Is(err, merchant.ErrNotFound) {
		return loans.StoreInfo{}, loans.ErrStoreInactive
	}
	if err != nil {
		return loans.StoreInfo{}, err
	}
	return loans.StoreInfo{ID: s.ID, OwnerID: s.OwnerID, FeeBps: s.FeeBps, Active: s.Status == merchant.StatusActive}, nil
}

func (d storeDirectory) StoresOwnedBy(ctx context.Context, owner string) ([]string, error) {
	return d.merchants.StoreIDsOwnedBy(ctx, owner)
}

type credit struct{}

func (credit) Eligibility(context.Context, string) (creditscore.Eligibility, error) {
	return creditscore.Eligibility{Score: 760, Rating: creditscore.RatingExcellent, Available: 50_000_000, Eligible: true}, nil
}

type fixture struct {
	svc       *Service
	merchants *merchant.Service
	loans     *loans.Service
	ledger    ledger.Ledger
	owner     string
	store     merchant.Store
	phone     merchant.Product
	cover     merchant.Product
}

var mpesa = payments.Details{Phone: "254712345678"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	require.NoError(t, ledger.EnsureSystemAccounts(ctx, led))
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "KES")
	pay := payments.NewService(payments.NewMemoryRepository(), led, wallets, nil, nil, logging.Discard(), "KES")
	merchants := merchant.NewService(merchant.NewMemoryRepository(), led, pay, nil, logging.Discard(),
		merchant.Config{DefaultFeeBps: 300, MinPayout: 10_000, Currency: "KES"})
	loanSvc := loans.NewService(loans.NewMemoryRepository(), led, pay, credit{}, storeDirectory{merchants}, nil, logging.Discard(),
		loans.Config{MinAmount: 1_000, MaxAmount: 10_000_000, InterestBps: 1_200, DefaultAfterDays: 30, Currency: "KES"})
	svc := NewService(NewMemoryRepository(), merchants, loanSvc, pay, led, nil, logging.Discard(), "KES")
	loanSvc.SetOrderHook(svc)

	owner := uuid.NewString()
	store, err := merchants.CreateStore(ctx, owner, merchant.StoreInput{Name: "Duka"})
	require.NoError(t, err)
	_, err = merchants.SetStatus(ctx, store.ID, merchant.StatusActive)
	require.NoError(t, err)
	store, _ = merchants.GetStore(ctx, store.ID)
	phone, err := merchants.CreateProduct(ctx, owner, store.ID, merchant.ProductInput{Name: "Phone", Price: 1_500_000, Stock: 3})
	require.NoError(t, err)
	cover, err := merchants.CreateProduct(ctx, owner, store.ID, merchant.ProductInput{Name: "Case", Price: 50_000, Stock: 10})
	require.NoError(t, err)

	return &fixture{svc: svc, merchants: merchants, loans: loanSvc, ledger: led, owner: owner, store: store, phone: phone, cover: cover}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.merchants.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCreatePaidInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	order, err := f.svc.Create(ctx, CreateInput{
		UserID:        user,
		StoreID:       f.store.ID,
		Items:         []ItemInput{{ProductID: f.phone.ID, Quantity: 1}, {ProductID: f.cover.ID, Quantity: 1}, {ProductID: f.cover.ID, Quantity: 1}},
		PaymentOption: OptionFull,
		Method:        payments.MethodMpesa,
		Details:       mpesa,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, order.Status)
	require.Equal(t, int64(1_600_000), order.Total)
	require.Equal(t, int64(48_000), order.Fee)
	require.Len(t, order.Items, 2)
	require.NotEmpty(t, order.PaymentID)

	bal, err := f.merchants.Balance(ctx, f.store.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1_552_000), bal)
	revenue, _ := f.ledger.Balance(ctx, ledger.PlatformRevenueAccount)
	require.Equal(t, int64(48_000), revenue)

	require.Equal(t, 2, f.stock(t, f.phone.ID))
	require.Equal(t, 8, f.stock(t, f.cover.ID))

	got, err := f.svc.Get(ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Total, got.Total)
	_, err = f.svc.Get(ctx, uuid.NewString(), order.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Cancel(ctx, user, order.ID)
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestCreateRejectsBadCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()
	base := CreateInput{UserID: user, StoreID: f.store.ID, PaymentOption: OptionFull, Method: payments.MethodMpesa, Details: mpesa}

	in := base
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrEmptyOrder)

	in.Items = []ItemInput{{ProductID: f.phone.ID, Quantity: 4}}
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, merchant.ErrInsufficientStock)

	other, err := f.merchants.CreateStore(ctx, f.owner, merchant.StoreInput{Name: "Other"})
	require.NoError(t, err)
	foreign, err := f.merchants.CreateProduct(ctx, f.owner, other.ID, merchant.ProductInput{Name: "Lamp", Price: 1_000, Stock: 1})
	require.NoError(t, err)
	in.Items = []ItemInput{{ProductID: foreign.ID, Quantity: 1}}
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, merchant.ErrProductNotFound)

	in.StoreID = other.ID
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, merchant.ErrStoreInactive)

	in = base
	in.Items = []ItemInput{{ProductID: f.phone.ID, Quantity: 1}}
	in.Details = payments.Details{Phone: "12345"}
	_, err = f.svc.Create(ctx, in)
	require.Error(t, err)
	require.Equal(t, 3, f.stock(t, f.phone.ID), "failed payment must release stock")
}

func TestBNPLOrderFinancedOnApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	order, err := f.svc.Create(ctx, CreateInput{
		UserID:        user,
		StoreID:       f.store.ID,
		Items:         []ItemInput{{ProductID: f.phone.ID, Quantity: 2}},
		PaymentOption: OptionBNPL,
		TermMonths:    6,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, order.Status)
	require.NotEmpty(t, order.LoanID)
	require.Equal(t, 1, f.stock(t, f.phone.ID))

	loan, err := f.loans.Approve(ctx, order.LoanID, loans.Actor{UserID: f.owner, Role: "merchant"})
	require.NoError(t, err)
	require.Equal(t, order.ID, loan.OrderID)

	got, err := f.svc.Get(ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFinanced, got.Status)

	bal, _ := f.merchants.Balance(ctx, f.store.ID)
	require.Equal(t, int64(3_000_000-90_000), bal)

	analytics, err := f.svc.Analytics(ctx, f.owner, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(3_000_000), analytics.Revenue)
	require.Equal(t, 1, analytics.Orders)
	require.Equal(t, 2, analytics.ItemsSold)
	require.Equal(t, 1, analytics.LoansFinanced)
	require.Equal(t, int64(3_000_000), analytics.FinancedAmount)
	require.Equal(t, f.phone.ID, analytics.TopProducts[0].ProductID)

	gmv, err := f.svc.GMV(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3_000_000), gmv)
}

func TestBNPLRejectionRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	order, err := f.svc.Create(ctx, CreateInput{
		UserID: user, StoreID: f.store.ID, PaymentOption: OptionBNPL, TermMonths: 3,
		Items: []ItemInput{{ProductID: f.cover.ID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 6, f.stock(t, f.cover.ID))

	_, err = f.loans.Reject(ctx, order.LoanID, loans.Actor{UserID: f.owner, Role: "merchant"}, "no")
	require.NoError(t, err)

	got, _ := f.svc.Get(ctx, user, order.ID)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, 10, f.stock(t, f.cover.ID))
}

func TestOtherUsersLoanCannotTouchOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, mallory := uuid.NewString(), uuid.NewString()

	order, err := f.svc.Create(ctx, CreateInput{
		UserID: alice, StoreID: f.store.ID, PaymentOption: OptionBNPL, TermMonths: 3,
		Items: []ItemInput{{ProductID: f.cover.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = f.loans.Apply(ctx, loans.ApplyInput{UserID: mallory, StoreID: f.store.ID, OrderID: order.ID, Amount: order.Total, TermMonths: 1})
	require.ErrorIs(t, err, loans.ErrOrderMismatch)
	_, err = f.loans.Apply(ctx, loans.ApplyInput{UserID: alice, StoreID: f.store.ID, OrderID: order.ID, Amount: order.Total, TermMonths: 1})
	require.ErrorIs(t, err, loans.ErrOrderMismatch, "order already carries a loan")

	stray, err := f.loans.Apply(ctx, loans.ApplyInput{UserID: mallory, StoreID: f.store.ID, Amount: order.Total, TermMonths: 1})
	require.NoError(t, err)
	require.Empty(t, stray.OrderID)
	_, err = f.loans.Reject(ctx, stray.ID, loans.Actor{UserID: f.owner, Role: "merchant"}, "no")
	require.NoError(t, err)

	// A rejection naming the order but carrying another loan is ignored.
	require.NoError(t, f.svc.LoanRejected(ctx, order.ID, stray.ID))

	got, err := f.svc.Get(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, order.LoanID, got.LoanID)
	require.Equal(t, 8, f.stock(t, f.cover.ID))
}

type failingRepo struct {
	Repository
	failCreate bool
	failAttach bool
}

var errRepoDown = errors.New("repository unavailable")

func (r failingRepo) Create(ctx context.Context, o Order) error {
	if r.failCreate {
		return errRepoDown
	}
	return r.Repository.Create(ctx, o)
}

func (r failingRepo) UpdateStatus(ctx context.Context, id, from, to, loanID, paymentID string) error {
	if r.failAttach && from == StatusPending && to == StatusPending {
		return errRepoDown
	}
	return r.Repository.UpdateStatus(ctx, id, from, to, loanID, paymentID)
}

func TestCreateRecordsOrderBeforeCharging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()
	f.svc.repo = failingRepo{Repository: f.svc.repo, failCreate: true}

	_, err := f.svc.Create(ctx, CreateInput{
		UserID: user, StoreID: f.store.ID, PaymentOption: OptionFull, Method: payments.MethodMpesa, Details: mpesa,
		Items: []ItemInput{{ProductID: f.phone.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, errRepoDown)
	require.Equal(t, 3, f.stock(t, f.phone.ID))
	bal, err := f.merchants.Balance(ctx, f.store.ID)
	require.NoError(t, err)
	require.Zero(t, bal, "nothing may be charged for an order that was never stored")
}

func TestFailedCheckoutCancelsStoredOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	_, err := f.svc.Create(ctx, CreateInput{
		UserID: user, StoreID: f.store.ID, PaymentOption: OptionFull, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "12345"},
		Items:   []ItemInput{{ProductID: f.phone.ID, Quantity: 1}},
	})
	require.Error(t, err)

	base := f.svc.repo
	f.svc.repo = failingRepo{Repository: base, failAttach: true}
	_, err = f.svc.Create(ctx, CreateInput{
		UserID: user, StoreID: f.store.ID, PaymentOption: OptionBNPL, TermMonths: 3,
		Items: []ItemInput{{ProductID: f.phone.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, errRepoDown)
	require.Equal(t, 3, f.stock(t, f.phone.ID))

	stored, total, err := base.ListByUser(ctx, user, httpx.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	for _, o := range stored {
		require.Equal(t, StatusCancelled, o.Status)
	}
	withdrawn, err := f.loans.List(ctx, user, "")
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	require.Equal(t, loans.StatusRejected, withdrawn[0].Status)
}

func TestCancelWithdrawsLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.NewString()

	order, err := f.svc.Create(ctx, CreateInput{
		UserID: user, StoreID: f.store.ID, PaymentOption: OptionBNPL, TermMonths: 1,
		Items: []ItemInput{{ProductID: f.phone.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, uuid.NewString(), order.ID)
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, err := f.svc.Cancel(ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, 3, f.stock(t, f.phone.ID))

	loan, err := f.loans.Get(ctx, user, order.LoanID)
	require.NoError(t, err)
	require.Equal(t, loans.StatusRejected, loan.Status)

	_, err = f.loans.Approve(ctx, order.LoanID, loans.Actor{UserID: f.owner, Role: "merchant"})
	require.ErrorIs(t, err, loans.ErrInvalidState)
}

func TestRecentForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, CreateInput{
			UserID: uuid.NewString(), StoreID: f.store.ID, PaymentOption: OptionFull,
			Method: payments.MethodMpesa, Details: mpesa,
			Items: []ItemInput{{ProductID: f.cover.ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}
	recent, err := f.svc.RecentForOwner(ctx, f.owner, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	none, err := f.svc.RecentForOwner(ctx, uuid.NewString(), 5)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCreateHandler(t *testing.T) {
	f := newFixture(t)
	user := uuid.NewString()
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(httpx.LocalUserID, user)
		return c.Next()
	})
	h := NewHandler(f.svc)
	app.Post("/orders", h.Create)

	post := func(body string) (int, map[string]any) {
		req := httptest.NewRequest(fiber.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, out := post(`{"store_id":"` + f.store.ID + `","items":[{"product_id":"` + f.cover.ID + `","quantity":1}],"payment_option":"full"}`)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, false, out["success"])

	status, out = post(`{"store_id":"` + f.store.ID + `","items":[{"product_id":"` + f.cover.ID + `","quantity":1}],"payment_option":"full","method":"mpesa","phone":"254712345678"}`)
	require.Equal(t, fiber.StatusCreated, status)
	require.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	require.Equal(t, StatusPaid, data["status"])

	status, _ = post(`{"store_id":"` + f.store.ID + `","items":[{"product_id":"` + f.cover.ID + `","quantity":11}],"payment_option":"full","method":"mpesa","phone":"254712345678"}`)
	require.Equal(t, fiber.StatusConflict, status)
}
