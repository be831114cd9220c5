package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/orders"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/wallet"
)

type noStores struct{}

func (noStores) StoreInfo(context.Context, string) (loans.StoreInfo, error) {
	return loans.StoreInfo{}, loans.ErrStoreInactive
}
func (noStores) StoresOwnedBy(context.Context, string) ([]string, error) { return nil, nil }

type noCredit struct{}

func (noCredit) Eligibility(context.Context, string) (creditscore.Eligibility, error) {
	return creditscore.Eligibility{}, nil
}

type fixture struct {
	svc       *Service
	checkout  *orders.Service
	merchants *merchant.Service
	owner     string
	store     merchant.Store
	product   merchant.Product
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	require.NoError(t, ledger.EnsureSystemAccounts(ctx, led))
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "KES")
	pay := payments.NewService(payments.NewMemoryRepository(), led, wallets, nil, nil, logging.Discard(), "KES")
	merchants := merchant.NewService(merchant.NewMemoryRepository(), led, pay, nil, logging.Discard(),
		merchant.Config{DefaultFeeBps: 300, MinPayout: 10_000, Currency: "KES"})
	loanSvc := loans.NewService(loans.NewMemoryRepository(), led, pay, noCredit{}, noStores{}, nil, logging.Discard(),
		loans.Config{MinAmount: 1_000, MaxAmount: 1_000_000, InterestBps: 1_200, DefaultAfterDays: 30, Currency: "KES"})
	checkout := orders.NewService(orders.NewMemoryRepository(), merchants, loanSvc, pay, led, nil, logging.Discard(), "KES")

	f := &fixture{checkout: checkout, merchants: merchants, owner: uuid.NewString(), clock: time.Now().Add(time.Hour)}
	f.svc = NewService(NewMemoryRepository(), merchants, checkout, 10_000, logging.Discard())
	f.svc.now = func() time.Time { return f.clock }

	var err error
	f.store, err = merchants.CreateStore(ctx, f.owner, merchant.StoreInput{Name: "Duka"})
	require.NoError(t, err)
	_, err = merchants.SetStatus(ctx, f.store.ID, merchant.StatusActive)
	require.NoError(t, err)
	f.product, err = merchants.CreateProduct(ctx, f.owner, f.store.ID, merchant.ProductInput{Name: "Phone", Price: 1_000_000, Stock: 10})
	require.NoError(t, err)
	return f
}

func (f *fixture) buy(t *testing.T) orders.Order {
	t.Helper()
	o, err := f.checkout.Create(context.Background(), orders.CreateInput{
		UserID:        uuid.NewString(),
		StoreID:       f.store.ID,
		Items:         []orders.ItemInput{{ProductID: f.product.ID, Quantity: 1}},
		PaymentOption: orders.OptionFull,
		Method:        payments.MethodMpesa,
		Details:       payments.Details{Phone: "254712345678"},
	})
	require.NoError(t, err)
	return o
}

func TestRunPaysOutAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idle, err := f.merchants.CreateStore(ctx, uuid.NewString(), merchant.StoreInput{Name: "Idle"})
	require.NoError(t, err)
	_, err = f.merchants.SetStatus(ctx, idle.ID, merchant.StatusActive)
	require.NoError(t, err)

	f.buy(t)
	f.buy(t)

	report, err := f.svc.Run(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Settled)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, int64(1_940_000), report.PaidOut)

	bal, _ := f.merchants.Balance(ctx, f.store.ID)
	require.Zero(t, bal)

	items, total, err := f.svc.List(ctx, f.owner, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	st := items[0]
	require.Equal(t, StatusPaid, st.Status)
	require.Equal(t, 2, st.OrderCount)
	require.Equal(t, int64(2_000_000), st.Gross)
	require.Equal(t, int64(60_000), st.Fee)
	require.NotEmpty(t, st.PayoutID)

	again, err := f.svc.Run(ctx, report.PeriodEnd)
	require.NoError(t, err)
	require.Zero(t, again.Settled)
	require.Zero(t, again.PaidOut)

	payouts, _, err := f.merchants.PayoutHistory(ctx, f.owner, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, st.ID, payouts[0].SettlementID)
}

func TestNextPeriodStartsWhereLastEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buy(t)
	first, err := f.svc.Run(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Settled)

	f.buy(t)
	f.clock = f.clock.Add(2 * time.Hour)
	second, err := f.svc.Run(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, second.Settled)

	items, _, err := f.svc.List(ctx, f.owner, httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, first.PeriodEnd, items[0].PeriodStart)

	summary, err := f.svc.Summary(ctx, f.owner)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Settlements)
	require.Equal(t, int64(1_940_000), summary.TotalSettled)
	require.Zero(t, summary.PendingBalance)
	require.NotNil(t, summary.Last)
	require.Equal(t, second.PeriodEnd, summary.Last.PeriodEnd)
}

func TestRunSkipsSmallBalances(t *testing.T) {
	f := newFixture(t)
	f.svc.minPayout = 5_000_000
	f.buy(t)
	report, err := f.svc.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Settled)
}

func TestRunRejectsFuturePeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Run(context.Background(), f.clock.Add(time.Minute))
	require.ErrorIs(t, err, ErrBadPeriod)
}

type flakyStores struct {
	store    merchant.Store
	balance  int64
	failures int
	payouts  []merchant.PayoutInput
}

func (s *flakyStores) ActiveStores(context.Context) ([]merchant.Store, error) {
	return []merchant.Store{s.store}, nil
}
func (s *flakyStores) StoreIDsOwnedBy(context.Context, string) ([]string, error) {
	return []string{s.store.ID}, nil
}
func (s *flakyStores) Balance(context.Context, string) (int64, error) { return s.balance, nil }
func (s *flakyStores) Payout(_ context.Context, in merchant.PayoutInput) (merchant.Payout, error) {
	s.payouts = append(s.payouts, in)
	if s.failures > 0 {
		s.failures--
		return merchant.Payout{}, errors.New("rail unavailable")
	}
	s.balance = 0
	return merchant.Payout{ID: uuid.NewString(), SettlementID: in.SettlementID}, nil
}

type noOrders struct{}

func (noOrders) SettledOrders(context.Context, string, time.Time, time.Time) ([]orders.Order, error) {
	return nil, nil
}

func TestFailedSettlementIsRetried(t *testing.T) {
	stores := &flakyStores{
		store:    merchant.Store{ID: uuid.NewString(), CreatedAt: time.Now().Add(-48 * time.Hour)},
		balance:  50_000,
		failures: 1,
	}
	svc := NewService(NewMemoryRepository(), stores, noOrders{}, 10_000, logging.Discard())
	end := time.Now().Add(-time.Hour).Truncate(time.Second)

	report, err := svc.Run(context.Background(), end)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	failed, err := svc.repo.ForPeriod(context.Background(), stores.store.ID, end)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, failed.Status)

	report, err = svc.Run(context.Background(), end)
	require.NoError(t, err)
	require.Equal(t, 1, report.Settled)
	require.Equal(t, int64(50_000), report.PaidOut)

	paid, err := svc.repo.ForPeriod(context.Background(), stores.store.ID, end)
	require.NoError(t, err)
	require.Equal(t, failed.ID, paid.ID)
	require.Equal(t, StatusPaid, paid.Status)
	require.Len(t, stores.payouts, 2)
	require.Equal(t, stores.payouts[0].ClientTxID, stores.payouts[1].ClientTxID)
}
