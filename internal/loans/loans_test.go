package loans

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kelo-pay/kelo/internal/creditscore"
	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/payments"
	"github.com/kelo-pay/kelo/internal/wallet"
)

func TestBuildScheduleInvariants(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, term := range Terms {
		for _, principal := range []int64{1_000, 99_999, 12_345_678} {
			items, total := BuildSchedule(principal, 1_500, term, start)
			require.Len(t, items, term)
			var sumPrincipal, sumAmount int64
			for i, in := range items {
				require.Equal(t, i+1, in.Seq)
				require.Equal(t, in.Principal+in.Interest, in.Amount)
				require.Equal(t, AddMonths(start, i+1), in.DueDate)
				sumPrincipal += in.Principal
				sumAmount += in.Amount
			}
			require.Equal(t, principal, sumPrincipal, "term %d principal %d", term, principal)
			require.Equal(t, total, sumAmount)
			require.Greater(t, total, principal)
		}
	}
}

func TestBuildScheduleZeroInterest(t *testing.T) {
	items, total := BuildSchedule(1_000, 0, 3, time.Now())
	require.Equal(t, int64(1_000), total)
	require.Equal(t, []int64{333, 333, 334}, []int64{items[0].Amount, items[1].Amount, items[2].Amount})
}

func TestBuildScheduleSingleMonth(t *testing.T) {
	items, total := BuildSchedule(120_000, 1_200, 1, time.Now())
	require.Len(t, items, 1)
	require.Equal(t, int64(1_200), items[0].Interest)
	require.Equal(t, int64(121_200), total)
}

type stores map[string]StoreInfo

func (s stores) StoreInfo(_ context.Context, id string) (StoreInfo, error) {
	info, ok := s[id]
	if !ok {
		return StoreInfo{}, ErrStoreInactive
	}
	return info, nil
}

func (s stores) StoresOwnedBy(_ context.Context, owner string) ([]string, error) {
	var out []string
	for id, info := range s {
		if info.OwnerID == owner {
			out = append(out, id)
		}
	}
	return out, nil
}

type credit struct{ available int64 }

func (c credit) Eligibility(context.Context, string) (creditscore.Eligibility, error) {
	return creditscore.Eligibility{Score: 720, Rating: creditscore.RatingGood, Available: c.available, Eligible: c.available > 0}, nil
}

// repoCredit derives availability from the borrower's open loans, the way
// the credit service does against the loans table.
type repoCredit struct {
	limit int64
	repo  Repository
}

func (c repoCredit) Eligibility(ctx context.Context, userID string) (creditscore.Eligibility, error) {
	open, err := c.repo.Find(ctx, Filter{UserID: userID, Statuses: []string{StatusPending, StatusApproved, StatusActive}})
	if err != nil {
		return creditscore.Eligibility{}, err
	}
	available := c.limit
	for _, l := range open {
		available -= l.Principal
	}
	return creditscore.Eligibility{Score: 700, Rating: creditscore.RatingGood, Available: available, Eligible: available > 0}, nil
}

type hookOrder struct {
	userID, storeID string
	total           int64
}

type orderHook struct {
	orders   map[string]hookOrder
	approved map[string]string
	rejected []string
}

func (h *orderHook) Financeable(_ context.Context, orderID, userID, storeID string, amount int64) error {
	o, ok := h.orders[orderID]
	if !ok {
		return errors.New("no such order")
	}
	if o.userID != userID || o.storeID != storeID || o.total != amount {
		return errors.New("order mismatch")
	}
	return nil
}

func (h *orderHook) LoanApproved(_ context.Context, orderID, loanID string) error {
	h.approved[orderID] = loanID
	return nil
}

func (h *orderHook) LoanRejected(_ context.Context, orderID, _ string) error {
	h.rejected = append(h.rejected, orderID)
	return nil
}

type env struct {
	svc     *Service
	ledger  ledger.Ledger
	wallets *wallet.Service
	hook    *orderHook
	inbox   notification.Inbox
	store   StoreInfo
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	led := ledger.NewInMemory()
	require.NoError(t, ledger.EnsureSystemAccounts(ctx, led))
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "KES")
	pay := payments.NewService(payments.NewMemoryRepository(), led, wallets, nil, nil, logging.Discard(), "KES")
	store := StoreInfo{ID: uuid.NewString(), OwnerID: uuid.NewString(), FeeBps: 300, Active: true}
	inbox := notification.NewMemoryInbox()
	svc := NewService(NewMemoryRepository(), led, pay, credit{available: 10_000_000}, stores{store.ID: store},
		notification.NewInboxNotifier(inbox), logging.Discard(), Config{
			MinAmount: 1_000, MaxAmount: 5_000_000, InterestBps: 1_200, DefaultAfterDays: 30, Currency: "KES",
		})
	hook := &orderHook{orders: map[string]hookOrder{}, approved: map[string]string{}}
	svc.SetOrderHook(hook)
	e := &env{svc: svc, ledger: led, wallets: wallets, hook: hook, inbox: inbox, store: store,
		now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return e.now }
	return e
}

func (e *env) apply(t *testing.T, user string, amount int64, term int) Loan {
	t.Helper()
	orderID := uuid.NewString()
	e.hook.orders[orderID] = hookOrder{userID: user, storeID: e.store.ID, total: amount}
	loan, err := e.svc.Apply(context.Background(), ApplyInput{UserID: user, StoreID: e.store.ID, OrderID: orderID, Amount: amount, TermMonths: term})
	require.NoError(t, err)
	return loan
}

func (e *env) owner() Actor { return Actor{UserID: e.store.OwnerID, Role: "merchant"} }

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		from   time.Time
		months int
		want   time.Time
	}{
		{jan31, 1, time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)},
		{jan31, 2, time.Date(2026, 3, 31, 9, 30, 0, 0, time.UTC)},
		{jan31, 3, time.Date(2026, 4, 30, 9, 30, 0, 0, time.UTC)},
		{time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 12, time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, AddMonths(tc.from, tc.months), "%s + %d", tc.from, tc.months)
	}

	items, _ := BuildSchedule(90_000, 1_200, 3, jan31)
	require.Len(t, items, 3)
	for i, in := range items {
		require.Equal(t, 9, in.DueDate.Hour())
		if i > 0 {
			require.True(t, in.DueDate.After(items[i-1].DueDate))
		}
	}
	require.Equal(t, time.February, items[0].DueDate.Month())
	require.Equal(t, time.March, items[1].DueDate.Month())
	require.Equal(t, time.April, items[2].DueDate.Month())
}

func TestApplyValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.NewString()

	_, err := e.svc.Apply(ctx, ApplyInput{UserID: user, StoreID: e.store.ID, Amount: 500, TermMonths: 3})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.svc.Apply(ctx, ApplyInput{UserID: user, StoreID: e.store.ID, Amount: 10_000, TermMonths: 2})
	require.ErrorIs(t, err, ErrInvalidTerm)

	e.svc.credit = credit{available: 5_000}
	_, err = e.svc.Apply(ctx, ApplyInput{UserID: user, StoreID: e.store.ID, Amount: 10_000, TermMonths: 3})
	require.ErrorIs(t, err, ErrNotEligible)

	e.svc.credit = credit{available: 1_000_000}
	loan := e.apply(t, user, 10_000, 3)
	require.Equal(t, StatusPending, loan.Status)
	require.Equal(t, 720, loan.CreditScore)
	require.Greater(t, loan.TotalRepayable, loan.Principal)
	require.Zero(t, loan.Outstanding)
}

func TestApplyRejectsOrderItCannotFinance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, mallory := uuid.NewString(), uuid.NewString()
	orderID := uuid.NewString()
	e.hook.orders[orderID] = hookOrder{userID: alice, storeID: e.store.ID, total: 50_000}

	_, err := e.svc.Apply(ctx, ApplyInput{UserID: mallory, StoreID: e.store.ID, OrderID: orderID, Amount: 50_000, TermMonths: 3})
	require.ErrorIs(t, err, ErrOrderMismatch)
	_, err = e.svc.Apply(ctx, ApplyInput{UserID: alice, StoreID: e.store.ID, OrderID: orderID, Amount: 1_000, TermMonths: 3})
	require.ErrorIs(t, err, ErrOrderMismatch)
	_, err = e.svc.Apply(ctx, ApplyInput{UserID: alice, StoreID: e.store.ID, OrderID: uuid.NewString(), Amount: 50_000, TermMonths: 3})
	require.ErrorIs(t, err, ErrOrderMismatch)

	loans, err := e.svc.repo.Find(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, loans)

	e.svc.SetOrderHook(nil)
	_, err = e.svc.Apply(ctx, ApplyInput{UserID: alice, StoreID: e.store.ID, OrderID: orderID, Amount: 50_000, TermMonths: 3})
	require.ErrorIs(t, err, ErrOrderMismatch)
}

func TestConcurrentApplicationsStayWithinLimit(t *testing.T) {
	e := newEnv(t)
	e.svc.credit = repoCredit{limit: 100_000, repo: e.svc.repo}
	user := uuid.NewString()

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Apply(context.Background(), ApplyInput{UserID: user, StoreID: e.store.ID, Amount: 30_000, TermMonths: 3})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNotEligible) {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, accepted)
	open, err := e.svc.repo.Find(context.Background(), Filter{UserID: user})
	require.NoError(t, err)
	var principal int64
	for _, l := range open {
		principal += l.Principal
	}
	require.LessOrEqual(t, principal, int64(100_000))
}

func TestApproveDisbursesNetOfFee(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	loan := e.apply(t, uuid.NewString(), 100_000, 3)

	_, err := e.svc.Approve(ctx, loan.ID, Actor{UserID: uuid.NewString(), Role: "merchant"})
	require.ErrorIs(t, err, ErrForbidden)

	approved, err := e.svc.Approve(ctx, loan.ID, e.owner())
	require.NoError(t, err)
	require.Equal(t, StatusActive, approved.Status)
	require.Len(t, approved.Installments, 3)
	require.Equal(t, approved.TotalRepayable, approved.Outstanding)
	require.Equal(t, approved.Installments[2].DueDate, *approved.DueDate)
	require.Equal(t, loan.ID, e.hook.approved[loan.OrderID])

	merchantBal, _ := e.ledger.Balance(ctx, ledger.MerchantAccount(e.store.ID))
	revenue, _ := e.ledger.Balance(ctx, ledger.PlatformRevenueAccount)
	credit, _ := e.ledger.Balance(ctx, ledger.PlatformCreditAccount)
	require.Equal(t, int64(97_000), merchantBal)
	require.Equal(t, int64(3_000), revenue)
	require.Equal(t, int64(-100_000), credit)

	_, err = e.svc.Approve(ctx, loan.ID, Actor{UserID: "admin", Role: "admin"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectReleasesOrder(t *testing.T) {
	e := newEnv(t)
	loan := e.apply(t, uuid.NewString(), 20_000, 1)
	rejected, err := e.svc.Reject(context.Background(), loan.ID, Actor{UserID: "admin", Role: "admin"}, "")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.NotEmpty(t, rejected.RejectionReason)
	require.Equal(t, []string{loan.OrderID}, e.hook.rejected)
}

func TestRepayAllocatesOldestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.NewString()
	loan := e.apply(t, user, 90_000, 3)
	loan, err := e.svc.Approve(ctx, loan.ID, e.owner())
	require.NoError(t, err)

	first := loan.Installments[0].Amount
	res, err := e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: first + 100, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "254712345678"}, ClientTxID: "repay-1"})
	require.NoError(t, err)
	require.Equal(t, InstallmentPaid, res.Loan.Installments[0].Status)
	require.Equal(t, int64(100), res.Loan.Installments[1].Paid)
	require.Equal(t, InstallmentPending, res.Loan.Installments[1].Status)
	require.Equal(t, loan.TotalRepayable-first-100, res.Loan.Outstanding)

	again, err := e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: first + 100, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "254712345678"}, ClientTxID: "repay-1"})
	require.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
	require.Equal(t, res.Repayment.ID, again.Repayment.ID)
	stored, _ := e.svc.Get(ctx, user, loan.ID)
	require.Equal(t, res.Loan.Outstanding, stored.Outstanding)
	require.Len(t, stored.Repayments, 1)

	_, err = e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: stored.Outstanding + 1, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "254712345678"}})
	require.ErrorIs(t, err, ErrOverpayment)

	_, err = e.svc.Repay(ctx, RepayInput{UserID: uuid.NewString(), LoanID: loan.ID, Amount: 10, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "254712345678"}})
	require.ErrorIs(t, err, ErrNotFound)

	final, err := e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: stored.Outstanding, Method: payments.MethodMpesa,
		Details: payments.Details{Phone: "254712345678"}})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, final.Loan.Status)
	require.NotNil(t, final.Loan.RepaidAt)
	for _, in := range final.Loan.Installments {
		require.Equal(t, InstallmentPaid, in.Status)
	}

	credit, _ := e.ledger.Balance(ctx, ledger.PlatformCreditAccount)
	require.Equal(t, loan.TotalRepayable-loan.Principal, credit)

	stats, err := e.svc.LoanStats(ctx, user)
	require.NoError(t, err)
	require.Equal(t, creditscore.LoanStats{Total: 1, Paid: 1}, stats)

	items, _, _ := e.inbox.List(ctx, user, false, httpx.NewPage(1, 50))
	var paidOff bool
	for _, n := range items {
		if n.Kind == notification.KindLoanPaidOff {
			paidOff = true
		}
	}
	require.True(t, paidOff)
}

func TestRepayFromWalletNeedsFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.NewString()
	loan := e.apply(t, user, 30_000, 1)
	_, err := e.svc.Approve(ctx, loan.ID, e.owner())
	require.NoError(t, err)

	w, err := e.wallets.EnsureForOwner(ctx, user)
	require.NoError(t, err)
	_, err = e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: 10_000, Method: payments.MethodWallet})
	require.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

	ledger.SeedBalance(e.ledger, w.AccountCode, 50_000)
	res, err := e.svc.Repay(ctx, RepayInput{UserID: user, LoanID: loan.ID, Amount: 10_000, Method: payments.MethodWallet})
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.Loan.Status)
	bal, _ := e.ledger.Balance(ctx, w.AccountCode)
	require.Equal(t, int64(40_000), bal)
}

func TestMarkOverdueThenDefault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.NewString()
	loan := e.apply(t, user, 60_000, 3)
	loan, err := e.svc.Approve(ctx, loan.ID, e.owner())
	require.NoError(t, err)

	report, err := e.svc.MarkOverdue(ctx, loan.Installments[0].DueDate.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, OverdueReport{}, report)

	report, err = e.svc.MarkOverdue(ctx, loan.Installments[0].DueDate.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, OverdueReport{Overdue: 1}, report)
	got, _ := e.svc.Get(ctx, user, loan.ID)
	require.Equal(t, InstallmentOverdue, got.Installments[0].Status)
	require.Equal(t, StatusActive, got.Status)

	report, err = e.svc.MarkOverdue(ctx, loan.Installments[0].DueDate.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, OverdueReport{}, report)

	report, err = e.svc.MarkOverdue(ctx, loan.Installments[0].DueDate.Add(31*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, report.Defaulted)
	got, _ = e.svc.Get(ctx, user, loan.ID)
	require.Equal(t, StatusDefaulted, got.Status)
	require.NotNil(t, got.DefaultedAt)

	_, err = e.svc.Apply(ctx, ApplyInput{UserID: user, StoreID: e.store.ID, Amount: 5_000, TermMonths: 1})
	require.ErrorIs(t, err, ErrHasDefault)

	stats, err := e.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByStatus[StatusDefaulted])
	require.Equal(t, 1.0, stats.DefaultRate)
	require.Equal(t, int64(60_000), stats.Disbursed)

	schedule, err := e.svc.UpcomingSchedule(ctx, user)
	require.NoError(t, err)
	require.Len(t, schedule, 3)
	require.True(t, schedule[0].DueDate.Before(schedule[1].DueDate))
}

func TestListForOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.apply(t, uuid.NewString(), 10_000, 1)
	e.apply(t, uuid.NewString(), 20_000, 3)

	items, total, err := e.svc.ListForOwner(ctx, e.store.OwnerID, "", httpx.NewPage(1, 1))
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 1)

	_, total, err = e.svc.ListForOwner(ctx, uuid.NewString(), "", httpx.NewPage(1, 10))
	require.NoError(t, err)
	require.Zero(t, total)
}
