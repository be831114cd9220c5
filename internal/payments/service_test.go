package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/wallet"
)

type decliningGateway struct{ StaticGateway }

func (decliningGateway) Charge(context.Context, ChargeRequest) (Decision, error) {
	return Decision{Approved: false, Reason: "do not honour"}, nil
}

// countingGateway approves everything and counts provider calls.
type countingGateway struct {
	charges atomic.Int32
	payouts atomic.Int32
}

func (g *countingGateway) Charge(ctx context.Context, req ChargeRequest) (Decision, error) {
	g.charges.Add(1)
	return StaticGateway{}.Charge(ctx, req)
}

func (g *countingGateway) Payout(ctx context.Context, req PayoutRequest) (Decision, error) {
	g.payouts.Add(1)
	return StaticGateway{}.Payout(ctx, req)
}

func newTestService(t *testing.T, gw Gateway) (*Service, ledger.Ledger, *wallet.Service, notification.Inbox) {
	t.Helper()
	led := ledger.NewInMemory()
	if err := ledger.EnsureSystemAccounts(context.Background(), led); err != nil {
		t.Fatalf("system accounts: %v", err)
	}
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led, "KES")
	inbox := notification.NewMemoryInbox()
	svc := NewService(NewMemoryRepository(), led, wallets, gw, notification.NewInboxNotifier(inbox), logging.Discard(), "KES")
	return svc, led, wallets, inbox
}

func TestTopUpMpesaCreditsWallet(t *testing.T) {
	svc, led, wallets, inbox := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.NewString()

	p, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: MethodMpesa, Amount: 5_000, Details: Details{Phone: "+254712345678"}, ClientTxID: "tx-1"})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if p.Status != StatusCompleted || p.Purpose != PurposeWalletTopUp {
		t.Fatalf("unexpected payment %+v", p)
	}
	w, _ := wallets.GetByOwner(ctx, user)
	if bal, _ := led.Balance(ctx, w.AccountCode); bal != 5_000 {
		t.Fatalf("expected wallet balance 5000, got %d", bal)
	}
	if bal, _ := led.Balance(ctx, ledger.SuspenseAccount(ledger.RailMpesa)); bal != -5_000 {
		t.Fatalf("expected mpesa suspense -5000, got %d", bal)
	}

	items, _, _ := inbox.List(ctx, user, false, httpx.NewPage(1, 10))
	if len(items) != 1 || items[0].Kind != notification.KindPayment {
		t.Fatalf("expected a payment notification, got %+v", items)
	}
}

func TestCollectDuplicateClientTxReturnsOriginal(t *testing.T) {
	svc, led, wallets, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.NewString()

	first, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: MethodCard, Amount: 1_000, Details: Details{CardNumber: "4111 1111 1111 1111"}, ClientTxID: "dup"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: MethodCard, Amount: 1_000, Details: Details{CardNumber: "4111 1111 1111 1111"}, ClientTxID: "dup"})
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected original payment %s, got %s", first.ID, second.ID)
	}
	w, _ := wallets.GetByOwner(ctx, user)
	if bal, _ := led.Balance(ctx, w.AccountCode); bal != 1_000 {
		t.Fatalf("expected single credit, got %d", bal)
	}
}

func TestCollectValidatesDetails(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.NewString()

	cases := []struct {
		method  string
		details Details
	}{
		{MethodMpesa, Details{Phone: "0712345678"}},
		{MethodBankTransfer, Details{AccountNumber: "12345678"}},
		{MethodCrypto, Details{TxHash: "0x1234", Network: "base"}},
		{MethodCrypto, Details{TxHash: "0x" + strings.Repeat("ab", 32)}},
		{MethodCard, Details{CardNumber: "4111111111111112"}},
	}
	for _, tc := range cases {
		_, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: tc.method, Amount: 100, Details: tc.details})
		if !errors.Is(err, ErrInvalidDetails) {
			t.Fatalf("%s %+v: expected ErrInvalidDetails, got %v", tc.method, tc.details, err)
		}
	}
}

func TestWalletPaymentNeedsFunds(t *testing.T) {
	svc, led, wallets, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.NewString()
	w, err := wallets.EnsureForOwner(ctx, user)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}

	in := CollectInput{UserID: user, Method: MethodWallet, Purpose: PurposeLoanRepayment, Destination: ledger.PlatformCreditAccount, Amount: 700}
	if _, err := svc.Collect(ctx, in); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	ledger.SeedBalance(led, w.AccountCode, 1_000)
	if _, err := svc.Collect(ctx, in); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if bal, _ := led.Balance(ctx, w.AccountCode); bal != 300 {
		t.Fatalf("expected 300 left, got %d", bal)
	}
}

func TestDeclinedChargeLeavesLedgerUntouched(t *testing.T) {
	svc, led, wallets, _ := newTestService(t, decliningGateway{})
	ctx := context.Background()
	user := uuid.NewString()

	_, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: MethodMpesa, Amount: 500, Details: Details{Phone: "254712345678"}})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	w, _ := wallets.GetByOwner(ctx, user)
	if bal, _ := led.Balance(ctx, w.AccountCode); bal != 0 {
		t.Fatalf("expected untouched wallet, got %d", bal)
	}
	items, _ := svc.Recent(ctx, user, 5)
	if len(items) != 0 {
		t.Fatalf("expected no recorded payments, got %d", len(items))
	}
}

func TestDisburseThroughPayoutRail(t *testing.T) {
	svc, led, _, _ := newTestService(t, nil)
	ctx := context.Background()
	account := ledger.MerchantAccount(uuid.NewString())
	if err := led.EnsureAccount(ctx, account); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, err := svc.Disburse(ctx, DisburseInput{Source: account, Amount: 100}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	ledger.SeedBalance(led, account, 2_000)
	res, err := svc.Disburse(ctx, DisburseInput{Source: account, Amount: 1_500, Destination: "bank:001:123456"})
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if res.SourceBalance != 500 || res.ProviderReference == "" {
		t.Fatalf("unexpected disbursement %+v", res)
	}
}

func TestDisburseReplayPaysOnce(t *testing.T) {
	gw := &countingGateway{}
	svc, led, _, _ := newTestService(t, gw)
	ctx := context.Background()
	account := ledger.MerchantAccount(uuid.NewString())
	if err := led.EnsureAccount(ctx, account); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ledger.SeedBalance(led, account, 5_000)

	in := DisburseInput{Source: account, Amount: 1_500, Destination: "bank:001:123456", ClientTxID: "settlement:s:1"}
	first, err := svc.Disburse(ctx, in)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Disburse(ctx, in)
			if !errors.Is(err, ledger.ErrDuplicateTransaction) {
				t.Errorf("expected duplicate, got %v", err)
			}
			if res.TransactionID != first.TransactionID {
				t.Errorf("replay returned transaction %s, want %s", res.TransactionID, first.TransactionID)
			}
		}()
	}
	wg.Wait()

	if n := gw.payouts.Load(); n != 1 {
		t.Fatalf("expected one payout, got %d", n)
	}
	if bal, _ := led.Balance(ctx, account); bal != 3_500 {
		t.Fatalf("expected balance 3500, got %d", bal)
	}
}

func TestCollectReplayChargesOnce(t *testing.T) {
	gw := &countingGateway{}
	svc, _, _, _ := newTestService(t, gw)
	ctx := context.Background()
	user := uuid.NewString()
	in := TopUpInput{UserID: user, Method: MethodMpesa, Amount: 2_000, Details: Details{Phone: "254712345678"}, ClientTxID: "topup-7"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.TopUp(ctx, in)
			if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
				t.Errorf("top up: %v", err)
				return
			}
			mu.Lock()
			ids[p.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if n := gw.charges.Load(); n != 1 {
		t.Fatalf("expected one charge, got %d", n)
	}
	if len(ids) != 1 {
		t.Fatalf("expected every replay to return the same payment, got %v", ids)
	}
}

func TestCollectRecordsEarlierPostingWithoutCharging(t *testing.T) {
	gw := &countingGateway{}
	svc, led, wallets, _ := newTestService(t, gw)
	ctx := context.Background()
	user := uuid.NewString()
	w, err := wallets.EnsureForOwner(ctx, user)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	// An earlier attempt was charged and posted but never recorded.
	if _, err := led.Inflow(ctx, ledger.RailMpesa, w.AccountCode, "topup-9", 3_000); err != nil {
		t.Fatalf("inflow: %v", err)
	}

	p, err := svc.TopUp(ctx, TopUpInput{UserID: user, Method: MethodMpesa, Amount: 3_000, Details: Details{Phone: "254712345678"}, ClientTxID: "topup-9"})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if gw.charges.Load() != 0 {
		t.Fatalf("payer was charged again")
	}
	if bal, _ := led.Balance(ctx, w.AccountCode); bal != 3_000 {
		t.Fatalf("expected wallet balance 3000, got %d", bal)
	}
	if got, err := svc.FindByClientTxID(ctx, "topup-9"); err != nil || got.ID != p.ID {
		t.Fatalf("expected recorded payment, got %+v, %v", got, err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(123_456); got != "1234.56" {
		t.Fatalf("expected 1234.56, got %s", got)
	}
	if got := FormatAmount(5); got != "0.05" {
		t.Fatalf("expected 0.05, got %s", got)
	}
}
