package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryLedger_TransferMaintainsBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if err := l.EnsureAccount(ctx, "wallet:a"); err != nil {
		t.Fatalf("ensure account a: %v", err)
	}
	if err := l.EnsureAccount(ctx, "wallet:b"); err != nil {
		t.Fatalf("ensure account b: %v", err)
	}

	SeedBalance(l, "wallet:a", 10_000)

	res, err := l.Transfer(ctx, "wallet:a", "wallet:b", "order", "client-1", 1_500)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if res.FromBalance != 8_500 {
		t.Fatalf("expected from balance 8500, got %d", res.FromBalance)
	}
	if res.ToBalance != 1_500 {
		t.Fatalf("expected to balance 1500, got %d", res.ToBalance)
	}

	if total := l.(*inMemoryLedger).sum(); total != 0 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestInMemoryLedger_DuplicateTransaction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")
	l.EnsureAccount(ctx, "wallet:b")
	SeedBalance(l, "wallet:a", 5_000)

	first, err := l.Transfer(ctx, "wallet:a", "wallet:b", "order", "dup", 500)
	if err != nil {
		t.Fatalf("initial transfer failed: %v", err)
	}
	again, err := l.Transfer(ctx, "wallet:a", "wallet:b", "order", "dup", 500)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if again.TransactionID != first.TransactionID || again.FromBalance != 4_500 {
		t.Fatalf("expected original result on replay, got %+v", again)
	}
}

func TestInMemoryLedger_SystemAccountsMayGoNegative(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if err := EnsureSystemAccounts(ctx, l); err != nil {
		t.Fatalf("ensure system accounts: %v", err)
	}
	l.EnsureAccount(ctx, MerchantAccount("store-1"))

	if _, err := l.Transfer(ctx, PlatformCreditAccount, MerchantAccount("store-1"), "loan_disbursal", "loan-1", 9_700); err != nil {
		t.Fatalf("disbursal from platform credit: %v", err)
	}
	bal, _ := l.Balance(ctx, PlatformCreditAccount)
	if bal != -9_700 {
		t.Fatalf("expected platform credit -9700, got %d", bal)
	}

	if _, err := l.Transfer(ctx, MerchantAccount("store-1"), PlatformRevenueAccount, "fee", "fee-1", 10_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected merchant account to be bounded, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentTransfers(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")
	l.EnsureAccount(ctx, "wallet:b")
	SeedBalance(l, "wallet:a", 100_000)

	const workers = 10
	const amount = int64(500)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := fmt.Sprintf("tx-%d", i)
			if _, err := l.Transfer(ctx, "wallet:a", "wallet:b", "order", txID, amount); err != nil {
				t.Errorf("transfer %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	b, _ := l.Balance(ctx, "wallet:b")
	if b != workers*amount {
		t.Fatalf("expected wallet:b %d, got %d", workers*amount, b)
	}
	if total := l.(*inMemoryLedger).sum(); total != 0 {
		t.Fatalf("ledger not balanced after concurrency, total=%d", total)
	}
}

func TestInMemoryLedger_Inflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")

	res, err := l.Inflow(ctx, RailMpesa, "wallet:a", "client-mpesa-in", 2_000)
	if err != nil {
		t.Fatalf("inflow failed: %v", err)
	}
	if res.Status != StatusPendingSettlement {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if res.AccountBalance != 2_000 {
		t.Fatalf("expected wallet balance 2000, got %d", res.AccountBalance)
	}
	suspense, _ := l.Balance(ctx, SuspenseAccount(RailMpesa))
	if suspense != -2_000 {
		t.Fatalf("expected suspense -2000, got %d", suspense)
	}

	if _, err := l.Inflow(ctx, RailMpesa, "wallet:a", "client-mpesa-in", 2_000); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate inflow error, got %v", err)
	}
}

func TestInMemoryLedger_Outflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "merchant:s")
	SeedBalance(l, "merchant:s", 5_000)

	res, err := l.Outflow(ctx, RailPayout, "merchant:s", "payout-1", 1_500)
	if err != nil {
		t.Fatalf("outflow failed: %v", err)
	}
	if res.AccountBalance != 3_500 {
		t.Fatalf("expected balance 3500, got %d", res.AccountBalance)
	}

	if _, err := l.Outflow(ctx, RailPayout, "merchant:s", "payout-1", 1_500); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate outflow error, got %v", err)
	}
	if _, err := l.Outflow(ctx, RailPayout, "merchant:s", "payout-2", 10_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestInMemoryLedger_FindFunding(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "merchant:s")
	SeedBalance(l, "merchant:s", 5_000)

	if _, err := l.FindOutflow(ctx, RailPayout, "merchant:s", "payout-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found before posting, got %v", err)
	}
	posted, err := l.Outflow(ctx, RailPayout, "merchant:s", "payout-1", 2_000)
	if err != nil {
		t.Fatalf("outflow failed: %v", err)
	}
	found, err := l.FindOutflow(ctx, RailPayout, "merchant:s", "payout-1")
	if err != nil {
		t.Fatalf("find outflow: %v", err)
	}
	if found.TransactionID != posted.TransactionID || found.AccountBalance != 3_000 {
		t.Fatalf("unexpected lookup %+v", found)
	}
	if _, err := l.FindInflow(ctx, RailPayout, "merchant:s", "payout-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("an outflow must not match an inflow lookup, got %v", err)
	}
}

func TestInMemoryLedger_HistoryNewestFirst(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")
	l.Inflow(ctx, RailCard, "wallet:a", "one", 100)
	l.Inflow(ctx, RailCard, "wallet:a", "two", 200)
	l.Inflow(ctx, RailCard, "wallet:a", "three", 300)

	entries, err := l.History(ctx, "wallet:a", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Amount != 300 || entries[1].Amount != 200 {
		t.Fatalf("expected newest first, got %+v", entries)
	}
	if entries[0].Kind != "card_in" {
		t.Fatalf("expected card_in kind, got %s", entries[0].Kind)
	}
}
