package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting references an unknown account code.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when no posting carries the client transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// StatusPendingSettlement marks rail postings awaiting confirmation from the provider.
	StatusPendingSettlement = "pending_settlement"
	// StatusCompleted represents a settled transaction.
	StatusCompleted = "completed"
)

// Rails through which money enters or leaves the platform.
const (
	RailMpesa  = "mpesa"
	RailBank   = "bank"
	RailCard   = "card"
	RailCrypto = "crypto"
	RailPayout = "payout"
)

// Platform-owned accounts. System accounts may carry a negative balance.
const (
	PlatformCreditAccount  = "platform:credit"
	PlatformRevenueAccount = "platform:revenue"
	PlatformRewardsAccount = "platform:rewards"
)

// Rails lists every rail with a suspense account.
var Rails = []string{RailMpesa, RailBank, RailCard, RailCrypto, RailPayout}

// SuspenseAccount returns the account code used to park postings for a rail until settlement.
func SuspenseAccount(rail string) string {
	return "suspense:" + rail
}

// WalletAccount is the account code for a customer stored-value wallet.
func WalletAccount(walletID string) string { return "wallet:" + walletID }

// MerchantAccount is the account code holding a store's unsettled proceeds.
func MerchantAccount(storeID string) string { return "merchant:" + storeID }

// PoolAccount is the account code for a staking pool.
func PoolAccount(poolID string) string { return "pool:" + poolID }

// IsSystemAccount reports whether code is a platform or suspense account.
func IsSystemAccount(code string) bool {
	return strings.HasPrefix(code, "platform:") || strings.HasPrefix(code, "suspense:")
}

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// FundingResult captures the outcome of a rail inflow or outflow.
type FundingResult struct {
	TransactionID  string
	AccountBalance int64
	Status         string
}

// Entry is one leg of a posting as seen from a single account.
type Entry struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
	// Inflow credits code with money arriving through rail, debiting the rail suspense account.
	Inflow(ctx context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error)
	// Outflow debits code for money leaving through rail, crediting the rail suspense account.
	Outflow(ctx context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error)
	// FindInflow and FindOutflow return a rail posting made earlier under
	// clientTxID, or ErrTransactionNotFound.
	FindInflow(ctx context.Context, rail, code, clientTxID string) (FundingResult, error)
	FindOutflow(ctx context.Context, rail, code, clientTxID string) (FundingResult, error)
	History(ctx context.Context, code string, limit int) ([]Entry, error)
}

// EnsureSystemAccounts provisions platform and rail suspense accounts.
func EnsureSystemAccounts(ctx context.Context, l Ledger) error {
	codes := []string{PlatformCreditAccount, PlatformRevenueAccount, PlatformRewardsAccount}
	for _, rail := range Rails {
		codes = append(codes, SuspenseAccount(rail))
	}
	for _, code := range codes {
		if err := l.EnsureAccount(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func inflowKind(rail string) string  { return rail + "_in" }
func outflowKind(rail string) string { return rail + "_out" }
