package wallet

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")
	// ErrExists rejects a second wallet for the same owner.
	ErrExists = errors.New("wallet already exists")
)

// Wallet represents a stored value account backed by the ledger.
type Wallet struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	AccountCode string    `json:"account_code"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string    `json:"wallet_id"`
	Amount   int64     `json:"balance"`
	Currency string    `json:"currency"`
	AsOf     time.Time `json:"as_of"`
}
