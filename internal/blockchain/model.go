// Package blockchain manages users' external wallets: verified connections,
// balances read over JSON-RPC or the Hedera mirror node, and tracked transactions.
package blockchain

import (
	"errors"
	"time"
)

// Transaction statuses.
const (
	TxPending = "pending"
	TxSuccess = "success"
	TxFailed  = "failed"
)

var (
	ErrUnknownNetwork    = errors.New("unsupported network")
	ErrUnknownProvider   = errors.New("unsupported wallet provider")
	ErrProviderNetwork   = errors.New("wallet provider does not support this network")
	ErrInvalidAddress    = errors.New("invalid address for network")
	ErrAddressMismatch   = errors.New("signed message is for a different address")
	ErrChainMismatch     = errors.New("signed message is for a different chain")
	ErrSignatureRequired = errors.New("message and signature are required for evm wallets")
	ErrAlreadyConnected  = errors.New("wallet already connected")
	ErrNotFound          = errors.New("wallet connection not found")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrInvalidTxHash     = errors.New("invalid transaction hash")
	ErrTxTracked         = errors.New("transaction already tracked")
	ErrInvalidValue      = errors.New("value must be a non-negative number")
	ErrUnavailable       = errors.New("network unavailable")
)

// Connection is a wallet linked to a user.
type Connection struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Provider   string     `json:"provider"`
	Network    string     `json:"network"`
	ChainID    int64      `json:"chain_id"`
	Address    string     `json:"address"`
	IsPrimary  bool       `json:"is_primary"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Verified reports whether ownership of the address was proven by signature.
func (c Connection) Verified() bool { return c.VerifiedAt != nil }

// Transaction is an on-chain transaction the user asked us to track. From is
// replaced by the sender the chain reports; SenderVerified marks senders that
// are one of the user's signature-verified wallets, and only those
// transactions count towards credit scoring.
type Transaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Network        string    `json:"network"`
	Hash           string    `json:"hash"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Value          string    `json:"value"`
	Status         string    `json:"status"`
	SenderVerified bool      `json:"sender_verified"`
	BlockNumber    *int64    `json:"block_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Balance is a native-currency balance in display units.
type Balance struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Currency string `json:"currency"`
	// Raw is the balance in the smallest unit (wei, tinybar).
	Raw     string `json:"raw"`
	Balance string `json:"balance"`
}
