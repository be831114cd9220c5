package payments

import (
	"errors"
	"time"

	"github.com/kelo-pay/kelo/internal/ledger"
)

// Payment methods.
const (
	MethodMpesa        = "mpesa"
	MethodBankTransfer = "bank_transfer"
	MethodCrypto       = "crypto"
	MethodCard         = "card"
	MethodWallet       = "wallet"
)

// Payment purposes.
const (
	PurposeLoanRepayment = "loan_repayment"
	PurposeWalletTopUp   = "wallet_topup"
	PurposeOrder         = "order"
)

// Payment statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	ErrInvalidMethod  = errors.New("unsupported payment method")
	ErrInvalidPurpose = errors.New("unsupported payment purpose")
	ErrInvalidDetails = errors.New("invalid payment details")
	ErrDeclined       = errors.New("payment declined by provider")
	ErrNotFound       = errors.New("payment not found")
)

// Payment is a recorded collection of money from a user.
type Payment struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Method            string    `json:"method"`
	Purpose           string    `json:"purpose"`
	ReferenceID       string    `json:"reference_id,omitempty"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	TxHash            string    `json:"tx_hash,omitempty"`
	ClientTxID        string    `json:"client_tx_id"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Details carries the method-specific fields of a payment instruction.
type Details struct {
	Phone         string `json:"phone,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Network       string `json:"network,omitempty"`
	CardNumber    string `json:"card_number,omitempty"`
	Expiry        string `json:"expiry,omitempty"`
	CVV           string `json:"cvv,omitempty"`
}

// ValidMethod reports whether m is a known payment method.
func ValidMethod(m string) bool {
	switch m {
	case MethodMpesa, MethodBankTransfer, MethodCrypto, MethodCard, MethodWallet:
		return true
	}
	return false
}

func validPurpose(p string) bool {
	switch p {
	case PurposeLoanRepayment, PurposeWalletTopUp, PurposeOrder:
		return true
	}
	return false
}

// railFor maps an external payment method onto its ledger rail.
func railFor(method string) string {
	switch method {
	case MethodMpesa:
		return ledger.RailMpesa
	case MethodBankTransfer:
		return ledger.RailBank
	case MethodCrypto:
		return ledger.RailCrypto
	default:
		return ledger.RailCard
	}
}
