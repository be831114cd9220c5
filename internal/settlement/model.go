// Package settlement pays merchants their accumulated proceeds once per period.
package settlement

import (
	"errors"
	"time"
)

// Settlement statuses.
const (
	StatusPaid   = "paid"
	StatusFailed = "failed"
)

var (
	ErrNotFound  = errors.New("settlement not found")
	ErrRunning   = errors.New("a settlement run is already in progress")
	ErrBadPeriod = errors.New("period end must not be in the future")
)

// Settlement records one store's payout for a period.
type Settlement struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	OrderCount  int       `json:"order_count"`
	Gross       int64     `json:"gross"`
	Fee         int64     `json:"fee"`
	// Net is the amount paid out: the store's ledger balance at settlement time,
	// which includes loan disbursements as well as order proceeds.
	Net       int64     `json:"net"`
	Status    string    `json:"status"`
	PayoutID  string    `json:"payout_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Report summarises a run.
type Report struct {
	PeriodEnd time.Time `json:"period_end"`
	Settled   int       `json:"settled"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	PaidOut   int64     `json:"paid_out"`
}

// Summary is a merchant's settlement position.
type Summary struct {
	PendingBalance int64       `json:"pending_balance"`
	TotalSettled   int64       `json:"total_settled"`
	Settlements    int         `json:"settlements"`
	Last           *Settlement `json:"last_settlement"`
}
