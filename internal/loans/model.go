// Package loans owns the BNPL loan lifecycle: application, approval and
// disbursal, repayment allocation and overdue handling.
package loans

import (
	"errors"
	"time"
)

// Loan statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusActive    = "active"
	StatusPaid      = "paid"
	StatusDefaulted = "defaulted"
	StatusRejected  = "rejected"
)

// Installment statuses.
const (
	InstallmentPending = "pending"
	InstallmentPaid    = "paid"
	InstallmentOverdue = "overdue"
)

// Terms lists the repayment terms offered, in months.
var Terms = []int{1, 3, 6, 12}

var (
	ErrNotFound      = errors.New("loan not found")
	ErrInvalidAmount = errors.New("loan amount out of range")
	ErrInvalidTerm   = errors.New("term must be 1, 3, 6 or 12 months")
	ErrNotEligible   = errors.New("amount exceeds available credit")
	ErrHasDefault    = errors.New("borrower has a defaulted loan")
	ErrInvalidState  = errors.New("loan is not in a valid state for this operation")
	ErrForbidden     = errors.New("not allowed to act on this loan")
	ErrOverpayment   = errors.New("amount exceeds outstanding balance")
	ErrStoreInactive = errors.New("store is not accepting financing")
	ErrConflict      = errors.New("loan was modified concurrently")
	ErrOrderMismatch = errors.New("order cannot be financed by this application")
)

// Loan is a BNPL credit line tied to a store and optionally an order.
type Loan struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	StoreID         string        `json:"store_id"`
	OrderID         string        `json:"order_id,omitempty"`
	Principal       int64         `json:"principal"`
	InterestBps     int           `json:"interest_bps"`
	TermMonths      int           `json:"term_months"`
	TotalRepayable  int64         `json:"total_repayable"`
	Outstanding     int64         `json:"outstanding"`
	Status          string        `json:"status"`
	Purpose         string        `json:"purpose,omitempty"`
	CreditScore     int           `json:"credit_score"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	AppliedAt       time.Time     `json:"applied_at"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty"`
	DisbursedAt     *time.Time    `json:"disbursed_at,omitempty"`
	RepaidAt        *time.Time    `json:"repaid_at,omitempty"`
	DefaultedAt     *time.Time    `json:"defaulted_at,omitempty"`
	DueDate         *time.Time    `json:"due_date,omitempty"`
	Installments    []Installment `json:"installments,omitempty"`
	Repayments      []Repayment   `json:"repayments,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int           `json:"-"`
}

// Installment is one scheduled monthly payment.
type Installment struct {
	Seq       int        `json:"seq"`
	DueDate   time.Time  `json:"due_date"`
	Principal int64      `json:"principal"`
	Interest  int64      `json:"interest"`
	Amount    int64      `json:"amount"`
	Paid      int64      `json:"paid"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// Remaining is what is still owed on the installment.
func (i Installment) Remaining() int64 { return i.Amount - i.Paid }

// Repayment is money applied to a loan.
type Repayment struct {
	ID        string    `json:"id"`
	LoanID    string    `json:"loan_id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows loan listings. Empty fields match everything.
type Filter struct {
	UserID   string
	StoreIDs []string
	Statuses []string
}

// Stats aggregates the loan book.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	Disbursed   int64          `json:"total_disbursed"`
	Outstanding int64          `json:"total_outstanding"`
	Repaid      int64          `json:"total_repaid"`
	DefaultRate float64        `json:"default_rate"`
}

// ScheduleItem is an unpaid installment in a borrower's upcoming schedule.
type ScheduleItem struct {
	LoanID  string `json:"loan_id"`
	StoreID string `json:"store_id"`
	Installment
}

func validTerm(months int) bool {
	for _, t := range Terms {
		if t == months {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
