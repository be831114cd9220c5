// Package orders implements checkout: pay-in-full orders and BNPL orders
// financed by a loan.
package orders

import (
	"errors"
	"time"
)

// Order statuses.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFinanced  = "financed"
	StatusCancelled = "cancelled"
)

// Payment options.
const (
	OptionFull = "full"
	OptionBNPL = "bnpl"
)

var (
	ErrNotFound       = errors.New("order not found")
	ErrEmptyOrder     = errors.New("order has no items")
	ErrInvalidOption  = errors.New("payment option must be full or bnpl")
	ErrNotCancellable = errors.New("only pending orders can be cancelled")
	ErrStateChanged   = errors.New("order status changed concurrently")
)

// Order is a purchase at one store.
type Order struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	StoreID       string    `json:"store_id"`
	Items         []Item    `json:"items"`
	Total         int64     `json:"total"`
	Fee           int64     `json:"fee"`
	PaymentOption string    `json:"payment_option"`
	Status        string    `json:"status"`
	LoanID        string    `json:"loan_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Item is one order line, priced when the order was placed.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Query selects orders of a set of stores in [From, To).
type Query struct {
	StoreIDs []string
	Statuses []string
	From     time.Time
	To       time.Time
}

// ProductSales is a product's sales in an analytics window.
type ProductSales struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Revenue   int64  `json:"revenue"`
}

// Analytics summarises a merchant's sales.
type Analytics struct {
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	Revenue        int64          `json:"total_revenue"`
	Orders         int            `json:"sales_volume"`
	ItemsSold      int            `json:"items_sold"`
	TopProducts    []ProductSales `json:"top_products"`
	LoansFinanced  int            `json:"loans_financed"`
	FinancedAmount int64          `json:"financed_amount"`
}
