// Package merchant manages stores, their product catalogue and payouts of
// store proceeds.
package merchant

import (
	"errors"
	"time"
)

// Store statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Integration types.
const (
	IntegrationIntegrated = "INTEGRATED"
	IntegrationPartner    = "PARTNER"
)

// Payout statuses.
const (
	PayoutCompleted = "completed"
	PayoutFailed    = "failed"
)

var (
	ErrNotFound          = errors.New("store not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrForbidden         = errors.New("not the owner of this store")
	ErrInvalidStore      = errors.New("invalid store")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidStatus     = errors.New("invalid store status")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBelowMinimum      = errors.New("amount is below the minimum payout")
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrStoreInactive     = errors.New("store is not active")
)

// Store is a merchant storefront.
type Store struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	LogoURL         string    `json:"logo_url,omitempty"`
	Status          string    `json:"status"`
	IntegrationType string    `json:"integration_type"`
	ExternalURL     string    `json:"external_url,omitempty"`
	FeeBps          int       `json:"fee_bps"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Product is an item sold by a store. Price is in minor units.
type Product struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payout moves store proceeds out of the platform.
type Payout struct {
	ID                string    `json:"id"`
	StoreID           string    `json:"store_id"`
	Amount            int64     `json:"amount"`
	Status            string    `json:"status"`
	Destination       string    `json:"destination"`
	SettlementID      string    `json:"settlement_id,omitempty"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	ClientTxID        string    `json:"client_tx_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// StoreFilter narrows store listings.
type StoreFilter struct {
	OwnerID  string
	Status   string
	Category string
	Search   string
}

// ProductFilter narrows product listings. ActiveOnly hides products of
// stores that are not active.
type ProductFilter struct {
	StoreID    string
	Category   string
	Search     string
	ActiveOnly bool
}

// StockChange adjusts a product's stock by Delta.
type StockChange struct {
	ProductID string
	Delta     int
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}
