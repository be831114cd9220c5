package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/ledger"
)

const (
	statusActive       = "active"
	defaultHistorySize = 50
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	currency string
}

// NewService builds a wallet service instance. currency is applied to wallets created without one.
func NewService(repo Repository, ledger ledger.Ledger, currency string) *Service {
	return &Service{repo: repo, ledger: ledger, currency: currency}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and associated ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	walletID := uuid.New().String()
	accountCode := ledger.WalletAccount(walletID)
	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}

	wallet := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner returns the wallet held by a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// EnsureForOwner returns the owner's wallet, creating it on first use.
func (s *Service) EnsureForOwner(ctx context.Context, ownerID string) (Wallet, error) {
	w, err := s.repo.GetByOwner(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Wallet{}, err
	}
	w, err = s.Create(ctx, CreateInput{OwnerID: ownerID})
	if errors.Is(err, ErrExists) {
		return s.repo.GetByOwner(ctx, ownerID)
	}
	return w, err
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return s.balanceOf(ctx, wallet)
}

func (s *Service) balanceOf(ctx context.Context, wallet Wallet) (Balance, error) {
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, Currency: wallet.Currency, AsOf: time.Now().UTC()}, nil
}

// Transactions lists the most recent ledger entries posted to the wallet.
func (s *Service) Transactions(ctx context.Context, ownerID string, limit int) ([]ledger.Entry, error) {
	wallet, err := s.repo.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return s.ledger.History(ctx, wallet.AccountCode, limit)
}

// Summary is the wallet view returned to the owner.
type Summary struct {
	Wallet  Wallet  `json:"wallet"`
	Balance Balance `json:"balance"`
}

// SummaryFor returns the owner's wallet with its current balance.
func (s *Service) SummaryFor(ctx context.Context, ownerID string) (Summary, error) {
	wallet, err := s.EnsureForOwner(ctx, ownerID)
	if err != nil {
		return Summary{}, err
	}
	balance, err := s.balanceOf(ctx, wallet)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Wallet: wallet, Balance: balance}, nil
}
