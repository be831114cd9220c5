package merchant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/payments"
)

// Disburser pays money out of a ledger account.
type Disburser interface {
	Disburse(ctx context.Context, in payments.DisburseInput) (payments.Disbursement, error)
}

// Config holds merchant defaults.
type Config struct {
	DefaultFeeBps int
	MinPayout     int64
	Currency      string
}

// Service manages stores, products and payouts.
type Service struct {
	repo     Repository
	ledger   ledger.Ledger
	payouts  Disburser
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService builds the merchant service.
func NewService(repo Repository, l ledger.Ledger, payouts Disburser, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{repo: repo, ledger: l, payouts: payouts, notifier: notifier, logger: logging.OrDiscard(logger), cfg: cfg, now: time.Now}
}

// StoreInput carries editable store fields.
type StoreInput struct {
	Name            string `json:"name" validate:"required,min=2,max=120"`
	Description     string `json:"description" validate:"max=2000"`
	Category        string `json:"category" validate:"max=60"`
	LogoURL         string `json:"logo_url" validate:"omitempty,url"`
	IntegrationType string `json:"integration_type" validate:"omitempty,oneof=INTEGRATED PARTNER"`
	ExternalURL     string `json:"external_url" validate:"omitempty,url"`
}

func (in *StoreInput) normalise() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStore)
	}
	if in.IntegrationType == "" {
		in.IntegrationType = IntegrationIntegrated
	}
	if in.IntegrationType == IntegrationPartner && in.ExternalURL == "" {
		return fmt.Errorf("%w: partner stores need an external_url", ErrInvalidStore)
	}
	return nil
}

// CreateStore opens a store for ownerID. It stays pending until an admin approves it.
func (s *Service) CreateStore(ctx context.Context, ownerID string, in StoreInput) (Store, error) {
	if err := in.normalise(); err != nil {
		return Store{}, err
	}
	now := s.now().UTC()
	store := Store{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Name:            in.Name,
		Description:     in.Description,
		Category:        in.Category,
		LogoURL:         in.LogoURL,
		Status:          StatusPending,
		IntegrationType: in.IntegrationType,
		ExternalURL:     in.ExternalURL,
		FeeBps:          s.cfg.DefaultFeeBps,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateStore(ctx, store); err != nil {
		return Store{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, ledger.MerchantAccount(store.ID)); err != nil {
		return Store{}, err
	}
	s.logger.Info("store created", slog.String("store_id", store.ID), slog.String("owner_id", ownerID))
	return store, nil
}

// UpdateStore edits a store owned by ownerID.
func (s *Service) UpdateStore(ctx context.Context, ownerID, storeID string, in StoreInput) (Store, error) {
	store, err := s.OwnedStore(ctx, ownerID, storeID)
	if err != nil {
		return Store{}, err
	}
	if err := in.normalise(); err != nil {
		return Store{}, err
	}
	store.Name = in.Name
	store.Description = in.Description
	store.Category = in.Category
	store.LogoURL = in.LogoURL
	store.IntegrationType = in.IntegrationType
	store.ExternalURL = in.ExternalURL
	store.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateStore(ctx, store); err != nil {
		return Store{}, err
	}
	return store, nil
}

// GetStore returns a store by id.
func (s *Service) GetStore(ctx context.Context, id string) (Store, error) {
	return s.repo.GetStore(ctx, id)
}

// OwnedStore returns the store when ownerID owns it.
func (s *Service) OwnedStore(ctx context.Context, ownerID, storeID string) (Store, error) {
	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return Store{}, err
	}
	if store.OwnerID != ownerID {
		return Store{}, ErrForbidden
	}
	return store, nil
}

// ListStores pages active stores for the public directory.
func (s *Service) ListStores(ctx context.Context, category, search string, p httpx.Page) ([]Store, int, error) {
	return s.repo.ListStores(ctx, StoreFilter{Status: StatusActive, Category: category, Search: search}, p)
}

// ListByOwner returns every store of a merchant.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Store, error) {
	return s.repo.AllStores(ctx, StoreFilter{OwnerID: ownerID})
}

// StoreIDsOwnedBy returns the ids of a merchant's stores.
func (s *Service) StoreIDsOwnedBy(ctx context.Context, ownerID string) ([]string, error) {
	stores, err := s.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stores))
	for _, st := range stores {
		ids = append(ids, st.ID)
	}
	return ids, nil
}

// ActiveStores lists every active store, oldest first.
func (s *Service) ActiveStores(ctx context.Context) ([]Store, error) {
	return s.repo.AllStores(ctx, StoreFilter{Status: StatusActive})
}

// AdminListStores pages stores for the admin console.
func (s *Service) AdminListStores(ctx context.Context, f StoreFilter, p httpx.Page) ([]Store, int, error) {
	return s.repo.ListStores(ctx, f, p)
}

// CountByStatus reports store counts per status.
func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repo.CountStoresByStatus(ctx)
}

// SetStatus approves or suspends a store and tells its owner.
func (s *Service) SetStatus(ctx context.Context, storeID, status string) (Store, error) {
	if !validStatus(status) {
		return Store{}, ErrInvalidStatus
	}
	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return Store{}, err
	}
	if store.Status == status {
		return store, nil
	}
	store.Status = status
	store.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateStore(ctx, store); err != nil {
		return Store{}, err
	}
	s.logger.Info("store status changed", slog.String("store_id", store.ID), slog.String("status", status))
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		UserID: store.OwnerID,
		Kind:   notification.KindStoreStatus,
		Title:  "Store status updated",
		Body:   fmt.Sprintf("%s is now %s.", store.Name, status),
	})
	return store, nil
}

// ProductInput carries editable product fields.
type ProductInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	Price       int64  `json:"price" validate:"gt=0"`
	Stock       int    `json:"stock" validate:"gte=0"`
	Category    string `json:"category" validate:"max=60"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
}

func (in ProductInput) check() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if in.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidProduct)
	}
	if in.Stock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidProduct)
	}
	return nil
}

// CreateProduct adds a product to a store owned by ownerID.
func (s *Service) CreateProduct(ctx context.Context, ownerID, storeID string, in ProductInput) (Product, error) {
	if _, err := s.OwnedStore(ctx, ownerID, storeID); err != nil {
		return Product{}, err
	}
	if err := in.check(); err != nil {
		return Product{}, err
	}
	now := s.now().UTC()
	p := Product{
		ID:          uuid.NewString(),
		StoreID:     storeID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Category:    in.Category,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *Service) ownedProduct(ctx context.Context, ownerID, productID string) (Product, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if _, err := s.OwnedStore(ctx, ownerID, p.StoreID); err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct edits a product in a store owned by ownerID.
func (s *Service) UpdateProduct(ctx context.Context, ownerID, productID string, in ProductInput) (Product, error) {
	p, err := s.ownedProduct(ctx, ownerID, productID)
	if err != nil {
		return Product{}, err
	}
	if err := in.check(); err != nil {
		return Product{}, err
	}
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price
	p.Stock = in.Stock
	p.Category = in.Category
	p.ImageURL = in.ImageURL
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

// DeleteProduct removes a product from sale.
func (s *Service) DeleteProduct(ctx context.Context, ownerID, productID string) error {
	if _, err := s.ownedProduct(ctx, ownerID, productID); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, productID)
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts pages a store's catalogue.
func (s *Service) ListProducts(ctx context.Context, storeID string, p httpx.Page) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, ProductFilter{StoreID: storeID}, p)
}

// Marketplace pages products of active stores.
func (s *Service) Marketplace(ctx context.Context, category, search string, p httpx.Page) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, ProductFilter{Category: category, Search: search, ActiveOnly: true}, p)
}

// ReserveStock decrements stock for an order, all or nothing.
func (s *Service) ReserveStock(ctx context.Context, quantities map[string]int) error {
	return s.repo.AdjustStock(ctx, stockChanges(quantities, -1))
}

// ReleaseStock returns reserved stock.
func (s *Service) ReleaseStock(ctx context.Context, quantities map[string]int) error {
	return s.repo.AdjustStock(ctx, stockChanges(quantities, 1))
}

func stockChanges(quantities map[string]int, sign int) []StockChange {
	changes := make([]StockChange, 0, len(quantities))
	for id, qty := range quantities {
		changes = append(changes, StockChange{ProductID: id, Delta: sign * qty})
	}
	return changes
}

// Balance returns the unsettled proceeds of a store.
func (s *Service) Balance(ctx context.Context, storeID string) (int64, error) {
	return s.ledger.Balance(ctx, ledger.MerchantAccount(storeID))
}

// PayoutInput describes money to pay out of a store account.
type PayoutInput struct {
	StoreID      string
	Amount       int64
	Destination  string
	SettlementID string
	ClientTxID   string
}

// RequestPayout pays out part of a store's balance on the owner's request.
func (s *Service) RequestPayout(ctx context.Context, ownerID string, in PayoutInput) (Payout, error) {
	store, err := s.OwnedStore(ctx, ownerID, in.StoreID)
	if err != nil {
		return Payout{}, err
	}
	if store.Status == StatusSuspended {
		return Payout{}, ErrStoreInactive
	}
	in.SettlementID = ""
	return s.Payout(ctx, in)
}

// Payout pushes in.Amount out of the store account through the payout rail.
func (s *Service) Payout(ctx context.Context, in PayoutInput) (Payout, error) {
	if in.Amount < s.cfg.MinPayout {
		return Payout{}, fmt.Errorf("%w of %s", ErrBelowMinimum, payments.FormatAmount(s.cfg.MinPayout))
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.NewString()
	}
	if in.Destination == "" {
		in.Destination = "store:" + in.StoreID
	}
	res, err := s.payouts.Disburse(ctx, payments.DisburseInput{
		Source:      ledger.MerchantAccount(in.StoreID),
		Amount:      in.Amount,
		Destination: in.Destination,
		ClientTxID:  in.ClientTxID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		if existing, ferr := s.repo.PayoutByClientTxID(ctx, in.ClientTxID); ferr == nil {
			return existing, nil
		} else if !errors.Is(ferr, ErrPayoutNotFound) {
			return Payout{}, ferr
		}
	} else if err != nil {
		return Payout{}, err
	}
	payout := Payout{
		ID:                uuid.NewString(),
		StoreID:           in.StoreID,
		Amount:            in.Amount,
		Status:            PayoutCompleted,
		Destination:       in.Destination,
		SettlementID:      in.SettlementID,
		ProviderReference: res.ProviderReference,
		ClientTxID:        in.ClientTxID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		return Payout{}, err
	}
	s.logger.Info("payout sent",
		slog.String("store_id", in.StoreID),
		slog.Int64("amount", in.Amount),
		slog.String("payout_id", payout.ID),
	)
	if store, err := s.repo.GetStore(ctx, in.StoreID); err == nil {
		notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
			UserID: store.OwnerID,
			Kind:   notification.KindPayout,
			Title:  "Payout sent",
			Body:   fmt.Sprintf("%s %s was paid out from %s.", s.cfg.Currency, payments.FormatAmount(in.Amount), store.Name),
		})
	}
	return payout, nil
}

// PayoutHistory pages payouts across the merchant's stores.
func (s *Service) PayoutHistory(ctx context.Context, ownerID string, p httpx.Page) ([]Payout, int, error) {
	ids, err := s.StoreIDsOwnedBy(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}
	return s.repo.ListPayouts(ctx, ids, p)
}
