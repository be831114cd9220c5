package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/ledger"
	"github.com/kelo-pay/kelo/internal/loans"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/notification"
	"github.com/kelo-pay/kelo/internal/payments"
)

const kindOrderFee = "order_fee"

// Catalog is the store and stock data checkout needs.
type Catalog interface {
	GetStore(ctx context.Context, id string) (merchant.Store, error)
	GetProduct(ctx context.Context, id string) (merchant.Product, error)
	ReserveStock(ctx context.Context, quantities map[string]int) error
	ReleaseStock(ctx context.Context, quantities map[string]int) error
	StoreIDsOwnedBy(ctx context.Context, ownerID string) ([]string, error)
}

// Financier originates BNPL loans.
type Financier interface {
	Apply(ctx context.Context, in loans.ApplyInput) (loans.Loan, error)
	Withdraw(ctx context.Context, userID, loanID string) error
	Financed(ctx context.Context, storeIDs []string) (int, int64, error)
}

// Collector charges customers.
type Collector interface {
	Collect(ctx context.Context, in payments.CollectInput) (payments.Payment, error)
}

// Service places and tracks orders.
type Service struct {
	repo     Repository
	catalog  Catalog
	loans    Financier
	payments Collector
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(repo Repository, catalog Catalog, financier Financier, collector Collector, l ledger.Ledger, notifier notification.Notifier, logger *slog.Logger, currency string) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		loans:    financier,
		payments: collector,
		ledger:   l,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		currency: currency,
		now:      time.Now,
	}
}

// ItemInput is a requested order line.
type ItemInput struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// CreateInput is a checkout request.
type CreateInput struct {
	UserID        string
	StoreID       string
	Items         []ItemInput
	PaymentOption string
	TermMonths    int
	Method        string
	Details       payments.Details
	ClientTxID    string
}

// Create prices the items, reserves stock and records the order as pending
// before charging the customer in full or applying for a loan. When payment
// or financing fails the order is cancelled and its stock released.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if in.PaymentOption != OptionFull && in.PaymentOption != OptionBNPL {
		return Order{}, ErrInvalidOption
	}
	if len(in.Items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	store, err := s.catalog.GetStore(ctx, in.StoreID)
	if err != nil {
		return Order{}, err
	}
	if store.Status != merchant.StatusActive {
		return Order{}, merchant.ErrStoreInactive
	}

	quantities := map[string]int{}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity must be positive", merchant.ErrInvalidProduct)
		}
		quantities[it.ProductID] += it.Quantity
	}
	now := s.now().UTC()
	order := Order{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		StoreID:       store.ID,
		PaymentOption: in.PaymentOption,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for productID, qty := range quantities {
		p, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return Order{}, err
		}
		if p.StoreID != store.ID {
			return Order{}, fmt.Errorf("%w: %s is not sold by this store", merchant.ErrProductNotFound, productID)
		}
		order.Items = append(order.Items, Item{ProductID: p.ID, Name: p.Name, Quantity: qty, UnitPrice: p.Price})
		order.Total += p.Price * int64(qty)
	}
	sort.Slice(order.Items, func(i, j int) bool { return order.Items[i].Name < order.Items[j].Name })
	order.Fee = order.Total * int64(store.FeeBps) / 10_000

	if err := s.catalog.ReserveStock(ctx, quantities); err != nil {
		return Order{}, err
	}
	release := func(cause error) error {
		if rerr := s.catalog.ReleaseStock(ctx, quantities); rerr != nil {
			s.logger.Error("release stock", slog.String("order_id", order.ID), slog.Any("error", rerr))
		}
		return cause
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return Order{}, release(err)
	}
	abandon := func(cause error) error {
		if cerr := s.repo.UpdateStatus(ctx, order.ID, StatusPending, StatusCancelled, "", ""); cerr != nil {
			s.logger.Error("cancel abandoned order", slog.String("order_id", order.ID), slog.Any("error", cerr))
			return cause
		}
		return release(cause)
	}

	switch in.PaymentOption {
	case OptionFull:
		if err := s.payInFull(ctx, &order, store, in); err != nil {
			return Order{}, abandon(err)
		}
		if err := s.repo.UpdateStatus(ctx, order.ID, StatusPending, StatusPaid, "", order.PaymentID); err != nil {
			s.logger.Error("record order payment",
				slog.String("order_id", order.ID),
				slog.String("payment_id", order.PaymentID),
				slog.Any("error", err),
			)
			return Order{}, err
		}
		order.Status = StatusPaid
	case OptionBNPL:
		loan, err := s.loans.Apply(ctx, loans.ApplyInput{
			UserID:     in.UserID,
			StoreID:    store.ID,
			OrderID:    order.ID,
			Amount:     order.Total,
			TermMonths: in.TermMonths,
			Purpose:    "Purchase at " + store.Name,
		})
		if err != nil {
			return Order{}, abandon(err)
		}
		if order, err = s.attachLoan(ctx, order, loan.ID); err != nil {
			if werr := s.loans.Withdraw(ctx, in.UserID, loan.ID); werr != nil {
				s.logger.Error("withdraw loan", slog.String("loan_id", loan.ID), slog.Any("error", werr))
			}
			return Order{}, abandon(err)
		}
	}

	s.logger.Info("order placed",
		slog.String("order_id", order.ID),
		slog.String("store_id", order.StoreID),
		slog.String("payment_option", order.PaymentOption),
		slog.Int64("total", order.Total),
	)
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		UserID: store.OwnerID,
		Kind:   notification.KindOrderPlaced,
		Title:  "New order",
		Body:   fmt.Sprintf("A %s order of %s %s was placed at %s.", order.PaymentOption, s.currency, payments.FormatAmount(order.Total), store.Name),
	})
	return order, nil
}

// attachLoan records the loan on the pending order. The loan may already have
// been decided, in which case the stored order is returned as is.
func (s *Service) attachLoan(ctx context.Context, order Order, loanID string) (Order, error) {
	err := s.repo.UpdateStatus(ctx, order.ID, StatusPending, StatusPending, loanID, "")
	if err == nil {
		order.LoanID = loanID
		return order, nil
	}
	if !errors.Is(err, ErrStateChanged) {
		return order, err
	}
	stored, gerr := s.repo.Get(ctx, order.ID)
	if gerr != nil {
		return order, gerr
	}
	if stored.LoanID != loanID {
		return order, err
	}
	return stored, nil
}

func (s *Service) payInFull(ctx context.Context, order *Order, store merchant.Store, in CreateInput) error {
	clientTxID := in.ClientTxID
	if clientTxID == "" {
		clientTxID = "order:" + order.ID
	}
	account := ledger.MerchantAccount(store.ID)
	if err := s.ledger.EnsureAccount(ctx, account); err != nil {
		return err
	}
	payment, err := s.payments.Collect(ctx, payments.CollectInput{
		UserID:      in.UserID,
		Method:      in.Method,
		Purpose:     payments.PurposeOrder,
		ReferenceID: order.ID,
		Destination: account,
		Amount:      order.Total,
		Details:     in.Details,
		ClientTxID:  clientTxID,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return fmt.Errorf("%w: client transaction already used", err)
	}
	if err != nil {
		return err
	}
	if order.Fee > 0 {
		if _, err := s.ledger.Transfer(ctx, account, ledger.PlatformRevenueAccount, kindOrderFee, order.ID, order.Fee); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return fmt.Errorf("collect order fee: %w", err)
		}
	}
	order.PaymentID = payment.ID
	return nil
}

// Get returns one of the user's orders.
func (s *Service) Get(ctx context.Context, userID, id string) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// ListByUser pages the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, p httpx.Page) ([]Order, int, error) {
	return s.repo.ListByUser(ctx, userID, p)
}

// RecentForOwner returns the latest orders across a merchant's stores.
func (s *Service) RecentForOwner(ctx context.Context, ownerID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	ids, err := s.catalog.StoreIDsOwnedBy(ctx, ownerID)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.repo.RecentByStores(ctx, ids, limit)
}

// Cancel cancels a pending order, withdraws its loan application and restores stock.
func (s *Service) Cancel(ctx context.Context, userID, id string) (Order, error) {
	o, err := s.Get(ctx, userID, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPending {
		return Order{}, ErrNotCancellable
	}
	if o.LoanID != "" {
		if err := s.loans.Withdraw(ctx, userID, o.LoanID); err != nil {
			if errors.Is(err, loans.ErrInvalidState) {
				return Order{}, ErrNotCancellable
			}
			return Order{}, err
		}
	}
	if err := s.repo.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, "", ""); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return Order{}, ErrNotCancellable
		}
		return Order{}, err
	}
	if err := s.catalog.ReleaseStock(ctx, quantitiesOf(o)); err != nil {
		s.logger.Error("release stock", slog.String("order_id", o.ID), slog.Any("error", err))
	}
	o.Status = StatusCancelled
	return o, nil
}

func quantitiesOf(o Order) map[string]int {
	q := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		q[it.ProductID] += it.Quantity
	}
	return q
}

// Financeable reports whether a loan of amount by userID at storeID may
// finance the order: it must be that user's pending BNPL order at that store,
// with no loan yet and a total equal to amount.
func (s *Service) Financeable(ctx context.Context, orderID, userID, storeID string, amount int64) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	switch {
	case o.UserID != userID:
		return ErrNotFound
	case o.StoreID != storeID, o.PaymentOption != OptionBNPL:
		return fmt.Errorf("order %s is not a BNPL order at this store", orderID)
	case o.Status != StatusPending || o.LoanID != "":
		return ErrStateChanged
	case o.Total != amount:
		return fmt.Errorf("order total is %d, not %d", o.Total, amount)
	}
	return nil
}

// LoanApproved marks the order financed by loanID.
func (s *Service) LoanApproved(ctx context.Context, orderID, loanID string) error {
	return s.repo.UpdateStatus(ctx, orderID, StatusPending, StatusFinanced, loanID, "")
}

// LoanRejected cancels the order and restores its stock, unless the order is
// financed by some other loan.
func (s *Service) LoanRejected(ctx context.Context, orderID, loanID string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, orderID, StatusPending, StatusCancelled, loanID, ""); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil
		}
		return err
	}
	return s.catalog.ReleaseStock(ctx, quantitiesOf(o))
}

// SettledOrders returns paid and financed orders of a store in [from, to).
func (s *Service) SettledOrders(ctx context.Context, storeID string, from, to time.Time) ([]Order, error) {
	return s.repo.Find(ctx, Query{StoreIDs: []string{storeID}, Statuses: []string{StatusPaid, StatusFinanced}, From: from, To: to})
}

// GMV is the value of all paid and financed orders.
func (s *Service) GMV(ctx context.Context) (int64, error) {
	return s.repo.GMV(ctx)
}

// Analytics summarises sales across a merchant's stores in [from, to).
func (s *Service) Analytics(ctx context.Context, ownerID string, from, to time.Time) (Analytics, error) {
	out := Analytics{From: from, To: to, TopProducts: []ProductSales{}}
	ids, err := s.catalog.StoreIDsOwnedBy(ctx, ownerID)
	if err != nil || len(ids) == 0 {
		return out, err
	}
	orders, err := s.repo.Find(ctx, Query{StoreIDs: ids, Statuses: []string{StatusPaid, StatusFinanced}, From: from, To: to})
	if err != nil {
		return out, err
	}
	byProduct := map[string]*ProductSales{}
	for _, o := range orders {
		out.Revenue += o.Total
		out.Orders++
		for _, it := range o.Items {
			out.ItemsSold += it.Quantity
			ps, ok := byProduct[it.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: it.ProductID, Name: it.Name}
				byProduct[it.ProductID] = ps
			}
			ps.Quantity += it.Quantity
			ps.Revenue += it.UnitPrice * int64(it.Quantity)
		}
	}
	for _, ps := range byProduct {
		out.TopProducts = append(out.TopProducts, *ps)
	}
	sort.Slice(out.TopProducts, func(i, j int) bool {
		a, b := out.TopProducts[i], out.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.Name < b.Name
	})
	if len(out.TopProducts) > 5 {
		out.TopProducts = out.TopProducts[:5]
	}
	if out.LoansFinanced, out.FinancedAmount, err = s.loans.Financed(ctx, ids); err != nil {
		return out, err
	}
	return out, nil
}
