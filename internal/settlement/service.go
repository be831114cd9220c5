package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kelo-pay/kelo/internal/httpx"
	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/merchant"
	"github.com/kelo-pay/kelo/internal/metrics"
	"github.com/kelo-pay/kelo/internal/orders"
)

// Stores is the merchant side of a settlement run.
type Stores interface {
	ActiveStores(ctx context.Context) ([]merchant.Store, error)
	StoreIDsOwnedBy(ctx context.Context, ownerID string) ([]string, error)
	Balance(ctx context.Context, storeID string) (int64, error)
	Payout(ctx context.Context, in merchant.PayoutInput) (merchant.Payout, error)
}

// Orders supplies the orders a settlement covers.
type Orders interface {
	SettledOrders(ctx context.Context, storeID string, from, to time.Time) ([]orders.Order, error)
}

// Service settles merchant balances.
type Service struct {
	repo      Repository
	stores    Stores
	orders    Orders
	minPayout int64
	logger    *slog.Logger
	now       func() time.Time
	running   sync.Mutex
}

// NewService builds a settlement service. Balances below minPayout roll over to
// the next period.
func NewService(repo Repository, stores Stores, orderSource Orders, minPayout int64, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		stores:    stores,
		orders:    orderSource,
		minPayout: minPayout,
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}
}

// Run settles every active store up to periodEnd. A zero periodEnd means now,
// truncated to the second. Running twice for the same period pays nothing twice:
// paid settlements are skipped and failed ones are retried.
func (s *Service) Run(ctx context.Context, periodEnd time.Time) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrRunning
	}
	defer s.running.Unlock()

	now := s.now().UTC()
	if periodEnd.IsZero() {
		periodEnd = now.Truncate(time.Second)
	}
	periodEnd = periodEnd.UTC()
	if periodEnd.After(now) {
		return Report{}, ErrBadPeriod
	}

	stores, err := s.stores.ActiveStores(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{PeriodEnd: periodEnd}
	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		st, err := s.settleStore(ctx, store, periodEnd)
		switch {
		case err != nil:
			report.Failed++
			metrics.Settlement("failed")
			s.logger.Error("settlement failed", slog.String("store_id", store.ID), slog.Any("error", err))
		case st == nil:
			report.Skipped++
			metrics.Settlement("skipped")
		default:
			report.Settled++
			report.PaidOut += st.Net
			metrics.Settlement("paid")
		}
	}
	s.logger.Info("settlement run finished",
		slog.Time("period_end", periodEnd),
		slog.Int("settled", report.Settled),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int64("paid_out", report.PaidOut),
	)
	return report, nil
}

// settleStore returns nil, nil when the store has nothing to settle.
func (s *Service) settleStore(ctx context.Context, store merchant.Store, periodEnd time.Time) (*Settlement, error) {
	id := uuid.NewString()
	existing, err := s.repo.ForPeriod(ctx, store.ID, periodEnd)
	switch {
	case err == nil && existing.Status == StatusPaid:
		return nil, nil
	case err == nil:
		id = existing.ID
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	periodStart := store.CreatedAt.UTC()
	if last, err := s.repo.LatestPaid(ctx, store.ID); err == nil {
		periodStart = last.PeriodEnd
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !periodStart.Before(periodEnd) {
		return nil, nil
	}

	balance, err := s.stores.Balance(ctx, store.ID)
	if err != nil {
		return nil, err
	}
	if balance < s.minPayout {
		return nil, nil
	}
	settled, err := s.orders.SettledOrders(ctx, store.ID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	st := Settlement{
		ID:          id,
		StoreID:     store.ID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		OrderCount:  len(settled),
		Net:         balance,
		CreatedAt:   s.now().UTC(),
	}
	for _, o := range settled {
		st.Gross += o.Total
		st.Fee += o.Fee
	}

	payout, err := s.stores.Payout(ctx, merchant.PayoutInput{
		StoreID:      store.ID,
		Amount:       balance,
		SettlementID: st.ID,
		ClientTxID:   fmt.Sprintf("settlement:%s:%d", store.ID, periodEnd.Unix()),
	})
	if err != nil {
		st.Status = StatusFailed
		st.Net = 0
		if serr := s.repo.Save(ctx, st); serr != nil {
			s.logger.Error("record failed settlement", slog.String("store_id", store.ID), slog.Any("error", serr))
		}
		return nil, fmt.Errorf("payout: %w", err)
	}
	st.Status = StatusPaid
	st.PayoutID = payout.ID
	if err := s.repo.Save(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("store settled",
		slog.String("store_id", store.ID),
		slog.String("settlement_id", st.ID),
		slog.Int("orders", st.OrderCount),
		slog.Int64("net", st.Net),
	)
	return &st, nil
}

// List pages settlements across the merchant's stores.
func (s *Service) List(ctx context.Context, ownerID string, p httpx.Page) ([]Settlement, int, error) {
	ids, err := s.stores.StoreIDsOwnedBy(ctx, ownerID)
	if err != nil || len(ids) == 0 {
		return nil, 0, err
	}
	return s.repo.List(ctx, ids, p)
}

// Summary reports what the merchant is owed and what has been paid.
func (s *Service) Summary(ctx context.Context, ownerID string) (Summary, error) {
	var out Summary
	ids, err := s.stores.StoreIDsOwnedBy(ctx, ownerID)
	if err != nil || len(ids) == 0 {
		return out, err
	}
	for _, id := range ids {
		bal, err := s.stores.Balance(ctx, id)
		if err != nil {
			return out, err
		}
		out.PendingBalance += bal
	}
	if out.Settlements, out.TotalSettled, err = s.repo.Totals(ctx, ids); err != nil {
		return out, err
	}
	latest, _, err := s.repo.List(ctx, ids, httpx.NewPage(1, 1))
	if err != nil {
		return out, err
	}
	if len(latest) > 0 {
		out.Last = &latest[0]
	}
	return out, nil
}
