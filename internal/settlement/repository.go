package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists settlements. (store_id, period_end) is unique.
type Repository interface {
	// Save inserts s, or replaces a failed settlement for the same store and period.
	Save(ctx context.Context, s Settlement) error
	ForPeriod(ctx context.Context, storeID string, periodEnd time.Time) (Settlement, error)
	// LatestPaid returns the store's most recent paid settlement.
	LatestPaid(ctx context.Context, storeID string) (Settlement, error)
	List(ctx context.Context, storeIDs []string, p httpx.Page) ([]Settlement, int, error)
	Totals(ctx context.Context, storeIDs []string) (count int, net int64, err error)
}

// PostgresRepository stores settlements in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres settlement repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, store_id, period_start, period_end, order_count, gross, fee, net, status,
    COALESCE(payout_id::text, ''), created_at`

func scan(row pgx.Row) (Settlement, error) {
	var s Settlement
	err := row.Scan(&s.ID, &s.StoreID, &s.PeriodStart, &s.PeriodEnd, &s.OrderCount, &s.Gross, &s.Fee, &s.Net,
		&s.Status, &s.PayoutID, &s.CreatedAt)
	return s, err
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (r *PostgresRepository) Save(ctx context.Context, s Settlement) error {
	tag, err := r.db.Exec(ctx, `INSERT INTO settlements
        (id, store_id, period_start, period_end, order_count, gross, fee, net, status, payout_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (store_id, period_end) DO UPDATE SET
            order_count = EXCLUDED.order_count, gross = EXCLUDED.gross, fee = EXCLUDED.fee,
            net = EXCLUDED.net, status = EXCLUDED.status, payout_id = EXCLUDED.payout_id
        WHERE settlements.status = 'failed'`,
		s.ID, s.StoreID, s.PeriodStart, s.PeriodEnd, s.OrderCount, s.Gross, s.Fee, s.Net, s.Status,
		nullable(s.PayoutID), s.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("settlement already paid for this period")
	}
	return nil
}

func (r *PostgresRepository) ForPeriod(ctx context.Context, storeID string, periodEnd time.Time) (Settlement, error) {
	s, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM settlements WHERE store_id = $1 AND period_end = $2`,
		storeID, periodEnd))
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) LatestPaid(ctx context.Context, storeID string) (Settlement, error) {
	s, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM settlements
        WHERE store_id = $1 AND status = 'paid' ORDER BY period_end DESC LIMIT 1`, storeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) List(ctx context.Context, storeIDs []string, pg httpx.Page) ([]Settlement, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM settlements WHERE store_id = ANY($1::uuid[])`, storeIDs).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM settlements WHERE store_id = ANY($1::uuid[])
        ORDER BY period_end DESC, created_at DESC LIMIT $2 OFFSET $3`, storeIDs, pg.Limit, pg.Offset())
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Settlement, error) { return scan(row) })
	return items, total, err
}

func (r *PostgresRepository) Totals(ctx context.Context, storeIDs []string) (int, int64, error) {
	var count int
	var net int64
	err := r.db.QueryRow(ctx, `SELECT count(*), COALESCE(sum(net), 0) FROM settlements
        WHERE store_id = ANY($1::uuid[]) AND status = 'paid'`, storeIDs).Scan(&count, &net)
	return count, net, err
}

type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]Settlement
}

// NewMemoryRepository returns an in-memory settlement repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]Settlement)}
}

func periodKey(storeID string, end time.Time) string {
	return storeID + "|" + end.UTC().Format(time.RFC3339Nano)
}

func (r *memoryRepository) Save(_ context.Context, s Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := periodKey(s.StoreID, s.PeriodEnd)
	if existing, ok := r.items[key]; ok && existing.Status != StatusFailed {
		return errors.New("settlement already paid for this period")
	}
	r.items[key] = s
	return nil
}

func (r *memoryRepository) ForPeriod(_ context.Context, storeID string, periodEnd time.Time) (Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[periodKey(storeID, periodEnd)]
	if !ok {
		return Settlement{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepository) filter(keep func(Settlement) bool) []Settlement {
	var out []Settlement
	for _, s := range r.items {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.After(out[j].PeriodEnd) })
	return out
}

func (r *memoryRepository) LatestPaid(_ context.Context, storeID string) (Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := r.filter(func(s Settlement) bool { return s.StoreID == storeID && s.Status == StatusPaid })
	if len(found) == 0 {
		return Settlement{}, ErrNotFound
	}
	return found[0], nil
}

func inStores(ids []string) func(Settlement) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(s Settlement) bool {
		_, ok := set[s.StoreID]
		return ok
	}
}

func (r *memoryRepository) List(_ context.Context, storeIDs []string, p httpx.Page) ([]Settlement, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.filter(inStores(storeIDs))
	return httpx.Window(all, p), len(all), nil
}

func (r *memoryRepository) Totals(_ context.Context, storeIDs []string) (int, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in := inStores(storeIDs)
	var count int
	var net int64
	for _, s := range r.items {
		if in(s) && s.Status == StatusPaid {
			count++
			net += s.Net
		}
	}
	return count, net, nil
}
