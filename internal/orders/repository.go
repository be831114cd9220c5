package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists orders and their items.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// UpdateStatus moves an order from one status to another, failing with
	// ErrStateChanged when it is no longer in from. A non-empty loanID is
	// recorded only when the order has no loan or already carries that one;
	// a non-empty paymentID is recorded as given.
	UpdateStatus(ctx context.Context, id, from, to, loanID, paymentID string) error
	ListByUser(ctx context.Context, userID string, p httpx.Page) ([]Order, int, error)
	RecentByStores(ctx context.Context, storeIDs []string, limit int) ([]Order, error)
	// Find returns matching orders with items, oldest first.
	Find(ctx context.Context, q Query) ([]Order, error)
	// GMV sums the totals of paid and financed orders.
	GMV(ctx context.Context) (int64, error)
}

// PostgresRepository stores orders in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres order repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, user_id, store_id, total, fee, payment_option, status,
    COALESCE(loan_id::text, ''), COALESCE(payment_id::text, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &o.Total, &o.Fee, &o.PaymentOption, &o.Status,
		&o.LoanID, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PostgresRepository) Create(ctx context.Context, o Order) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders (id, user_id, store_id, total, fee, payment_option, status,
            loan_id, payment_id, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, NULLIF($9, '')::uuid, $10, $11)`,
			o.ID, o.UserID, o.StoreID, o.Total, o.Fee, o.PaymentOption, o.Status, o.LoanID, o.PaymentID, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return err
		}
		for _, it := range o.Items {
			if _, err := tx.Exec(ctx, `INSERT INTO order_items (order_id, product_id, name, quantity, unit_price)
                VALUES ($1, $2, $3, $4, $5)`, o.ID, it.ProductID, it.Name, it.Quantity, it.UnitPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	orders := []Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

func (r *PostgresRepository) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT order_id, product_id, name, quantity, unit_price
        FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var it Item
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, from, to, loanID, paymentID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $3,
            loan_id = COALESCE(NULLIF($4, '')::uuid, loan_id),
            payment_id = COALESCE(NULLIF($5, '')::uuid, payment_id),
            updated_at = now()
        WHERE id = $1 AND status = $2
          AND ($4 = '' OR loan_id IS NULL OR loan_id = NULLIF($4, '')::uuid)`, id, from, to, loanID, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStateChanged
	}
	return nil
}

func (r *PostgresRepository) collect(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) { return scanOrder(row) })
	if err != nil {
		return nil, err
	}
	return orders, r.attachItems(ctx, orders)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, p httpx.Page) ([]Order, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	orders, err := r.collect(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, p.Limit, p.Offset())
	return orders, total, err
}

func (r *PostgresRepository) RecentByStores(ctx context.Context, storeIDs []string, limit int) ([]Order, error) {
	return r.collect(ctx, `SELECT `+orderColumns+` FROM orders WHERE store_id = ANY($1::uuid[])
        ORDER BY created_at DESC LIMIT $2`, storeIDs, limit)
}

func (r *PostgresRepository) Find(ctx context.Context, q Query) ([]Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE store_id = ANY($1::uuid[]) AND status = ANY($2)
        AND created_at >= $3`
	args := []any{q.StoreIDs, q.Statuses, q.From}
	if !q.To.IsZero() {
		args = append(args, q.To)
		sql += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	return r.collect(ctx, sql+` ORDER BY created_at`, args...)
}

func (r *PostgresRepository) GMV(ctx context.Context) (int64, error) {
	var gmv int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(total), 0) FROM orders WHERE status IN ('paid', 'financed')`).Scan(&gmv)
	return gmv, err
}

type memoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewMemoryRepository constructs an in-memory order repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{orders: make(map[string]Order)}
}

func cloneOrder(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}

func (r *memoryRepository) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id, from, to, loanID, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStateChanged
	}
	if loanID != "" && o.LoanID != "" && o.LoanID != loanID {
		return ErrStateChanged
	}
	o.Status = to
	if loanID != "" {
		o.LoanID = loanID
	}
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	r.orders[id] = o
	return nil
}

func (r *memoryRepository) sorted(keep func(Order) bool, newestFirst bool) []Order {
	var out []Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, p httpx.Page) ([]Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted(func(o Order) bool { return o.UserID == userID }, true)
	return httpx.Window(all, p), len(all), nil
}

func inList(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (r *memoryRepository) RecentByStores(_ context.Context, storeIDs []string, limit int) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted(func(o Order) bool { return inList(storeIDs, o.StoreID) }, true)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepository) Find(_ context.Context, q Query) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(o Order) bool {
		if !inList(q.StoreIDs, o.StoreID) || !inList(q.Statuses, o.Status) {
			return false
		}
		if o.CreatedAt.Before(q.From) {
			return false
		}
		return q.To.IsZero() || o.CreatedAt.Before(q.To)
	}, false), nil
}

func (r *memoryRepository) GMV(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var gmv int64
	for _, o := range r.orders {
		if o.Status == StatusPaid || o.Status == StatusFinanced {
			gmv += o.Total
		}
	}
	return gmv, nil
}
