package payments

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists payment records.
type Repository interface {
	Create(ctx context.Context, p Payment) error
	FindByClientTxID(ctx context.Context, clientTxID string) (Payment, error)
	ListByUser(ctx context.Context, userID string, p httpx.Page) ([]Payment, int, error)
}

// errDuplicateClientTx is raised when a concurrent request recorded the same client tx id.
var errDuplicateClientTx = errors.New("payment already recorded")

// PostgresRepository stores payments in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres payment repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, user_id, method, purpose, reference_id, amount, currency, status,
    provider_reference, tx_hash, client_tx_id, failure_reason, created_at`

func (r *PostgresRepository) Create(ctx context.Context, p Payment) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.Method, p.Purpose, p.ReferenceID, p.Amount, p.Currency, p.Status,
		p.ProviderReference, p.TxHash, p.ClientTxID, p.FailureReason, p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateClientTx
	}
	return err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.Method, &p.Purpose, &p.ReferenceID, &p.Amount, &p.Currency, &p.Status,
		&p.ProviderReference, &p.TxHash, &p.ClientTxID, &p.FailureReason, &p.CreatedAt)
	return p, err
}

func (r *PostgresRepository) FindByClientTxID(ctx context.Context, clientTxID string) (Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE client_tx_id = $1`, clientTxID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, page httpx.Page) ([]Payment, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM payments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

type memoryRepository struct {
	mu       sync.RWMutex
	payments []Payment
	byTx     map[string]int
}

// NewMemoryRepository constructs an in-memory payment repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{byTx: make(map[string]int)}
}

func (r *memoryRepository) Create(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTx[p.ClientTxID]; ok {
		return errDuplicateClientTx
	}
	r.byTx[p.ClientTxID] = len(r.payments)
	r.payments = append(r.payments, p)
	return nil
}

func (r *memoryRepository) FindByClientTxID(_ context.Context, clientTxID string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byTx[clientTxID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return r.payments[i], nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, page httpx.Page) ([]Payment, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Payment
	for i := len(r.payments) - 1; i >= 0; i-- {
		if r.payments[i].UserID == userID {
			out = append(out, r.payments[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return httpx.Window(out, page), len(out), nil
}
