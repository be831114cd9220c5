package blockchain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists wallet connections and tracked transactions.
type Repository interface {
	CreateConnection(ctx context.Context, c Connection) error
	GetConnection(ctx context.Context, id string) (Connection, error)
	ListConnections(ctx context.Context, userID string) ([]Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	// SetPrimary makes id the user's only primary connection.
	SetPrimary(ctx context.Context, userID, id string) error

	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, userID string, p httpx.Page) ([]Transaction, int, error)
	// UpdateTransaction stores the on-chain outcome: status, block, sender
	// and whether the sender is verified.
	UpdateTransaction(ctx context.Context, t Transaction) error
	CountConfirmed(ctx context.Context, userID string) (int, error)
}

// PostgresRepository stores chain data in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres blockchain repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const connColumns = `id, user_id, provider, network, chain_id, address, is_primary, verified_at, created_at`

func scanConnection(row pgx.Row) (Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.Network, &c.ChainID, &c.Address, &c.IsPrimary, &c.VerifiedAt, &c.CreatedAt)
	return c, err
}

func (r *PostgresRepository) CreateConnection(ctx context.Context, c Connection) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallet_connections (`+connColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.UserID, c.Provider, c.Network, c.ChainID, c.Address, c.IsPrimary, c.VerifiedAt, c.CreatedAt)
	if uniqueViolation(err) {
		return ErrAlreadyConnected
	}
	return err
}

func (r *PostgresRepository) GetConnection(ctx context.Context, id string) (Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, `SELECT `+connColumns+` FROM wallet_connections WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Connection{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepository) ListConnections(ctx context.Context, userID string) ([]Connection, error) {
	rows, err := r.db.Query(ctx, `SELECT `+connColumns+` FROM wallet_connections WHERE user_id = $1
        ORDER BY is_primary DESC, created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Connection, error) { return scanConnection(row) })
}

func (r *PostgresRepository) DeleteConnection(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM wallet_connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPrimary(ctx context.Context, userID, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, `UPDATE wallet_connections SET is_primary = FALSE WHERE user_id = $1`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE wallet_connections SET is_primary = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

const txColumns = `id, user_id, network, hash, from_address, to_address, value, status, sender_verified, block_number, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Network, &t.Hash, &t.From, &t.To, &t.Value, &t.Status, &t.SenderVerified, &t.BlockNumber, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t Transaction) error {
	_, err := r.db.Exec(ctx, `INSERT INTO chain_transactions (`+txColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.UserID, t.Network, t.Hash, t.From, t.To, t.Value, t.Status, t.SenderVerified, t.BlockNumber, t.CreatedAt, t.UpdatedAt)
	if uniqueViolation(err) {
		return ErrTxTracked
	}
	return err
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM chain_transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTxNotFound
	}
	return t, err
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, p httpx.Page) ([]Transaction, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM chain_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+txColumns+` FROM chain_transactions WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) { return scanTransaction(row) })
	return items, total, err
}

func (r *PostgresRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	tag, err := r.db.Exec(ctx, `UPDATE chain_transactions SET status = $2, block_number = COALESCE($3, block_number),
            from_address = $4, sender_verified = $5, updated_at = $6
        WHERE id = $1`, t.ID, t.Status, t.BlockNumber, t.From, t.SenderVerified, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (r *PostgresRepository) CountConfirmed(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM chain_transactions WHERE user_id = $1 AND status = 'success' AND sender_verified`, userID).Scan(&n)
	return n, err
}

type memoryRepository struct {
	mu    sync.RWMutex
	conns map[string]Connection
	txs   map[string]Transaction
}

// NewMemoryRepository returns an in-memory blockchain repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{conns: make(map[string]Connection), txs: make(map[string]Transaction)}
}

func (r *memoryRepository) CreateConnection(_ context.Context, c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conns {
		if existing.UserID == c.UserID && existing.Network == c.Network && strings.EqualFold(existing.Address, c.Address) {
			return ErrAlreadyConnected
		}
	}
	r.conns[c.ID] = c
	return nil
}

func (r *memoryRepository) GetConnection(_ context.Context, id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) ListConnections(_ context.Context, userID string) ([]Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) DeleteConnection(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return ErrNotFound
	}
	delete(r.conns, id)
	return nil
}

func (r *memoryRepository) SetPrimary(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.conns[id]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}
	for cid, c := range r.conns {
		if c.UserID == userID {
			c.IsPrimary = cid == id
			r.conns[cid] = c
		}
	}
	return nil
}

func (r *memoryRepository) CreateTransaction(_ context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.txs {
		if existing.Network == t.Network && existing.Hash == t.Hash {
			return ErrTxTracked
		}
	}
	r.txs[t.ID] = t
	return nil
}

func (r *memoryRepository) GetTransaction(_ context.Context, id string) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.txs[id]
	if !ok {
		return Transaction{}, ErrTxNotFound
	}
	return t, nil
}

func (r *memoryRepository) ListTransactions(_ context.Context, userID string, p httpx.Page) ([]Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Transaction
	for _, t := range r.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return httpx.Window(out, p), len(out), nil
}

func (r *memoryRepository) UpdateTransaction(_ context.Context, u Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[u.ID]
	if !ok {
		return ErrTxNotFound
	}
	t.Status = u.Status
	if u.BlockNumber != nil {
		t.BlockNumber = u.BlockNumber
	}
	t.From = u.From
	t.SenderVerified = u.SenderVerified
	t.UpdatedAt = u.UpdatedAt
	r.txs[u.ID] = t
	return nil
}

func (r *memoryRepository) CountConfirmed(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.txs {
		if t.UserID == userID && t.Status == TxSuccess && t.SenderVerified {
			n++
		}
	}
	return n, nil
}
