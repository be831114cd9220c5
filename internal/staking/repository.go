package staking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists pools and positions.
type Repository interface {
	ListPools(ctx context.Context) ([]Pool, error)
	GetPool(ctx context.Context, id string) (Pool, error)
	GetPosition(ctx context.Context, poolID, userID string) (Position, error)
	Positions(ctx context.Context, userID string) ([]Position, error)
	StakedPositions(ctx context.Context) ([]Position, error)
	// SavePosition upserts p and moves the pool total by stakedDelta atomically.
	SavePosition(ctx context.Context, p Position, stakedDelta int64) error
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	poolColumns     = `id, name, token, apy_bps, total_staked, active, created_at`
	positionColumns = `pool_id, user_id, staked, rewards_accrued, last_accrual, updated_at`
)

func scanPool(row pgx.Row) (Pool, error) {
	var p Pool
	err := row.Scan(&p.ID, &p.Name, &p.Token, &p.APYBps, &p.TotalStaked, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pool{}, ErrPoolNotFound
	}
	return p, err
}

func scanPosition(row pgx.Row) (Position, error) {
	var p Position
	err := row.Scan(&p.PoolID, &p.UserID, &p.Staked, &p.RewardsAccrued, &p.LastAccrual, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Position{}, ErrNoPosition
	}
	return p, err
}

func (r *PostgresRepository) ListPools(ctx context.Context) ([]Pool, error) {
	rows, err := r.db.Query(ctx, `SELECT `+poolColumns+` FROM staking_pools ORDER BY apy_bps, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetPool(ctx context.Context, id string) (Pool, error) {
	return scanPool(r.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM staking_pools WHERE id = $1`, id))
}

func (r *PostgresRepository) GetPosition(ctx context.Context, poolID, userID string) (Position, error) {
	return scanPosition(r.db.QueryRow(ctx, `SELECT `+positionColumns+` FROM staking_positions
        WHERE pool_id = $1 AND user_id = $2`, poolID, userID))
}

func (r *PostgresRepository) positions(ctx context.Context, query string, args ...any) ([]Position, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Positions(ctx context.Context, userID string) ([]Position, error) {
	return r.positions(ctx, `SELECT `+positionColumns+` FROM staking_positions
        WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
}

func (r *PostgresRepository) StakedPositions(ctx context.Context) ([]Position, error) {
	return r.positions(ctx, `SELECT `+positionColumns+` FROM staking_positions WHERE staked > 0`)
}

func (r *PostgresRepository) SavePosition(ctx context.Context, p Position, stakedDelta int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO staking_positions (`+positionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (pool_id, user_id) DO UPDATE SET
            staked = EXCLUDED.staked,
            rewards_accrued = EXCLUDED.rewards_accrued,
            last_accrual = EXCLUDED.last_accrual,
            updated_at = EXCLUDED.updated_at`,
		p.PoolID, p.UserID, p.Staked, p.RewardsAccrued, p.LastAccrual, p.UpdatedAt); err != nil {
		return err
	}
	if stakedDelta != 0 {
		tag, err := tx.Exec(ctx, `UPDATE staking_pools SET total_staked = total_staked + $2 WHERE id = $1`, p.PoolID, stakedDelta)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrPoolNotFound
		}
	}
	return tx.Commit(ctx)
}

type positionKey struct{ pool, user string }

type memoryRepository struct {
	mu        sync.RWMutex
	pools     map[string]Pool
	positions map[positionKey]Position
}

// DefaultPools mirrors the pools seeded by the database migrations.
func DefaultPools() []Pool {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Pool{
		{ID: "6f0b4a52-3c1e-4c61-9a5f-0d2f5a8e1a01", Name: "KES Stable Pool", Token: "KES", APYBps: 800, Active: true, CreatedAt: created},
		{ID: "6f0b4a52-3c1e-4c61-9a5f-0d2f5a8e1a02", Name: "Merchant Liquidity Pool", Token: "KES", APYBps: 1200, Active: true, CreatedAt: created},
	}
}

// NewMemoryRepository returns an in-memory repository holding pools.
func NewMemoryRepository(pools ...Pool) Repository {
	r := &memoryRepository{pools: map[string]Pool{}, positions: map[positionKey]Position{}}
	for _, p := range pools {
		r.pools[p.ID] = p
	}
	return r
}

func (r *memoryRepository) ListPools(context.Context) ([]Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].APYBps != out[j].APYBps {
			return out[i].APYBps < out[j].APYBps
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memoryRepository) GetPool(_ context.Context, id string) (Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	if !ok {
		return Pool{}, ErrPoolNotFound
	}
	return p, nil
}

func (r *memoryRepository) GetPosition(_ context.Context, poolID, userID string) (Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[positionKey{poolID, userID}]
	if !ok {
		return Position{}, ErrNoPosition
	}
	return p, nil
}

func (r *memoryRepository) Positions(_ context.Context, userID string) ([]Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Position
	for k, p := range r.positions {
		if k.user == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryRepository) StakedPositions(context.Context) ([]Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Position
	for _, p := range r.positions {
		if p.Staked > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepository) SavePosition(_ context.Context, p Position, stakedDelta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[p.PoolID]
	if !ok {
		return ErrPoolNotFound
	}
	pool.TotalStaked += stakedDelta
	r.pools[p.PoolID] = pool
	r.positions[positionKey{p.PoolID, p.UserID}] = p
	return nil
}
