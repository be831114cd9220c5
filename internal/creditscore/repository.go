package creditscore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists score calculations.
type Repository interface {
	Save(ctx context.Context, s Score) error
	Latest(ctx context.Context, userID string) (Score, error)
	History(ctx context.Context, userID string, limit int) ([]Score, error)
}

// PostgresRepository stores scores in PostgreSQL with factors as JSONB.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres score repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const scoreColumns = `id, user_id, score, previous_score, rating, factors, recommendations, data_source, calculated_at, valid_until`

func (r *PostgresRepository) Save(ctx context.Context, s Score) error {
	factors, err := json.Marshal(s.Factors)
	if err != nil {
		return err
	}
	recs, err := json.Marshal(s.Recommendations)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO credit_scores (`+scoreColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.Score, s.PreviousScore, s.Rating, factors, recs, s.DataSource, s.CalculatedAt, s.ValidUntil)
	return err
}

func scanScore(row pgx.Row) (Score, error) {
	var s Score
	var factors, recs []byte
	if err := row.Scan(&s.ID, &s.UserID, &s.Score, &s.PreviousScore, &s.Rating, &factors, &recs, &s.DataSource, &s.CalculatedAt, &s.ValidUntil); err != nil {
		return Score{}, err
	}
	if err := json.Unmarshal(factors, &s.Factors); err != nil {
		return Score{}, err
	}
	if err := json.Unmarshal(recs, &s.Recommendations); err != nil {
		return Score{}, err
	}
	s.MaxScore = MaxScore
	return s, nil
}

func (r *PostgresRepository) Latest(ctx context.Context, userID string) (Score, error) {
	s, err := scanScore(r.db.QueryRow(ctx, `SELECT `+scoreColumns+` FROM credit_scores
        WHERE user_id = $1 ORDER BY calculated_at DESC LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Score{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) History(ctx context.Context, userID string, limit int) ([]Score, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scoreColumns+` FROM credit_scores
        WHERE user_id = $1 ORDER BY calculated_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Score
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type memoryRepository struct {
	mu     sync.RWMutex
	scores map[string][]Score
}

// NewMemoryRepository constructs an in-memory score repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{scores: make(map[string][]Score)}
}

func (r *memoryRepository) Save(_ context.Context, s Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[s.UserID] = append(r.scores[s.UserID], s)
	return nil
}

func (r *memoryRepository) Latest(_ context.Context, userID string) (Score, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.scores[userID]
	if len(list) == 0 {
		return Score{}, ErrNotFound
	}
	return list[len(list)-1], nil
}

func (r *memoryRepository) History(_ context.Context, userID string, limit int) ([]Score, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.scores[userID]
	var out []Score
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
