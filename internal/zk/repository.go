package zk

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists issued inputs and submitted proofs.
type Repository interface {
	SaveInputs(ctx context.Context, in Inputs) error
	GetInputs(ctx context.Context, id string) (Inputs, error)
	// SaveProof fails with ErrAlreadyProven when the inputs already carry a proof.
	SaveProof(ctx context.Context, p Proof) error
	ListProofs(ctx context.Context, userID string) ([]Proof, error)
}

// PostgresRepository stores zk data in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const inputColumns = `id, user_id, score, repayment_behavior, account_age, on_chain_history, did_verification,
    salt, commitment, issued_at, expires_at`

func (r *PostgresRepository) SaveInputs(ctx context.Context, in Inputs) error {
	_, err := r.db.Exec(ctx, `INSERT INTO zk_inputs (`+inputColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.ID, in.UserID, in.Score, in.RepaymentBehavior, in.AccountAge, in.OnChainHistory, in.DIDVerification,
		in.Salt, in.Commitment, in.IssuedAt, in.ExpiresAt)
	return err
}

func (r *PostgresRepository) GetInputs(ctx context.Context, id string) (Inputs, error) {
	var in Inputs
	err := r.db.QueryRow(ctx, `SELECT `+inputColumns+` FROM zk_inputs WHERE id = $1`, id).Scan(
		&in.ID, &in.UserID, &in.Score, &in.RepaymentBehavior, &in.AccountAge, &in.OnChainHistory, &in.DIDVerification,
		&in.Salt, &in.Commitment, &in.IssuedAt, &in.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Inputs{}, ErrNotFound
	}
	return in, err
}

func (r *PostgresRepository) SaveProof(ctx context.Context, p Proof) error {
	_, err := r.db.Exec(ctx, `INSERT INTO zk_proofs (id, user_id, inputs_id, commitment, proof_hash, status, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.UserID, p.InputsID, p.Commitment, p.ProofHash, p.Status, p.SubmittedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyProven
	}
	return err
}

func (r *PostgresRepository) ListProofs(ctx context.Context, userID string) ([]Proof, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, inputs_id, commitment, proof_hash, status, submitted_at
        FROM zk_proofs WHERE user_id = $1 ORDER BY submitted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Proof, error) {
		var p Proof
		err := row.Scan(&p.ID, &p.UserID, &p.InputsID, &p.Commitment, &p.ProofHash, &p.Status, &p.SubmittedAt)
		return p, err
	})
}

type memoryRepository struct {
	mu     sync.RWMutex
	inputs map[string]Inputs
	proofs map[string]Proof
}

// NewMemoryRepository returns an in-memory zk repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{inputs: make(map[string]Inputs), proofs: make(map[string]Proof)}
}

func (r *memoryRepository) SaveInputs(_ context.Context, in Inputs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[in.ID] = in
	return nil
}

func (r *memoryRepository) GetInputs(_ context.Context, id string) (Inputs, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inputs[id]
	if !ok {
		return Inputs{}, ErrNotFound
	}
	return in, nil
}

func (r *memoryRepository) SaveProof(_ context.Context, p Proof) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proofs[p.InputsID]; ok {
		return ErrAlreadyProven
	}
	r.proofs[p.InputsID] = p
	return nil
}

func (r *memoryRepository) ListProofs(_ context.Context, userID string) ([]Proof, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Proof
	for _, p := range r.proofs {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}
