package did

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists DID documents and issued credentials.
type Repository interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, did string) (Record, error)
	ActiveForUser(ctx context.Context, userID string) (Record, error)
	Update(ctx context.Context, r Record) error

	SaveCredential(ctx context.Context, c Credential) error
	GetCredential(ctx context.Context, id string) (StoredCredential, error)
	ListCredentials(ctx context.Context, subject string) ([]StoredCredential, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO did_documents (did, user_id, document, deactivated, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, rec.DID, rec.UserID, doc, rec.Document.Deactivated, rec.CreatedAt, rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var doc []byte
	if err := row.Scan(&rec.DID, &rec.UserID, &doc, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if err := json.Unmarshal(doc, &rec.Document); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, did string) (Record, error) {
	return scanRecord(r.db.QueryRow(ctx, `SELECT did, user_id, document, created_at, updated_at
        FROM did_documents WHERE did = $1`, did))
}

func (r *PostgresRepository) ActiveForUser(ctx context.Context, userID string) (Record, error) {
	return scanRecord(r.db.QueryRow(ctx, `SELECT did, user_id, document, created_at, updated_at
        FROM did_documents WHERE user_id = $1 AND NOT deactivated
        ORDER BY created_at DESC LIMIT 1`, userID))
}

func (r *PostgresRepository) Update(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE did_documents SET document = $2, deactivated = $3, updated_at = $4
        WHERE did = $1`, rec.DID, doc, rec.Document.Deactivated, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SaveCredential(ctx context.Context, c Credential) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO credentials (id, subject_did, issuer, document, issued_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, c.ID, c.Subject(), c.Issuer, doc, c.IssuanceDate, c.ExpirationDate)
	return err
}

func scanCredential(row pgx.Row) (StoredCredential, error) {
	var sc StoredCredential
	var doc []byte
	if err := row.Scan(&doc, &sc.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredCredential{}, ErrCredentialNotFound
		}
		return StoredCredential{}, err
	}
	if err := json.Unmarshal(doc, &sc.Credential); err != nil {
		return StoredCredential{}, err
	}
	return sc, nil
}

func (r *PostgresRepository) GetCredential(ctx context.Context, id string) (StoredCredential, error) {
	return scanCredential(r.db.QueryRow(ctx, `SELECT document, revoked_at FROM credentials WHERE id = $1`, id))
}

func (r *PostgresRepository) ListCredentials(ctx context.Context, subject string) ([]StoredCredential, error) {
	rows, err := r.db.Query(ctx, `SELECT document, revoked_at FROM credentials
        WHERE subject_did = $1 ORDER BY issued_at DESC`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredCredential
	for rows.Next() {
		sc, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE credentials SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

type memoryRepository struct {
	mu          sync.RWMutex
	docs        map[string]Record
	credentials map[string]StoredCredential
}

func NewMemoryRepository() Repository {
	return &memoryRepository{docs: map[string]Record{}, credentials: map[string]StoredCredential{}}
}

func (r *memoryRepository) Create(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[rec.DID]; ok {
		return ErrAlreadyExists
	}
	r.docs[rec.DID] = rec
	return nil
}

func (r *memoryRepository) Get(_ context.Context, did string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.docs[did]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepository) ActiveForUser(_ context.Context, userID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.docs {
		if rec.UserID == userID && !rec.Document.Deactivated {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[rec.DID]; !ok {
		return ErrNotFound
	}
	r.docs[rec.DID] = rec
	return nil
}

func (r *memoryRepository) SaveCredential(_ context.Context, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials[c.ID] = StoredCredential{Credential: c}
	return nil
}

func (r *memoryRepository) GetCredential(_ context.Context, id string) (StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.credentials[id]
	if !ok {
		return StoredCredential{}, ErrCredentialNotFound
	}
	return sc, nil
}

func (r *memoryRepository) ListCredentials(_ context.Context, subject string) ([]StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StoredCredential
	for _, sc := range r.credentials {
		if sc.Credential.Subject() == subject {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Credential.IssuanceDate.After(out[j].Credential.IssuanceDate)
	})
	return out, nil
}

func (r *memoryRepository) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.credentials[id]
	if !ok {
		return ErrCredentialNotFound
	}
	if sc.RevokedAt == nil {
		sc.RevokedAt = &at
		r.credentials[id] = sc
	}
	return nil
}
