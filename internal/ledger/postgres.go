package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	const query = `
        SELECT a.id, COALESCE(SUM(e.amount), 0)
        FROM accounts a
        LEFT JOIN entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`
	var (
		id      uuid.UUID
		balance int64
	)
	if err := l.db.QueryRow(ctx, query, code).Scan(&id, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return 0, err
	}
	return balance, nil
}

// Transfer records a balanced posting between two accounts.
func (l *PostgresLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	if amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}
	txID, _, err := l.post(ctx, kind, clientTxID, StatusCompleted, fromCode, toCode, amount)
	if err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		return TransactionResult{}, err
	}
	fromBal, balErr := l.Balance(ctx, fromCode)
	if balErr != nil {
		return TransactionResult{}, balErr
	}
	toBal, balErr := l.Balance(ctx, toCode)
	if balErr != nil {
		return TransactionResult{}, balErr
	}
	return TransactionResult{TransactionID: txID, FromBalance: fromBal, ToBalance: toBal}, err
}

// Inflow records money arriving through a rail and holds the offset in suspense until settlement.
func (l *PostgresLedger) Inflow(ctx context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error) {
	return l.fund(ctx, inflowKind(rail), clientTxID, SuspenseAccount(rail), code, code, amount)
}

// Outflow debits an account for money leaving through a rail.
func (l *PostgresLedger) Outflow(ctx context.Context, rail, code, clientTxID string, amount int64) (FundingResult, error) {
	return l.fund(ctx, outflowKind(rail), clientTxID, code, SuspenseAccount(rail), code, amount)
}

func (l *PostgresLedger) FindInflow(ctx context.Context, rail, code, clientTxID string) (FundingResult, error) {
	return l.find(ctx, inflowKind(rail), clientTxID, code)
}

func (l *PostgresLedger) FindOutflow(ctx context.Context, rail, code, clientTxID string) (FundingResult, error) {
	return l.find(ctx, outflowKind(rail), clientTxID, code)
}

func (l *PostgresLedger) find(ctx context.Context, kind, clientTxID, subject string) (FundingResult, error) {
	var (
		id     uuid.UUID
		status string
	)
	err := l.db.QueryRow(ctx, `SELECT id, status FROM transactions WHERE client_tx_id = $1 AND kind = $2`, clientTxID, kind).Scan(&id, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return FundingResult{}, ErrTransactionNotFound
	}
	if err != nil {
		return FundingResult{}, err
	}
	balance, err := l.Balance(ctx, subject)
	if err != nil {
		return FundingResult{}, err
	}
	return FundingResult{TransactionID: id.String(), AccountBalance: balance, Status: status}, nil
}

func (l *PostgresLedger) fund(ctx context.Context, kind, clientTxID, fromCode, toCode, subject string, amount int64) (FundingResult, error) {
	if amount <= 0 {
		return FundingResult{}, ErrInvalidAmount
	}
	for _, code := range []string{fromCode, toCode} {
		if IsSystemAccount(code) {
			if err := l.EnsureAccount(ctx, code); err != nil {
				return FundingResult{}, err
			}
		}
	}
	txID, status, err := l.post(ctx, kind, clientTxID, StatusPendingSettlement, fromCode, toCode, amount)
	if err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		return FundingResult{}, err
	}
	balance, balErr := l.Balance(ctx, subject)
	if balErr != nil {
		return FundingResult{}, balErr
	}
	return FundingResult{TransactionID: txID, AccountBalance: balance, Status: status}, err
}

// post writes one transaction with two entries. On a replayed (kind, clientTxID)
// it returns the original id and status with ErrDuplicateTransaction.
func (l *PostgresLedger) post(ctx context.Context, kind, clientTxID, status, fromCode, toCode string, amount int64) (string, string, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock accounts in a stable order so concurrent opposite transfers cannot deadlock.
	first, second := fromCode, toCode
	if second < first {
		first, second = second, first
	}
	ids := map[string]uuid.UUID{}
	for _, code := range []string{first, second} {
		id, err := accountIDForCode(ctx, tx, code)
		if err != nil {
			return "", "", err
		}
		ids[code] = id
	}

	const existingTxQuery = `SELECT id, status FROM transactions WHERE client_tx_id = $1 AND kind = $2`
	var (
		existingID     uuid.UUID
		existingStatus string
	)
	err = tx.QueryRow(ctx, existingTxQuery, clientTxID, kind).Scan(&existingID, &existingStatus)
	if err == nil {
		return existingID.String(), existingStatus, ErrDuplicateTransaction
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", "", err
	}

	if !IsSystemAccount(fromCode) {
		fromBalance, err := balanceForAccount(ctx, tx, ids[fromCode])
		if err != nil {
			return "", "", err
		}
		if fromBalance < amount {
			return "", "", ErrInsufficientFunds
		}
	}

	now := time.Now().UTC()
	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		txID, clientTxID, kind, status, now); err != nil {
		return "", "", err
	}
	const entryInsert = `INSERT INTO entries (id, transaction_id, account_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, ids[fromCode], -amount, now); err != nil {
		return "", "", err
	}
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, ids[toCode], amount, now); err != nil {
		return "", "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", err
	}
	return txID.String(), status, nil
}

// History returns the most recent entries posted to code, newest first.
func (l *PostgresLedger) History(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT t.id, t.kind, t.status, e.amount, e.created_at
        FROM entries e
        INNER JOIN accounts a ON a.id = e.account_id
        INNER JOIN transactions t ON t.id = e.transaction_id
        WHERE a.code = $1
        ORDER BY e.created_at DESC
        LIMIT $2`
	rows, err := l.db.Query(ctx, query, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id uuid.UUID
			e  Entry
		)
		if err := rows.Scan(&id, &e.Kind, &e.Status, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TransactionID = id.String()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	const query = `SELECT id FROM accounts WHERE code = $1 FOR UPDATE`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}
