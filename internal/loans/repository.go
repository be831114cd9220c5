package loans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists loans with their installments and repayments.
type Repository interface {
	Create(ctx context.Context, loan Loan) error
	// Get loads a loan with installments and repayments.
	Get(ctx context.Context, id string) (Loan, error)
	// Save writes loan state and installments, failing with ErrConflict when
	// loan.Version no longer matches the stored row.
	Save(ctx context.Context, loan Loan) error
	// AddRepayment saves the loan and records r atomically.
	AddRepayment(ctx context.Context, loan Loan, r Repayment) error
	RepaymentByPayment(ctx context.Context, paymentID string) (Repayment, error)
	// Find returns matching loans with installments, newest first.
	Find(ctx context.Context, f Filter) ([]Loan, error)
	// List pages matching loans without installments.
	List(ctx context.Context, f Filter, p httpx.Page) ([]Loan, int, error)
	Stats(ctx context.Context) (Stats, error)
}

// PostgresRepository stores loans in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres loan repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const loanColumns = `id, user_id, store_id, COALESCE(order_id::text, ''), principal, interest_bps, term_months,
    total_repayable, outstanding, status, purpose, credit_score, rejection_reason, applied_at,
    approved_at, disbursed_at, repaid_at, defaulted_at, due_date, updated_at, version`

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.UserID, &l.StoreID, &l.OrderID, &l.Principal, &l.InterestBps, &l.TermMonths,
		&l.TotalRepayable, &l.Outstanding, &l.Status, &l.Purpose, &l.CreditScore, &l.RejectionReason, &l.AppliedAt,
		&l.ApprovedAt, &l.DisbursedAt, &l.RepaidAt, &l.DefaultedAt, &l.DueDate, &l.UpdatedAt, &l.Version)
	return l, err
}

func (r *PostgresRepository) Create(ctx context.Context, l Loan) error {
	_, err := r.db.Exec(ctx, `INSERT INTO loans (id, user_id, store_id, order_id, principal, interest_bps, term_months,
        total_repayable, outstanding, status, purpose, credit_score, applied_at, updated_at, version)
        VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0)`,
		l.ID, l.UserID, l.StoreID, l.OrderID, l.Principal, l.InterestBps, l.TermMonths,
		l.TotalRepayable, l.Outstanding, l.Status, l.Purpose, l.CreditScore, l.AppliedAt, l.UpdatedAt)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Loan, error) {
	l, err := scanLoan(r.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, ErrNotFound
	}
	if err != nil {
		return Loan{}, err
	}
	byLoan, err := r.installments(ctx, []string{l.ID})
	if err != nil {
		return Loan{}, err
	}
	l.Installments = byLoan[l.ID]

	rows, err := r.db.Query(ctx, `SELECT id, loan_id, payment_id, amount, method, created_at
        FROM repayments WHERE loan_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return Loan{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rp Repayment
		if err := rows.Scan(&rp.ID, &rp.LoanID, &rp.PaymentID, &rp.Amount, &rp.Method, &rp.CreatedAt); err != nil {
			return Loan{}, err
		}
		l.Repayments = append(l.Repayments, rp)
	}
	return l, rows.Err()
}

func (r *PostgresRepository) installments(ctx context.Context, loanIDs []string) (map[string][]Installment, error) {
	out := make(map[string][]Installment, len(loanIDs))
	if len(loanIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT loan_id, seq, due_date, principal, interest, amount, paid, status, paid_at
        FROM installments WHERE loan_id = ANY($1::uuid[]) ORDER BY loan_id, seq`, loanIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var loanID string
		var in Installment
		if err := rows.Scan(&loanID, &in.Seq, &in.DueDate, &in.Principal, &in.Interest, &in.Amount, &in.Paid, &in.Status, &in.PaidAt); err != nil {
			return nil, err
		}
		out[loanID] = append(out[loanID], in)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Save(ctx context.Context, l Loan) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return saveLoan(ctx, tx, l)
	})
}

func (r *PostgresRepository) AddRepayment(ctx context.Context, l Loan, rp Repayment) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := saveLoan(ctx, tx, l); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO repayments (id, loan_id, payment_id, amount, method, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)`, rp.ID, rp.LoanID, rp.PaymentID, rp.Amount, rp.Method, rp.CreatedAt)
		return err
	})
}

func saveLoan(ctx context.Context, tx pgx.Tx, l Loan) error {
	tag, err := tx.Exec(ctx, `UPDATE loans SET total_repayable = $3, outstanding = $4, status = $5,
        rejection_reason = $6, approved_at = $7, disbursed_at = $8, repaid_at = $9, defaulted_at = $10,
        due_date = $11, updated_at = $12, version = version + 1
        WHERE id = $1 AND version = $2`,
		l.ID, l.Version, l.TotalRepayable, l.Outstanding, l.Status, l.RejectionReason,
		l.ApprovedAt, l.DisbursedAt, l.RepaidAt, l.DefaultedAt, l.DueDate, l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	for _, in := range l.Installments {
		if _, err := tx.Exec(ctx, `INSERT INTO installments (loan_id, seq, due_date, principal, interest, amount, paid, status, paid_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
            ON CONFLICT (loan_id, seq) DO UPDATE SET paid = EXCLUDED.paid, status = EXCLUDED.status, paid_at = EXCLUDED.paid_at`,
			l.ID, in.Seq, in.DueDate, in.Principal, in.Interest, in.Amount, in.Paid, in.Status, in.PaidAt); err != nil {
			return fmt.Errorf("save installment %d: %w", in.Seq, err)
		}
	}
	return nil
}

func (r *PostgresRepository) RepaymentByPayment(ctx context.Context, paymentID string) (Repayment, error) {
	var rp Repayment
	err := r.db.QueryRow(ctx, `SELECT id, loan_id, payment_id, amount, method, created_at
        FROM repayments WHERE payment_id = $1`, paymentID).
		Scan(&rp.ID, &rp.LoanID, &rp.PaymentID, &rp.Amount, &rp.Method, &rp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Repayment{}, ErrNotFound
	}
	return rp, err
}

func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.StoreIDs != nil {
		args = append(args, f.StoreIDs)
		conds = append(conds, fmt.Sprintf("store_id = ANY($%d::uuid[])", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) Find(ctx context.Context, f Filter) ([]Loan, error) {
	where, args := whereClause(f)
	rows, err := r.db.Query(ctx, `SELECT `+loanColumns+` FROM loans`+where+` ORDER BY applied_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	loans, err := collectLoans(rows)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(loans))
	for i, l := range loans {
		ids[i] = l.ID
	}
	byLoan, err := r.installments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range loans {
		loans[i].Installments = byLoan[loans[i].ID]
	}
	return loans, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter, p httpx.Page) ([]Loan, int, error) {
	where, args := whereClause(f)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM loans`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, p.Limit, p.Offset())
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT `+loanColumns+` FROM loans`+where+
		` ORDER BY applied_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	loans, err := collectLoans(rows)
	return loans, total, err
}

func collectLoans(rows pgx.Rows) ([]Loan, error) {
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: map[string]int{}}
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM loans GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	err = r.db.QueryRow(ctx, `SELECT
            COALESCE(SUM(principal) FILTER (WHERE disbursed_at IS NOT NULL), 0),
            COALESCE(SUM(outstanding) FILTER (WHERE status IN ('active', 'defaulted')), 0),
            (SELECT COALESCE(SUM(amount), 0) FROM repayments)
        FROM loans`).Scan(&stats.Disbursed, &stats.Outstanding, &stats.Repaid)
	if err != nil {
		return Stats{}, err
	}
	stats.DefaultRate = defaultRate(stats.ByStatus)
	return stats, nil
}

// defaultRate is defaulted loans over loans that were ever disbursed.
func defaultRate(byStatus map[string]int) float64 {
	disbursed := byStatus[StatusActive] + byStatus[StatusPaid] + byStatus[StatusDefaulted]
	if disbursed == 0 {
		return 0
	}
	return float64(byStatus[StatusDefaulted]) / float64(disbursed)
}

type memoryRepository struct {
	mu         sync.RWMutex
	loans      map[string]Loan
	repayments map[string]Repayment
}

// NewMemoryRepository constructs an in-memory loan repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{loans: make(map[string]Loan), repayments: make(map[string]Repayment)}
}

func cloneLoan(l Loan) Loan {
	l.Installments = append([]Installment(nil), l.Installments...)
	l.Repayments = append([]Repayment(nil), l.Repayments...)
	return l
}

func (r *memoryRepository) Create(_ context.Context, l Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loans[l.ID]; ok {
		return fmt.Errorf("loan %s already exists", l.ID)
	}
	l.Version = 0
	r.loans[l.ID] = cloneLoan(l)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loans[id]
	if !ok {
		return Loan{}, ErrNotFound
	}
	return cloneLoan(l), nil
}

func (r *memoryRepository) saveLocked(l Loan) error {
	current, ok := r.loans[l.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != l.Version {
		return ErrConflict
	}
	l.Version++
	l.Repayments = current.Repayments
	r.loans[l.ID] = cloneLoan(l)
	return nil
}

func (r *memoryRepository) Save(_ context.Context, l Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(l)
}

func (r *memoryRepository) AddRepayment(_ context.Context, l Loan, rp Repayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveLocked(l); err != nil {
		return err
	}
	stored := r.loans[l.ID]
	stored.Repayments = append(stored.Repayments, rp)
	r.loans[l.ID] = stored
	r.repayments[rp.PaymentID] = rp
	return nil
}

func (r *memoryRepository) RepaymentByPayment(_ context.Context, paymentID string) (Repayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.repayments[paymentID]
	if !ok {
		return Repayment{}, ErrNotFound
	}
	return rp, nil
}

func (r *memoryRepository) match(f Filter) []Loan {
	var out []Loan
	for _, l := range r.loans {
		if f.UserID != "" && l.UserID != f.UserID {
			continue
		}
		if f.StoreIDs != nil && !contains(f.StoreIDs, l.StoreID) {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, l.Status) {
			continue
		}
		out = append(out, cloneLoan(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.After(out[j].AppliedAt) })
	return out
}

func (r *memoryRepository) Find(_ context.Context, f Filter) ([]Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.match(f)
	for i := range out {
		out[i].Repayments = nil
	}
	return out, nil
}

func (r *memoryRepository) List(_ context.Context, f Filter, p httpx.Page) ([]Loan, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.match(f)
	page := httpx.Window(all, p)
	for i := range page {
		page[i].Installments = nil
		page[i].Repayments = nil
	}
	return page, len(all), nil
}

func (r *memoryRepository) Stats(_ context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{ByStatus: map[string]int{}}
	for _, l := range r.loans {
		stats.Total++
		stats.ByStatus[l.Status]++
		if l.DisbursedAt != nil {
			stats.Disbursed += l.Principal
		}
		if l.Status == StatusActive || l.Status == StatusDefaulted {
			stats.Outstanding += l.Outstanding
		}
	}
	for _, rp := range r.repayments {
		stats.Repaid += rp.Amount
	}
	stats.DefaultRate = defaultRate(stats.ByStatus)
	return stats, nil
}
