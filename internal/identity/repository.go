package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByWallet(ctx context.Context, address string) (User, error)
	Update(ctx context.Context, user User) error
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, f Filter, p httpx.Page) ([]User, int, error)
	CountByRole(ctx context.Context) (map[string]int, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, COALESCE(email, ''), phone, password_hash, first_name, last_name, role, status,
        COALESCE(wallet_address, ''), did, theme, email_notifications, push_notifications,
        token_version, created_at, updated_at, last_login`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, phone, password_hash, first_name, last_name, role, status,
        wallet_address, did, theme, email_notifications, push_notifications, token_version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		userID, nullable(user.Email), user.Phone, user.PasswordHash, user.FirstName, user.LastName, user.Role, user.Status,
		nullable(user.WalletAddress), user.DID, user.Settings.Theme, user.Settings.EmailNotifications, user.Settings.PushNotifications,
		user.TokenVersion, user.CreatedAt.UTC())
	return mapUniqueViolation(err)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// FindByEmail fetches a user by (normalized) email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByWallet fetches the user a wallet address is linked to.
func (r *PostgresRepository) FindByWallet(ctx context.Context, address string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE lower(wallet_address) = lower($1)`, address)
}

// Update stores mutable profile, role, status and preference fields.
func (r *PostgresRepository) Update(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET phone = $2, first_name = $3, last_name = $4, role = $5, status = $6,
        wallet_address = $7, did = $8, theme = $9, email_notifications = $10, push_notifications = $11, updated_at = now()
        WHERE id = $1`,
		userID, user.Phone, user.FirstName, user.LastName, user.Role, user.Status, nullable(user.WalletAddress), user.DID,
		user.Settings.Theme, user.Settings.EmailNotifications, user.Settings.PushNotifications)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokenVersion stores a new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.exec(ctx, `UPDATE users SET token_version = $2 WHERE id = $1`, id, version)
}

// TouchLogin records the last successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at.UTC())
}

// List returns one page of users matching f, newest first, with the total match count.
func (r *PostgresRepository) List(ctx context.Context, f Filter, p httpx.Page) ([]User, int, error) {
	where, args := []string{"TRUE"}, []any{}
	if f.Role != "" {
		args = append(args, f.Role)
		where = append(where, "role = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(first_name ILIKE $"+n+" OR last_name ILIKE $"+n+" OR email ILIKE $"+n+")")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond+
		` ORDER BY created_at DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// CountByRole returns the number of users per role.
func (r *PostgresRepository) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT role, count(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			role  string
			count int
		)
		if err := rows.Scan(&role, &count); err != nil {
			return nil, err
		}
		out[role] = count
	}
	return out, rows.Err()
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

func (r *PostgresRepository) exec(ctx context.Context, query string, id string, arg any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, query, userID, arg)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		user      User
		lastLogin *time.Time
	)
	if err := row.Scan(&id, &user.Email, &user.Phone, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role,
		&user.Status, &user.WalletAddress, &user.DID, &user.Settings.Theme, &user.Settings.EmailNotifications,
		&user.Settings.PushNotifications, &user.TokenVersion, &user.CreatedAt, &user.UpdatedAt, &lastLogin); err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	if lastLogin != nil {
		t := lastLogin.UTC()
		user.LastLogin = &t
	}
	return user, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "wallet") {
			return ErrWalletTaken
		}
		return ErrEmailTaken
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
