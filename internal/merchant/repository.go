package merchant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// Repository persists stores, products and payouts.
type Repository interface {
	CreateStore(ctx context.Context, s Store) error
	UpdateStore(ctx context.Context, s Store) error
	GetStore(ctx context.Context, id string) (Store, error)
	ListStores(ctx context.Context, f StoreFilter, p httpx.Page) ([]Store, int, error)
	AllStores(ctx context.Context, f StoreFilter) ([]Store, error)
	CountStoresByStatus(ctx context.Context) (map[string]int, error)

	CreateProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id string) error
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, f ProductFilter, p httpx.Page) ([]Product, int, error)
	// AdjustStock applies every change or none, failing with ErrInsufficientStock
	// when a change would drive stock below zero.
	AdjustStock(ctx context.Context, changes []StockChange) error

	CreatePayout(ctx context.Context, p Payout) error
	PayoutByClientTxID(ctx context.Context, clientTxID string) (Payout, error)
	ListPayouts(ctx context.Context, storeIDs []string, p httpx.Page) ([]Payout, int, error)
}

// PostgresRepository stores merchant data in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres merchant repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const storeColumns = `id, owner_id, name, description, category, logo_url, status, integration_type,
    external_url, fee_bps, created_at, updated_at`

func scanStore(row pgx.Row) (Store, error) {
	var s Store
	err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Description, &s.Category, &s.LogoURL, &s.Status,
		&s.IntegrationType, &s.ExternalURL, &s.FeeBps, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *PostgresRepository) CreateStore(ctx context.Context, s Store) error {
	_, err := r.db.Exec(ctx, `INSERT INTO stores (`+storeColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.OwnerID, s.Name, s.Description, s.Category, s.LogoURL, s.Status,
		s.IntegrationType, s.ExternalURL, s.FeeBps, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateStore(ctx context.Context, s Store) error {
	tag, err := r.db.Exec(ctx, `UPDATE stores SET name = $2, description = $3, category = $4, logo_url = $5,
        status = $6, integration_type = $7, external_url = $8, fee_bps = $9, updated_at = $10 WHERE id = $1`,
		s.ID, s.Name, s.Description, s.Category, s.LogoURL, s.Status, s.IntegrationType, s.ExternalURL, s.FeeBps, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetStore(ctx context.Context, id string) (Store, error) {
	s, err := scanStore(r.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrNotFound
	}
	return s, err
}

func storeWhere(f StoreFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("lower(category) = lower($%d)", f.Category)
	}
	if f.Search != "" {
		add("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) ListStores(ctx context.Context, f StoreFilter, p httpx.Page) ([]Store, int, error) {
	where, args := storeWhere(f)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM stores`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, p.Limit, p.Offset())
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT `+storeColumns+` FROM stores`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	stores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Store, error) { return scanStore(row) })
	return stores, total, err
}

func (r *PostgresRepository) AllStores(ctx context.Context, f StoreFilter) ([]Store, error) {
	where, args := storeWhere(f)
	rows, err := r.db.Query(ctx, `SELECT `+storeColumns+` FROM stores`+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Store, error) { return scanStore(row) })
}

func (r *PostgresRepository) CountStoresByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM stores GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

const productColumns = `p.id, p.store_id, p.name, p.description, p.price, p.stock, p.category, p.image_url, p.created_at, p.updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, p Product) error {
	_, err := r.db.Exec(ctx, `INSERT INTO products (id, store_id, name, description, price, stock, category, image_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.StoreID, p.Name, p.Description, p.Price, p.Stock, p.Category, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET name = $2, description = $3, price = $4, stock = $5,
        category = $6, image_url = $7, updated_at = $8 WHERE id = $1 AND NOT deleted`,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.Category, p.ImageURL, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteProduct(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET deleted = TRUE, updated_at = now() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1 AND NOT p.deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *PostgresRepository) ListProducts(ctx context.Context, f ProductFilter, pg httpx.Page) ([]Product, int, error) {
	conds := []string{"NOT p.deleted"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.StoreID != "" {
		add("p.store_id = $%d", f.StoreID)
	}
	if f.Category != "" {
		add("lower(p.category) = lower($%d)", f.Category)
	}
	if f.Search != "" {
		add("(p.name ILIKE $%[1]d OR p.description ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if f.ActiveOnly {
		conds = append(conds, "s.status = 'active'")
	}
	from := ` FROM products p JOIN stores s ON s.id = p.store_id WHERE ` + strings.Join(conds, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, pg.Limit, pg.Offset())
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT `+productColumns+from+
		` ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) { return scanProduct(row) })
	return products, total, err
}

func (r *PostgresRepository) AdjustStock(ctx context.Context, changes []StockChange) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, c := range changes {
			tag, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now()
                WHERE id = $1 AND NOT deleted AND stock + $2 >= 0`, c.ProductID, c.Delta)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND NOT deleted)`, c.ProductID).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrProductNotFound
				}
				return fmt.Errorf("%w: product %s", ErrInsufficientStock, c.ProductID)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) CreatePayout(ctx context.Context, p Payout) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payouts (id, store_id, amount, status, destination, settlement_id,
        provider_reference, client_tx_id, created_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8, $9)`,
		p.ID, p.StoreID, p.Amount, p.Status, p.Destination, p.SettlementID, p.ProviderReference, p.ClientTxID, p.CreatedAt)
	return err
}

func (r *PostgresRepository) PayoutByClientTxID(ctx context.Context, clientTxID string) (Payout, error) {
	var p Payout
	err := r.db.QueryRow(ctx, `SELECT id, store_id, amount, status, destination, COALESCE(settlement_id::text, ''),
        provider_reference, client_tx_id, created_at
        FROM payouts WHERE client_tx_id = $1`, clientTxID).Scan(&p.ID, &p.StoreID, &p.Amount, &p.Status, &p.Destination,
		&p.SettlementID, &p.ProviderReference, &p.ClientTxID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payout{}, ErrPayoutNotFound
	}
	return p, err
}

func (r *PostgresRepository) ListPayouts(ctx context.Context, storeIDs []string, pg httpx.Page) ([]Payout, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM payouts WHERE store_id = ANY($1::uuid[])`, storeIDs).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, store_id, amount, status, destination, COALESCE(settlement_id::text, ''),
        provider_reference, client_tx_id, created_at
        FROM payouts WHERE store_id = ANY($1::uuid[]) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		storeIDs, pg.Limit, pg.Offset())
	if err != nil {
		return nil, 0, err
	}
	payouts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Payout, error) {
		var p Payout
		err := row.Scan(&p.ID, &p.StoreID, &p.Amount, &p.Status, &p.Destination, &p.SettlementID,
			&p.ProviderReference, &p.ClientTxID, &p.CreatedAt)
		return p, err
	})
	return payouts, total, err
}
