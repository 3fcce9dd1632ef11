package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dzmarkets/pricewire/pkg/models"
)

// Compile-time check to ensure PostgresStore implements EntityStore
var _ EntityStore = (*PostgresStore)(nil)

// PostgresStore is the pgx-backed entity store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const entryColumns = `
	pe.id, pe.product_id, pe.market_id, pe.vendor_id, pe.user_id,
	pe.price::text, pe.currency, COALESCE(pe.notes, ''), pe.date,
	p.name, COALESCE(p.unit, ''),
	m.name, COALESCE(m.location, ''),
	v.name,
	u.name`

const entryJoins = `
	FROM price_entries pe
	JOIN products p ON p.id = pe.product_id
	JOIN markets m ON m.id = pe.market_id
	JOIN vendors v ON v.id = pe.vendor_id
	JOIN users u ON u.id = pe.user_id`

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (models.ProductRef, error) {
	var ref models.ProductRef
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(unit, '') FROM products WHERE id = $1`, id)
	if err := row.Scan(&ref.ID, &ref.Name, &ref.Unit); err != nil {
		return ref, lookupErr(models.KindProduct, id, err)
	}
	return ref, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (models.MarketRef, error) {
	var ref models.MarketRef
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(location, '') FROM markets WHERE id = $1`, id)
	if err := row.Scan(&ref.ID, &ref.Name, &ref.Location); err != nil {
		return ref, lookupErr(models.KindMarket, id, err)
	}
	return ref, nil
}

func (s *PostgresStore) GetVendor(ctx context.Context, id string) (models.VendorRef, error) {
	var ref models.VendorRef
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM vendors WHERE id = $1`, id)
	if err := row.Scan(&ref.ID, &ref.Name); err != nil {
		return ref, lookupErr(models.KindVendor, id, err)
	}
	return ref, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.UserRef, error) {
	var ref models.UserRef
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM users WHERE id = $1`, id)
	if err := row.Scan(&ref.ID, &ref.Name); err != nil {
		return ref, lookupErr(models.KindUser, id, err)
	}
	return ref, nil
}

func (s *PostgresStore) CreatePriceEntry(ctx context.Context, e models.PriceEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_entries
			(id, product_id, market_id, vendor_id, user_id, price, currency, notes, date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		e.ID, e.ProductID, e.MarketID, e.VendorID, e.UserID,
		e.Price.String(), e.Currency, e.Notes, e.Date)
	if err != nil {
		return &models.PersistenceError{Op: "create price entry", Err: err}
	}
	return nil
}

func (s *PostgresStore) RecentPrices(ctx context.Context, f models.SubscriptionFilter, limit int) ([]models.PriceEntry, error) {
	where, args := filterClause(f, nil)
	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY pe.date DESC LIMIT %d`,
		entryColumns, entryJoins, where, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "recent prices", Err: err}
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) CountEntries(ctx context.Context, f models.SubscriptionFilter, since *time.Time) (int64, error) {
	where, args := filterClause(f, since)
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM price_entries pe %s`, where), args...).Scan(&n)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count entries", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) CountActiveVendors(ctx context.Context, marketID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vendors WHERE market_id = $1 AND is_active`, marketID).Scan(&n)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count active vendors", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) CountMarketProducts(ctx context.Context, marketID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT product_id) FROM price_entries WHERE market_id = $1`, marketID).Scan(&n)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count market products", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) CountProductMarkets(ctx context.Context, productID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT market_id) FROM price_entries WHERE product_id = $1`, productID).Scan(&n)
	if err != nil {
		return 0, &models.PersistenceError{Op: "count product markets", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) ProductPriceStats(ctx context.Context, productID string) (models.PriceStats, error) {
	var stats models.PriceStats
	var avg, min, max string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(price), 0)::text, COALESCE(MIN(price), 0)::text,
		        COALESCE(MAX(price), 0)::text, COUNT(*)
		 FROM price_entries WHERE product_id = $1`, productID).
		Scan(&avg, &min, &max, &stats.Samples)
	if err != nil {
		return stats, &models.PersistenceError{Op: "product price stats", Err: err}
	}

	if stats.Average, err = decimal.NewFromString(avg); err != nil {
		return stats, &models.PersistenceError{Op: "product price stats", Err: err}
	}
	if stats.Min, err = decimal.NewFromString(min); err != nil {
		return stats, &models.PersistenceError{Op: "product price stats", Err: err}
	}
	if stats.Max, err = decimal.NewFromString(max); err != nil {
		return stats, &models.PersistenceError{Op: "product price stats", Err: err}
	}
	return stats, nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, productID, marketID string, since time.Time) ([]models.PriceEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s %s WHERE pe.product_id = $1 AND pe.market_id = $2 AND pe.date >= $3
		 ORDER BY pe.date ASC`, entryColumns, entryJoins)

	rows, err := s.pool.Query(ctx, query, productID, marketID, since)
	if err != nil {
		return nil, &models.PersistenceError{Op: "price history", Err: err}
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.EntityNotFoundError{Kind: kind, ID: id}
	}
	return &models.PersistenceError{Op: "get " + kind, Err: err}
}

// filterClause builds a WHERE clause for the pe-aliased price_entries table.
func filterClause(f models.SubscriptionFilter, since *time.Time) (string, []any) {
	var conds []string
	var args []any

	add := func(col string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("pe.%s = $%d", col, len(args)))
	}
	if f.ProductID != "" {
		add("product_id", f.ProductID)
	}
	if f.MarketID != "" {
		add("market_id", f.MarketID)
	}
	if f.VendorID != "" {
		add("vendor_id", f.VendorID)
	}
	if since != nil {
		args = append(args, *since)
		conds = append(conds, fmt.Sprintf("pe.date >= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := "WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanEntries(rows pgx.Rows) ([]models.PriceEntry, error) {
	var entries []models.PriceEntry
	for rows.Next() {
		var e models.PriceEntry
		var price string
		err := rows.Scan(
			&e.ID, &e.ProductID, &e.MarketID, &e.VendorID, &e.UserID,
			&price, &e.Currency, &e.Notes, &e.Date,
			&e.Product.Name, &e.Product.Unit,
			&e.Market.Name, &e.Market.Location,
			&e.Vendor.Name,
			&e.User.Name,
		)
		if err != nil {
			return nil, &models.PersistenceError{Op: "scan price entry", Err: err}
		}
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, &models.PersistenceError{Op: "scan price entry", Err: err}
		}
		e.Product.ID = e.ProductID
		e.Market.ID = e.MarketID
		e.Vendor.ID = e.VendorID
		e.User.ID = e.UserID
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "scan price entries", Err: err}
	}
	return entries, nil
}
