package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/linenloft/api/internal/repositories"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// Store wraps the SQL connection pool and implements the repository
// registry backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the database is reachable.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the raw connection pool for low-level access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the connection is still healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close releases the connection pool.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Variants returns the stock ledger repository.
func (s *Store) Variants() repositories.VariantRepository { return &variantRepository{store: s} }

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return &orderRepository{store: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() repositories.CouponRepository { return &couponRepository{store: s} }

// Returns returns the return-request repository.
func (s *Store) Returns() repositories.ReturnRepository { return &returnRepository{store: s} }

// Counters returns the sequence counter repository.
func (s *Store) Counters() repositories.CounterRepository { return &counterRepository{store: s} }

type txContextKey struct{}

// RunInTx executes fn inside a single database transaction. Repository
// calls made with the derived context share that transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		// Already inside a transaction; nested boundaries join the outer one.
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the tables the checkout core relies on. The stock
// check constraint backs up the conditional decrement: a negative count is
// unreachable even under a buggy caller.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS variants (
			id            TEXT PRIMARY KEY,
			product_id    TEXT NOT NULL,
			product_name  TEXT NOT NULL,
			sku           TEXT NOT NULL,
			size          TEXT NOT NULL DEFAULT '',
			unit_price    BIGINT NOT NULL,
			stock_count   INTEGER NOT NULL CHECK (stock_count >= 0),
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id                  TEXT PRIMARY KEY,
			number              TEXT NOT NULL UNIQUE,
			status              TEXT NOT NULL,
			customer_name       TEXT NOT NULL,
			customer_email      TEXT NOT NULL,
			customer_phone      TEXT NOT NULL DEFAULT '',
			ship_line1          TEXT NOT NULL,
			ship_line2          TEXT NOT NULL DEFAULT '',
			ship_city           TEXT NOT NULL,
			ship_postal_code    TEXT NOT NULL,
			ship_country        TEXT NOT NULL,
			subtotal            BIGINT NOT NULL,
			discount_amount     BIGINT NOT NULL DEFAULT 0,
			shipping_cost       BIGINT NOT NULL DEFAULT 0,
			total               BIGINT NOT NULL CHECK (total >= 0),
			currency            TEXT NOT NULL,
			coupon_id           TEXT,
			coupon_code         TEXT,
			payment_session_ref TEXT,
			payment_intent_ref  TEXT,
			cancel_reason       TEXT,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL,
			paid_at             TIMESTAMPTZ,
			shipped_at          TIMESTAMPTZ,
			delivered_at        TIMESTAMPTZ,
			cancelled_at        TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS orders_session_ref_idx ON orders (payment_session_ref)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			id           TEXT PRIMARY KEY,
			order_id     TEXT NOT NULL REFERENCES orders (id),
			variant_id   TEXT NOT NULL,
			product_id   TEXT NOT NULL,
			product_name TEXT NOT NULL,
			sku          TEXT NOT NULL,
			size         TEXT NOT NULL DEFAULT '',
			qty          INTEGER NOT NULL CHECK (qty > 0),
			unit_price   BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id             TEXT PRIMARY KEY,
			code           TEXT NOT NULL UNIQUE,
			discount_type  TEXT NOT NULL,
			discount_value BIGINT NOT NULL,
			minimum_amount BIGINT NOT NULL DEFAULT 0,
			usage_limit    INTEGER NOT NULL DEFAULT 0,
			used_count     INTEGER NOT NULL DEFAULT 0,
			starts_at      TIMESTAMPTZ NOT NULL,
			ends_at        TIMESTAMPTZ NOT NULL,
			active         BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_usages (
			coupon_id      TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			order_id       TEXT NOT NULL,
			used_at        TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (coupon_id, customer_email, order_id)
		)`,
		`CREATE TABLE IF NOT EXISTS returns (
			id            TEXT PRIMARY KEY,
			order_id      TEXT NOT NULL REFERENCES orders (id),
			status        TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			reject_reason TEXT,
			refund_amount BIGINT NOT NULL DEFAULT 0,
			requested_at  TIMESTAMPTZ NOT NULL,
			approved_at   TIMESTAMPTZ,
			rejected_at   TIMESTAMPTZ,
			received_at   TIMESTAMPTZ,
			completed_at  TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS return_items (
			return_id     TEXT NOT NULL REFERENCES returns (id),
			order_line_id TEXT NOT NULL,
			variant_id    TEXT NOT NULL,
			qty           INTEGER NOT NULL CHECK (qty > 0),
			reason        TEXT NOT NULL DEFAULT '',
			unit_price    BIGINT NOT NULL,
			restock       BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (return_id, order_line_id)
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			id    TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

var _ repositories.Registry = (*Store)(nil)
