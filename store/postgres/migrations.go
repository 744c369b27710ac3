package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one schema step. SQL may hold several statements.
type Migration struct {
	Name    string
	Version string
	SQL     string
}

// Migrations are applied in order by Migrate.
var Migrations = []Migration{
	{
		Name:    "create_payment_requests",
		Version: "20250101000001",
		SQL: `
CREATE TABLE IF NOT EXISTS payment_requests (
    id             BIGSERIAL PRIMARY KEY,
    reference_id   TEXT NOT NULL,
    customer_phone TEXT NOT NULL DEFAULT '',
    amount         NUMERIC(15,2) NOT NULL DEFAULT 0,
    status         TEXT NOT NULL DEFAULT 'pending',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_payment_requests_reference ON payment_requests (reference_id);
CREATE INDEX IF NOT EXISTS idx_payment_requests_status_created ON payment_requests (status, created_at);
`,
	},
	{
		Name:    "create_transactions",
		Version: "20250101000002",
		SQL: `
CREATE TABLE IF NOT EXISTS transactions (
    id                BIGSERIAL PRIMARY KEY,
    payment_reference TEXT NOT NULL,
    customer_phone    TEXT NOT NULL DEFAULT '',
    amount            NUMERIC(15,2) NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'pending',
    bundle_id         BIGINT,
    voucher_id        BIGINT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions (payment_reference);
CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions (status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_voucher ON transactions (voucher_id);
`,
	},
	{
		Name:    "create_vouchers",
		Version: "20250101000003",
		SQL: `
CREATE TABLE IF NOT EXISTS vouchers (
    id        BIGSERIAL PRIMARY KEY,
    bundle_id BIGINT NOT NULL,
    status    TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_vouchers_bundle_status ON vouchers (bundle_id, status);
`,
	},
}

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID int64 = 7301158

// applyMigrations runs every migration not yet recorded in settle_migrations
// while holding a session-level advisory lock.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS settle_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("ensure settle_migrations: %w", err)
	}

	for _, m := range Migrations {
		var applied bool
		if err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM settle_migrations WHERE version = $1)`, m.Version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if applied {
			continue
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("exec migration %s (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO settle_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
	}
	return nil
}
