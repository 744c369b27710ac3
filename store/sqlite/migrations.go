package sqlite

import "github.com/xraph/settle/store/internal/sqlmigrate"

// Migrations is the migration group for the SQLite store. Timestamps are
// stored as fixed-width UTC text so string comparison orders them correctly.
var Migrations = sqlmigrate.NewGroup("settle/sqlite")

func init() {
	Migrations.MustRegister(
		&sqlmigrate.Migration{
			Name:    "create_payment_requests",
			Version: "20250101000001",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS payment_requests (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    reference_id   TEXT NOT NULL,
    customer_phone TEXT NOT NULL DEFAULT '',
    amount         TEXT NOT NULL DEFAULT '0',
    status         TEXT NOT NULL DEFAULT 'pending',
    created_at     TEXT NOT NULL,
    updated_at     TEXT
)`,
				`CREATE INDEX IF NOT EXISTS idx_payment_requests_reference ON payment_requests (reference_id)`,
				`CREATE INDEX IF NOT EXISTS idx_payment_requests_status_created ON payment_requests (status, created_at)`,
			},
		},
		&sqlmigrate.Migration{
			Name:    "create_transactions",
			Version: "20250101000002",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS transactions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    payment_reference TEXT NOT NULL,
    customer_phone    TEXT NOT NULL DEFAULT '',
    amount            TEXT NOT NULL DEFAULT '0',
    status            TEXT NOT NULL DEFAULT 'pending',
    bundle_id         INTEGER,
    voucher_id        INTEGER,
    created_at        TEXT NOT NULL,
    updated_at        TEXT
)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions (payment_reference)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions (status, created_at)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_voucher ON transactions (voucher_id)`,
			},
		},
		&sqlmigrate.Migration{
			Name:    "create_vouchers",
			Version: "20250101000003",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS vouchers (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    bundle_id INTEGER NOT NULL,
    status    TEXT NOT NULL DEFAULT 'active'
)`,
				`CREATE INDEX IF NOT EXISTS idx_vouchers_bundle_status ON vouchers (bundle_id, status)`,
			},
		},
	)
}
