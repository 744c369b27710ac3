package mysql

import "github.com/xraph/settle/store/internal/sqlmigrate"

// Migrations is the migration group for the MySQL store.
var Migrations = sqlmigrate.NewGroup("settle/mysql")

func init() {
	Migrations.MustRegister(
		&sqlmigrate.Migration{
			Name:    "create_payment_requests",
			Version: "20250101000001",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS payment_requests (
    id             BIGINT AUTO_INCREMENT PRIMARY KEY,
    reference_id   VARCHAR(128)  NOT NULL,
    customer_phone VARCHAR(32)   NOT NULL DEFAULT '',
    amount         DECIMAL(15,2) NOT NULL DEFAULT 0,
    status         VARCHAR(16)   NOT NULL DEFAULT 'pending',
    created_at     DATETIME(6)   NOT NULL,
    updated_at     DATETIME(6)   NULL,
    INDEX idx_payment_requests_reference (reference_id),
    INDEX idx_payment_requests_status_created (status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		&sqlmigrate.Migration{
			Name:    "create_transactions",
			Version: "20250101000002",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS transactions (
    id                BIGINT AUTO_INCREMENT PRIMARY KEY,
    payment_reference VARCHAR(128)  NOT NULL,
    customer_phone    VARCHAR(32)   NOT NULL DEFAULT '',
    amount            DECIMAL(15,2) NOT NULL DEFAULT 0,
    status            VARCHAR(16)   NOT NULL DEFAULT 'pending',
    bundle_id         BIGINT        NULL,
    voucher_id        BIGINT        NULL,
    created_at        DATETIME(6)   NOT NULL,
    updated_at        DATETIME(6)   NULL,
    INDEX idx_transactions_reference (payment_reference),
    INDEX idx_transactions_status_created (status, created_at),
    UNIQUE INDEX uq_transactions_voucher (voucher_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		&sqlmigrate.Migration{
			Name:    "create_vouchers",
			Version: "20250101000003",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS vouchers (
    id        BIGINT AUTO_INCREMENT PRIMARY KEY,
    bundle_id BIGINT      NOT NULL,
    status    VARCHAR(16) NOT NULL DEFAULT 'active',
    INDEX idx_vouchers_bundle_status (bundle_id, status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
	)
}
