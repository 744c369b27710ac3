package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store/postgres"
	"github.com/xraph/settle/store/storetest"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

// dsnEnv names a PostgreSQL database the suite may wipe.
const dsnEnv = "SETTLE_POSTGRES_DSN"

type harness struct {
	*postgres.Store
}

func (h harness) SeedPaymentRequest(ctx context.Context, r payment.Record) (int64, error) {
	var id int64
	err := h.Pool().QueryRow(ctx, `
INSERT INTO payment_requests (reference_id, customer_phone, amount, status, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6)
RETURNING id`,
		r.ReferenceID, r.CustomerPhone, r.Amount.String(), string(r.Status), r.CreatedAt, r.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (h harness) SeedTransaction(ctx context.Context, t transaction.Transaction) (int64, error) {
	var id int64
	err := h.Pool().QueryRow(ctx, `
INSERT INTO transactions (payment_reference, customer_phone, amount, status, bundle_id, voucher_id, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
RETURNING id`,
		t.PaymentReference, t.CustomerPhone, t.Amount.String(), string(t.Status),
		t.BundleID, t.VoucherID, t.CreatedAt, t.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (h harness) SeedVoucher(ctx context.Context, v voucher.Voucher) (int64, error) {
	var id int64
	err := h.Pool().QueryRow(ctx,
		`INSERT INTO vouchers (bundle_id, status) VALUES ($1, $2) RETURNING id`,
		v.BundleID, string(v.Status),
	).Scan(&id)
	return id, err
}

func (h harness) PaymentStatus(ctx context.Context, table payment.Table, id int64) (payment.Status, *time.Time, error) {
	var (
		status  string
		updated *time.Time
	)
	err := h.Pool().QueryRow(ctx,
		`SELECT status, updated_at FROM `+string(table)+` WHERE id = $1`, id,
	).Scan(&status, &updated)
	return payment.Status(status), updated, err
}

func (h harness) TransactionVoucher(ctx context.Context, id int64) (*int64, error) {
	var v *int64
	err := h.Pool().QueryRow(ctx, `SELECT voucher_id FROM transactions WHERE id = $1`, id).Scan(&v)
	return v, err
}

func openStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.Pool().Exec(ctx,
		`TRUNCATE transactions, payment_requests, vouchers RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		return harness{openStore(t)}
	})
}

func TestIsConnectionLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"wrapped", fmt.Errorf("connect: %w", &pgconn.PgError{Code: "53300"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"other", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgres.IsConnectionLimit(tt.err); got != tt.want {
				t.Errorf("IsConnectionLimit(%v): got %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMigrationsOrdered(t *testing.T) {
	for i := 1; i < len(postgres.Migrations); i++ {
		prev, cur := postgres.Migrations[i-1], postgres.Migrations[i]
		if prev.Version >= cur.Version {
			t.Errorf("migration %s (%s) not after %s (%s)", cur.Version, cur.Name, prev.Version, prev.Name)
		}
	}
}
