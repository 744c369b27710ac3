package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/store/internal/sqlmigrate"
	"github.com/xraph/settle/transaction"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements store.Store using SQLite via modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the database file at path with a busy timeout and WAL journal.
// SQLite allows a single writer, so the pool is limited to one connection.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("settle/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settle/sqlite: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := sqlmigrate.Apply(ctx, s.db, Migrations); err != nil {
		return fmt.Errorf("settle/sqlite: %w: %w", settle.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Payment Store ====================

func (s *Store) FindUnsettled(ctx context.Context, q payment.UnsettledQuery) ([]*payment.Record, error) {
	var out []*payment.Record
	for _, table := range []payment.Table{payment.TablePaymentRequests, payment.TableTransactions} {
		recs, err := s.findUnsettledIn(ctx, table, q)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Store) findUnsettledIn(ctx context.Context, table payment.Table, q payment.UnsettledQuery) ([]*payment.Record, error) {
	query := fmt.Sprintf(`
SELECT id, %s, customer_phone, amount, status, created_at, updated_at
FROM %s
WHERE status = ?
  AND created_at > ?
  AND (updated_at IS NULL OR updated_at < ?)
ORDER BY created_at ASC, id ASC`, table.ReferenceColumn(), table)

	rows, err := s.db.QueryContext(ctx, query,
		string(payment.StatusPending),
		formatTime(q.CreatedAfter()),
		formatTime(q.UpdatedBefore()),
	)
	if err != nil {
		return nil, fmt.Errorf("settle/sqlite: find unsettled in %s: %w", table, err)
	}
	defer rows.Close()

	var recs []*payment.Record
	for rows.Next() {
		r := &payment.Record{Table: table}
		var (
			amount    string
			status    string
			createdAt string
			updatedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ReferenceID, &r.CustomerPhone, &amount, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("settle/sqlite: scan %s: %w", table, err)
		}
		r.Status = payment.Status(status)
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("settle/sqlite: parse amount of %s/%d: %w", table, r.ID, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("settle/sqlite: parse created_at of %s/%d: %w", table, r.ID, err)
		}
		if updatedAt.Valid {
			u, err := parseTime(updatedAt.String)
			if err != nil {
				return nil, fmt.Errorf("settle/sqlite: parse updated_at of %s/%d: %w", table, r.ID, err)
			}
			r.UpdatedAt = &u
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, u payment.StatusUpdate) (payment.UpdateResult, error) {
	if err := u.Validate(); err != nil {
		return payment.UpdateResult{}, err
	}

	var out payment.UpdateResult
	at := formatTime(u.At)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, u.Table),
		string(u.Status), at, u.PaymentID,
	)
	if err != nil {
		return out, fmt.Errorf("settle/sqlite: update %s/%d: %w", u.Table, u.PaymentID, err)
	}
	out.PrimaryRows, _ = res.RowsAffected()

	sibling := u.Table.Sibling()
	res, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE %s = ?`, sibling, sibling.ReferenceColumn()),
		string(u.Status), at, u.ReferenceID,
	)
	if err != nil {
		return out, &payment.MirrorError{Table: sibling, ReferenceID: u.ReferenceID, Err: err}
	}
	out.MirrorRows, _ = res.RowsAffected()

	return out, nil
}

// ==================== Transaction Store ====================

func (s *Store) ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error) {
	var row *sql.Row
	switch table {
	case payment.TableTransactions:
		row = s.db.QueryRowContext(ctx,
			`SELECT id, bundle_id, voucher_id FROM transactions WHERE id = ?`, paymentID)
	case payment.TablePaymentRequests:
		row = s.db.QueryRowContext(ctx,
			`SELECT id, bundle_id, voucher_id FROM transactions WHERE payment_reference = ? ORDER BY id ASC LIMIT 1`, referenceID)
	default:
		return nil, settle.ErrUnknownTable
	}

	var (
		res     transaction.Resolution
		bundle  sql.NullInt64
		voucher sql.NullInt64
	)
	if err := row.Scan(&res.TransactionID, &bundle, &voucher); err != nil {
		if isNoRows(err) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/sqlite: resolve transaction: %w", err)
	}
	res.BundleID = bundle.Int64
	if voucher.Valid {
		v := voucher.Int64
		res.VoucherID = &v
	}
	return &res, nil
}

func (s *Store) CustomerPhone(ctx context.Context, transactionID int64) (string, error) {
	var phone string
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_phone FROM transactions WHERE id = ?`, transactionID,
	).Scan(&phone)
	if err != nil {
		if isNoRows(err) {
			return "", settle.ErrTransactionNotFound
		}
		return "", fmt.Errorf("settle/sqlite: customer phone: %w", err)
	}
	return phone, nil
}

// ==================== Voucher Store ====================

func (s *Store) AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("settle/sqlite: begin allocation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT voucher_id FROM transactions WHERE id = ?`, transactionID,
	).Scan(&current); err != nil {
		if isNoRows(err) {
			return 0, settle.ErrTransactionNotFound
		}
		return 0, fmt.Errorf("settle/sqlite: read transaction voucher: %w", err)
	}
	if current.Valid {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	var voucherID int64
	if err := tx.QueryRowContext(ctx, `
SELECT v.id FROM vouchers v
WHERE v.bundle_id = ?
  AND v.status = 'active'
  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.voucher_id = v.id)
ORDER BY v.id ASC
LIMIT 1`, bundleID).Scan(&voucherID); err != nil {
		if isNoRows(err) {
			return 0, settle.ErrNoVoucherAvailable
		}
		return 0, fmt.Errorf("settle/sqlite: select voucher: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET voucher_id = ? WHERE id = ? AND voucher_id IS NULL`,
		voucherID, transactionID,
	)
	if err != nil {
		return 0, fmt.Errorf("settle/sqlite: assign voucher: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("settle/sqlite: commit allocation: %w", err)
	}
	return voucherID, nil
}

// ==================== Helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
