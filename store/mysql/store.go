// Package mysql implements store.Store on MySQL using go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/store/internal/sqlmigrate"
	"github.com/xraph/settle/transaction"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// MySQL server error numbers the store inspects.
const (
	errTooManyConnections = 1040
	errUserLimitReached   = 1226
	errDuplicateEntry     = 1062
)

// allocationAttempts bounds retries when a concurrent allocation claims the
// same voucher first.
const allocationAttempts = 3

// Store implements store.Store using MySQL.
//
// By default the unsettled window and updated_at are computed from the
// server's NOW(), the clock the application that writes payment rows uses.
// Rows are compared in whatever time zone that application stores them in.
type Store struct {
	db          *sql.DB
	engineClock bool
}

// Option configures a Store.
type Option func(*Store)

// WithEngineClock makes the store take the window from UnsettledQuery.Now and
// updated_at from StatusUpdate.At instead of the server's NOW(). Use it only
// when every writer stores UTC timestamps.
func WithEngineClock() Option {
	return func(s *Store) { s.engineClock = true }
}

// New wraps an open database handle. The handle must be opened with
// parseTime=true.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DSN builds a data source name for a TCP connection. DATETIME values are
// decoded as UTC wall times; the window itself follows the server clock
// unless WithEngineClock is set.
func DSN(host, user, password, name string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Open connects using dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("settle/mysql: open: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settle/mysql: ping: %w", err)
	}
	return New(db, opts...), nil
}

// IsConnectionLimit reports whether err means the server refused the
// connection because a connection quota was exhausted.
func IsConnectionLimit(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errTooManyConnections || me.Number == errUserLimitReached
	}
	return err != nil && strings.Contains(err.Error(), "max_connections_per_hour")
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := sqlmigrate.Apply(ctx, s.db, Migrations); err != nil {
		return fmt.Errorf("settle/mysql: %w: %w", settle.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
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
	createdAfter, updatedBefore := "NOW() - INTERVAL ? MICROSECOND", "NOW() - INTERVAL ? MICROSECOND"
	args := []any{string(payment.StatusPending), q.Lookback.Microseconds(), q.SettleGuard.Microseconds()}
	if s.engineClock {
		createdAfter, updatedBefore = "?", "?"
		args = []any{string(payment.StatusPending), q.CreatedAfter().UTC(), q.UpdatedBefore().UTC()}
	}

	query := fmt.Sprintf(`
SELECT id, %s, customer_phone, amount, status, created_at, updated_at
FROM %s
WHERE status = ?
  AND created_at > %s
  AND (updated_at IS NULL OR updated_at < %s)
ORDER BY created_at ASC, id ASC`, table.ReferenceColumn(), table, createdAfter, updatedBefore)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/mysql: find unsettled in %s: %w", table, err)
	}
	defer rows.Close()

	var recs []*payment.Record
	for rows.Next() {
		r := &payment.Record{Table: table}
		var (
			amount  string
			status  string
			updated sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ReferenceID, &r.CustomerPhone, &amount, &status, &r.CreatedAt, &updated); err != nil {
			return nil, fmt.Errorf("settle/mysql: scan %s: %w", table, err)
		}
		r.Status = payment.Status(status)
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("settle/mysql: parse amount of %s/%d: %w", table, r.ID, err)
		}
		if updated.Valid {
			u := updated.Time
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
	touched, at := "NOW()", []any{}
	if s.engineClock {
		touched, at = "?", []any{u.At.UTC()}
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = %s WHERE id = ?`, u.Table, touched),
		append(append([]any{string(u.Status)}, at...), u.PaymentID)...,
	)
	if err != nil {
		return out, fmt.Errorf("settle/mysql: update %s/%d: %w", u.Table, u.PaymentID, err)
	}
	out.PrimaryRows, _ = res.RowsAffected()

	sibling := u.Table.Sibling()
	res, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = %s WHERE %s = ?`, sibling, touched, sibling.ReferenceColumn()),
		append(append([]any{string(u.Status)}, at...), u.ReferenceID)...,
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/mysql: resolve transaction: %w", err)
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
		if errors.Is(err, sql.ErrNoRows) {
			return "", settle.ErrTransactionNotFound
		}
		return "", fmt.Errorf("settle/mysql: customer phone: %w", err)
	}
	return phone, nil
}

// ==================== Voucher Store ====================

// AllocateVoucher claims the lowest-id free voucher of the bundle. The
// transaction row is locked first so concurrent calls for one transaction
// serialize; vouchers held by other in-flight allocations are skipped.
func (s *Store) AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	var err error
	for range allocationAttempts {
		var id int64
		id, err = s.allocateOnce(ctx, bundleID, transactionID)
		if !isDuplicate(err) {
			return id, err
		}
	}
	return 0, err
}

func (s *Store) allocateOnce(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("settle/mysql: begin allocation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT voucher_id FROM transactions WHERE id = ? FOR UPDATE`, transactionID,
	).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, settle.ErrTransactionNotFound
		}
		return 0, fmt.Errorf("settle/mysql: lock transaction: %w", err)
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
LIMIT 1
FOR UPDATE SKIP LOCKED`, bundleID).Scan(&voucherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, settle.ErrNoVoucherAvailable
		}
		return 0, fmt.Errorf("settle/mysql: select voucher: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET voucher_id = ? WHERE id = ? AND voucher_id IS NULL`,
		voucherID, transactionID,
	)
	if err != nil {
		return 0, fmt.Errorf("settle/mysql: assign voucher: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("settle/mysql: commit allocation: %w", err)
	}
	return voucherID, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
