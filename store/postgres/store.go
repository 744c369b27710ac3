package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// SQLSTATE codes the store inspects.
const (
	codeTooManyConnections = "53300"
	codeUniqueViolation    = "23505"
)

const allocationAttempts = 3

// Store implements store.Store using PostgreSQL via pgx.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a pool for dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("settle/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// IsConnectionLimit reports whether err is the server refusing a connection
// because max_connections was reached.
func IsConnectionLimit(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeTooManyConnections
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if err := applyMigrations(ctx, s.pool); err != nil {
		return fmt.Errorf("settle/postgres: %w: %w", settle.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
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
SELECT id, %s, customer_phone, amount::text, status, created_at, updated_at
FROM %s
WHERE status = $1
  AND created_at > $2
  AND (updated_at IS NULL OR updated_at < $3)
ORDER BY created_at ASC, id ASC`, table.ReferenceColumn(), table)

	rows, err := s.pool.Query(ctx, query, string(payment.StatusPending), q.CreatedAfter(), q.UpdatedBefore())
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: find unsettled in %s: %w", table, err)
	}
	defer rows.Close()

	var recs []*payment.Record
	for rows.Next() {
		r := &payment.Record{Table: table}
		var (
			amount string
			status string
		)
		if err := rows.Scan(&r.ID, &r.ReferenceID, &r.CustomerPhone, &amount, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("settle/postgres: scan %s: %w", table, err)
		}
		r.Status = payment.Status(status)
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("settle/postgres: parse amount of %s/%d: %w", table, r.ID, err)
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

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2 WHERE id = $3`, u.Table),
		string(u.Status), u.At, u.PaymentID,
	)
	if err != nil {
		return out, fmt.Errorf("settle/postgres: update %s/%d: %w", u.Table, u.PaymentID, err)
	}
	out.PrimaryRows = tag.RowsAffected()

	sibling := u.Table.Sibling()
	tag, err = s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2 WHERE %s = $3`, sibling, sibling.ReferenceColumn()),
		string(u.Status), u.At, u.ReferenceID,
	)
	if err != nil {
		return out, &payment.MirrorError{Table: sibling, ReferenceID: u.ReferenceID, Err: err}
	}
	out.MirrorRows = tag.RowsAffected()

	return out, nil
}

// ==================== Transaction Store ====================

func (s *Store) ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error) {
	var row pgx.Row
	switch table {
	case payment.TableTransactions:
		row = s.pool.QueryRow(ctx,
			`SELECT id, bundle_id, voucher_id FROM transactions WHERE id = $1`, paymentID)
	case payment.TablePaymentRequests:
		row = s.pool.QueryRow(ctx,
			`SELECT id, bundle_id, voucher_id FROM transactions WHERE payment_reference = $1 ORDER BY id ASC LIMIT 1`, referenceID)
	default:
		return nil, settle.ErrUnknownTable
	}

	var (
		res    transaction.Resolution
		bundle *int64
	)
	if err := row.Scan(&res.TransactionID, &bundle, &res.VoucherID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/postgres: resolve transaction: %w", err)
	}
	if bundle != nil {
		res.BundleID = *bundle
	}
	return &res, nil
}

func (s *Store) CustomerPhone(ctx context.Context, transactionID int64) (string, error) {
	var phone string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_phone FROM transactions WHERE id = $1`, transactionID,
	).Scan(&phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", settle.ErrTransactionNotFound
		}
		return "", fmt.Errorf("settle/postgres: customer phone: %w", err)
	}
	return phone, nil
}

// ==================== Voucher Store ====================

// AllocateVoucher claims the lowest-id free voucher of the bundle. The
// transaction row is locked first; vouchers locked by concurrent
// allocations are skipped. A lost race on the unique voucher index is
// retried.
func (s *Store) AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	var err error
	for range allocationAttempts {
		var id int64
		id, err = s.allocateOnce(ctx, bundleID, transactionID)
		if !isUniqueViolation(err) {
			return id, err
		}
	}
	return 0, err
}

func (s *Store) allocateOnce(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("settle/postgres: begin allocation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var current *int64
	if err := tx.QueryRow(ctx,
		`SELECT voucher_id FROM transactions WHERE id = $1 FOR UPDATE`, transactionID,
	).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, settle.ErrTransactionNotFound
		}
		return 0, fmt.Errorf("settle/postgres: lock transaction: %w", err)
	}
	if current != nil {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	var voucherID int64
	if err := tx.QueryRow(ctx, `
SELECT v.id FROM vouchers v
WHERE v.bundle_id = $1
  AND v.status = 'active'
  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.voucher_id = v.id)
ORDER BY v.id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, bundleID).Scan(&voucherID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, settle.ErrNoVoucherAvailable
		}
		return 0, fmt.Errorf("settle/postgres: select voucher: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET voucher_id = $1 WHERE id = $2 AND voucher_id IS NULL`,
		voucherID, transactionID,
	)
	if err != nil {
		return 0, fmt.Errorf("settle/postgres: assign voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("settle/postgres: commit allocation: %w", err)
	}
	return voucherID, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
