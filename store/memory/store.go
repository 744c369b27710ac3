// Package memory provides an in-process store.Store for tests and local
// development. It also exposes seeding helpers the SQL backends do not.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// payment_requests rows
	paymentRequests map[int64]*payment.Record

	// transactions rows
	transactions map[int64]*transaction.Transaction

	// vouchers rows
	vouchers map[int64]*voucher.Voucher

	lastID int64
	closed bool
}

func New() *Store {
	return &Store{
		paymentRequests: make(map[int64]*payment.Record),
		transactions:    make(map[int64]*transaction.Transaction),
		vouchers:        make(map[int64]*voucher.Voucher),
	}
}

// ==================== Payment Store ====================

func (s *Store) FindUnsettled(_ context.Context, q payment.UnsettledQuery) ([]*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	var requests []*payment.Record
	for _, r := range s.paymentRequests {
		if q.Matches(r) {
			c := *r
			requests = append(requests, &c)
		}
	}
	sortByCreated(requests)

	var txns []*payment.Record
	for _, t := range s.transactions {
		r := recordFromTransaction(t)
		if q.Matches(r) {
			txns = append(txns, r)
		}
	}
	sortByCreated(txns)

	return append(requests, txns...), nil
}

func (s *Store) UpdateStatus(_ context.Context, u payment.StatusUpdate) (payment.UpdateResult, error) {
	if err := u.Validate(); err != nil {
		return payment.UpdateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return payment.UpdateResult{}, settle.ErrStoreClosed
	}

	var res payment.UpdateResult
	switch u.Table {
	case payment.TablePaymentRequests:
		if r, ok := s.paymentRequests[u.PaymentID]; ok {
			r.Status = u.Status
			r.Touch(u.At)
			res.PrimaryRows = 1
		}
		for _, t := range s.transactions {
			if t.PaymentReference == u.ReferenceID {
				t.Status = u.Status
				t.Touch(u.At)
				res.MirrorRows++
			}
		}
	case payment.TableTransactions:
		if t, ok := s.transactions[u.PaymentID]; ok {
			t.Status = u.Status
			t.Touch(u.At)
			res.PrimaryRows = 1
		}
		for _, r := range s.paymentRequests {
			if r.ReferenceID == u.ReferenceID {
				r.Status = u.Status
				r.Touch(u.At)
				res.MirrorRows++
			}
		}
	}

	return res, nil
}

// ==================== Transaction Store ====================

func (s *Store) ResolveTransaction(_ context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t *transaction.Transaction
	switch table {
	case payment.TableTransactions:
		t = s.transactions[paymentID]
	case payment.TablePaymentRequests:
		t = s.transactionByReference(referenceID)
	default:
		return nil, settle.ErrUnknownTable
	}
	if t == nil {
		return nil, settle.ErrTransactionNotFound
	}

	res := &transaction.Resolution{TransactionID: t.ID, BundleID: t.BundleID}
	if t.VoucherID != nil {
		v := *t.VoucherID
		res.VoucherID = &v
	}
	return res, nil
}

func (s *Store) CustomerPhone(_ context.Context, transactionID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return "", settle.ErrTransactionNotFound
	}
	return t.CustomerPhone, nil
}

// transactionByReference returns the lowest-id transaction carrying ref.
// Caller must hold the lock.
func (s *Store) transactionByReference(ref string) *transaction.Transaction {
	var found *transaction.Transaction
	for _, t := range s.transactions {
		if t.PaymentReference != ref {
			continue
		}
		if found == nil || t.ID < found.ID {
			found = t
		}
	}
	return found
}

// ==================== Voucher Store ====================

func (s *Store) AllocateVoucher(_ context.Context, bundleID, transactionID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return 0, settle.ErrTransactionNotFound
	}
	if t.VoucherID != nil {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	assigned := make(map[int64]bool, len(s.transactions))
	for _, other := range s.transactions {
		if other.VoucherID != nil {
			assigned[*other.VoucherID] = true
		}
	}

	var pick *voucher.Voucher
	for _, v := range s.vouchers {
		if v.BundleID != bundleID || v.Status != voucher.StatusActive || assigned[v.ID] {
			continue
		}
		if pick == nil || v.ID < pick.ID {
			pick = v
		}
	}
	if pick == nil {
		return 0, settle.ErrNoVoucherAvailable
	}

	vid := pick.ID
	t.VoucherID = &vid
	return vid, nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return settle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ==================== Seeding ====================

// AddPaymentRequest inserts a payment_requests row. A zero ID is assigned.
func (s *Store) AddPaymentRequest(r payment.Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextID()
	}
	r.Table = payment.TablePaymentRequests
	s.paymentRequests[r.ID] = &r
	return r.ID
}

// AddTransaction inserts a transactions row. A zero ID is assigned.
func (s *Store) AddTransaction(t transaction.Transaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		t.ID = s.nextID()
	}
	s.transactions[t.ID] = &t
	return t.ID
}

// AddVoucher inserts a vouchers row. A zero ID is assigned.
func (s *Store) AddVoucher(v voucher.Voucher) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == 0 {
		v.ID = s.nextID()
	}
	s.vouchers[v.ID] = &v
	return v.ID
}

// PaymentRequest returns a copy of a payment_requests row.
func (s *Store) PaymentRequest(id int64) (payment.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.paymentRequests[id]
	if !ok {
		return payment.Record{}, false
	}
	return *r, true
}

// Transaction returns a copy of a transactions row.
func (s *Store) Transaction(id int64) (transaction.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return transaction.Transaction{}, false
	}
	return *t, true
}

func (s *Store) nextID() int64 {
	s.lastID++
	for s.taken(s.lastID) {
		s.lastID++
	}
	return s.lastID
}

func (s *Store) taken(id int64) bool {
	_, a := s.paymentRequests[id]
	_, b := s.transactions[id]
	_, c := s.vouchers[id]
	return a || b || c
}

func recordFromTransaction(t *transaction.Transaction) *payment.Record {
	return &payment.Record{
		Timestamps:    t.Timestamps,
		ID:            t.ID,
		Table:         payment.TableTransactions,
		ReferenceID:   t.PaymentReference,
		CustomerPhone: t.CustomerPhone,
		Amount:        t.Amount,
		Status:        t.Status,
	}
}

func sortByCreated(recs []*payment.Record) {
	slices.SortFunc(recs, func(a, b *payment.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
