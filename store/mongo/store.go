// Package mongo implements store.Store on MongoDB. Documents keep the
// integer ids of the relational backends; ids are issued from a counters
// collection.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/settle"
	"github.com/xraph/settle/payment"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

// Collection name constants.
const (
	colPaymentRequests = "payment_requests"
	colTransactions    = "transactions"
	colVouchers        = "vouchers"
	colCounters        = "settle_counters"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store using the MongoDB driver.
type Store struct {
	db *mongo.Database
}

// New creates a store over db.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("settle/mongo: ping: %w", err)
	}
	return New(client.Database(database)), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("settle/mongo: %w: %s indexes: %w", settle.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

// ==================== Payment Store ====================

func (s *Store) FindUnsettled(ctx context.Context, q payment.UnsettledQuery) ([]*payment.Record, error) {
	filter := bson.M{
		"status":     string(payment.StatusPending),
		"created_at": bson.M{"$gt": q.CreatedAfter()},
		"$or": bson.A{
			bson.M{"updated_at": nil},
			bson.M{"updated_at": bson.M{"$lt": q.UpdatedBefore()}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	var requests []paymentRequestModel
	cur, err := s.db.Collection(colPaymentRequests).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: find unsettled payment requests: %w", err)
	}
	if err := cur.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("settle/mongo: decode payment requests: %w", err)
	}

	var txns []transactionModel
	cur, err = s.db.Collection(colTransactions).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: find unsettled transactions: %w", err)
	}
	if err := cur.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("settle/mongo: decode transactions: %w", err)
	}

	out := make([]*payment.Record, 0, len(requests)+len(txns))
	for i := range requests {
		r, err := fromPaymentRequestModel(&requests[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	for i := range txns {
		r, err := fromTransactionModel(&txns[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, u payment.StatusUpdate) (payment.UpdateResult, error) {
	if err := u.Validate(); err != nil {
		return payment.UpdateResult{}, err
	}

	var out payment.UpdateResult
	set := bson.M{"$set": bson.M{"status": string(u.Status), "updated_at": u.At}}

	res, err := s.db.Collection(string(u.Table)).UpdateOne(ctx, bson.M{"_id": u.PaymentID}, set)
	if err != nil {
		return out, fmt.Errorf("settle/mongo: update %s/%d: %w", u.Table, u.PaymentID, err)
	}
	out.PrimaryRows = res.MatchedCount

	sibling := u.Table.Sibling()
	res, err = s.db.Collection(string(sibling)).UpdateMany(ctx, bson.M{sibling.ReferenceColumn(): u.ReferenceID}, set)
	if err != nil {
		return out, &payment.MirrorError{Table: sibling, ReferenceID: u.ReferenceID, Err: err}
	}
	out.MirrorRows = res.MatchedCount

	return out, nil
}

// ==================== Transaction Store ====================

func (s *Store) ResolveTransaction(ctx context.Context, table payment.Table, paymentID int64, referenceID string) (*transaction.Resolution, error) {
	var (
		filter bson.M
		opts   = options.FindOne()
	)
	switch table {
	case payment.TableTransactions:
		filter = bson.M{"_id": paymentID}
	case payment.TablePaymentRequests:
		filter = bson.M{"payment_reference": referenceID}
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	default:
		return nil, settle.ErrUnknownTable
	}

	var m transactionModel
	if err := s.db.Collection(colTransactions).FindOne(ctx, filter, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/mongo: resolve transaction: %w", err)
	}
	return &transaction.Resolution{TransactionID: m.ID, BundleID: m.BundleID, VoucherID: m.VoucherID}, nil
}

func (s *Store) CustomerPhone(ctx context.Context, transactionID int64) (string, error) {
	var m transactionModel
	err := s.db.Collection(colTransactions).
		FindOne(ctx, bson.M{"_id": transactionID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return "", settle.ErrTransactionNotFound
		}
		return "", fmt.Errorf("settle/mongo: customer phone: %w", err)
	}
	return m.CustomerPhone, nil
}

// ==================== Voucher Store ====================

// AllocateVoucher walks the bundle's active vouchers in id order and claims
// the first one no transaction holds. The claim is a conditional update on
// the transaction; the partial unique index on voucher_id rejects a voucher
// another allocation claimed in the meantime, and the walk moves on.
func (s *Store) AllocateVoucher(ctx context.Context, bundleID, transactionID int64) (int64, error) {
	txns := s.db.Collection(colTransactions)

	var current transactionModel
	if err := txns.FindOne(ctx, bson.M{"_id": transactionID}).Decode(&current); err != nil {
		if isNoDocuments(err) {
			return 0, settle.ErrTransactionNotFound
		}
		return 0, fmt.Errorf("settle/mongo: read transaction: %w", err)
	}
	if current.VoucherID != nil {
		return 0, settle.ErrVoucherAlreadyAssigned
	}

	cur, err := s.db.Collection(colVouchers).Find(ctx,
		bson.M{"bundle_id": bundleID, "status": string(voucher.StatusActive)},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return 0, fmt.Errorf("settle/mongo: list vouchers: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var v voucherModel
		if err := cur.Decode(&v); err != nil {
			return 0, fmt.Errorf("settle/mongo: decode voucher: %w", err)
		}

		held, err := txns.CountDocuments(ctx, bson.M{"voucher_id": v.ID}, options.Count().SetLimit(1))
		if err != nil {
			return 0, fmt.Errorf("settle/mongo: check voucher %d: %w", v.ID, err)
		}
		if held > 0 {
			continue
		}

		res, err := txns.UpdateOne(ctx,
			bson.M{"_id": transactionID, "voucher_id": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"voucher_id": v.ID}},
		)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return 0, fmt.Errorf("settle/mongo: assign voucher: %w", err)
		}
		if res.MatchedCount == 0 {
			return 0, settle.ErrVoucherAlreadyAssigned
		}
		return v.ID, nil
	}
	if err := cur.Err(); err != nil {
		return 0, fmt.Errorf("settle/mongo: list vouchers: %w", err)
	}
	return 0, settle.ErrNoVoucherAvailable
}

// ==================== Seeding ====================

// InsertPaymentRequest stores r under a freshly issued id.
func (s *Store) InsertPaymentRequest(ctx context.Context, r *payment.Record) (int64, error) {
	id, err := s.nextID(ctx, colPaymentRequests)
	if err != nil {
		return 0, err
	}
	m, err := toPaymentRequestModel(id, r)
	if err != nil {
		return 0, fmt.Errorf("settle/mongo: convert payment request: %w", err)
	}
	if _, err := s.db.Collection(colPaymentRequests).InsertOne(ctx, m); err != nil {
		return 0, fmt.Errorf("settle/mongo: insert payment request: %w", err)
	}
	return id, nil
}

// InsertTransaction stores t under a freshly issued id.
func (s *Store) InsertTransaction(ctx context.Context, t *transaction.Transaction) (int64, error) {
	id, err := s.nextID(ctx, colTransactions)
	if err != nil {
		return 0, err
	}
	m, err := toTransactionModel(id, t)
	if err != nil {
		return 0, fmt.Errorf("settle/mongo: convert transaction: %w", err)
	}
	if _, err := s.db.Collection(colTransactions).InsertOne(ctx, m); err != nil {
		return 0, fmt.Errorf("settle/mongo: insert transaction: %w", err)
	}
	return id, nil
}

// InsertVoucher stores v under a freshly issued id.
func (s *Store) InsertVoucher(ctx context.Context, v *voucher.Voucher) (int64, error) {
	id, err := s.nextID(ctx, colVouchers)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Collection(colVouchers).InsertOne(ctx, toVoucherModel(id, v)); err != nil {
		return 0, fmt.Errorf("settle/mongo: insert voucher: %w", err)
	}
	return id, nil
}

func (s *Store) nextID(ctx context.Context, collection string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": collection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("settle/mongo: next id for %s: %w", collection, err)
	}
	return doc.Seq, nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPaymentRequests: {
			{Keys: bson.D{{Key: "reference_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "payment_reference", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "voucher_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"voucher_id": bson.M{"$exists": true}}),
			},
		},
		colVouchers: {
			{Keys: bson.D{{Key: "bundle_id", Value: 1}, {Key: "status", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}
}
