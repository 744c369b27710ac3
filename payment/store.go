package payment

import "context"

type Store interface {
	FindUnsettled(ctx context.Context, q UnsettledQuery) ([]*Record, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (UpdateResult, error)
}
