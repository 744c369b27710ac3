// Package notify delivers voucher notifications to customers.
package notify

import (
	"context"

	"github.com/xraph/settle/id"
)

// Message is one voucher notification.
type Message struct {
	ID            id.NotificationID `json:"id"`
	VoucherID     int64             `json:"voucher_id"`
	TransactionID int64             `json:"transaction_id"`
	CustomerPhone string            `json:"customer_phone"`
	ReferenceID   string            `json:"reference_id"`
}

// Notifier sends a message. Delivery is attempted once; callers log
// failures and do not retry.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Discard is a Notifier that drops every message.
var Discard Notifier = Func(func(context.Context, Message) error { return nil })
