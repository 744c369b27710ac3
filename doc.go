// Package settle reconciles mobile-money collections with a payment gateway
// and fulfills completed payments with prepaid vouchers.
//
// Settle is designed as a library with a thin daemon on top (cmd/settled).
// It provides:
//
//   - Periodic polling of pending payments across two mirrored tables
//   - Gateway status lookup with cached client-credentials tokens
//   - A closed status mapping where anything unknown stays pending
//   - At-most-once voucher allocation per transaction
//   - Best-effort SMS notification of allocated vouchers
//   - Pluggable storage (MySQL, PostgreSQL, SQLite, MongoDB, memory)
//   - Hooks for metrics and audit trails
//
// # Quick Start
//
// Create a reconciler with your preferred store:
//
//	import (
//	    "github.com/xraph/settle"
//	    "github.com/xraph/settle/gateway"
//	    "github.com/xraph/settle/notify"
//	    "github.com/xraph/settle/store/mysql"
//	)
//
//	s, err := mysql.Open(ctx, mysql.DSN(host, user, password, name))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw := gateway.New(gateway.Config{ClientID: id, ClientSecret: secret})
//	r := settle.New(s, gw, notify.NewSMS(notify.DefaultSMSURL))
//
//	// Migrates, verifies gateway credentials and starts polling
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
// # Reconciliation
//
// Every tick lists pending payments created within the lookback window and
// not touched within the settle guard. Records are grouped by gateway
// reference so each reference costs one gateway call per tick. A terminal
// status is written to the record's table and mirrored into the sibling
// table. Completed payments are then fulfilled:
//
//	report, err := r.Tick(ctx)
//	if errors.Is(err, settle.ErrTickInProgress) {
//	    // a scheduled tick is already running
//	}
//	fmt.Println(report.Checked, report.Updated, report.Fulfilled)
//
// Ticks never overlap. A tick that is running when Stop is called finishes
// before Stop returns.
//
// # Failure handling
//
// A failed status check or update affects only its reference. A failed
// mirror write is logged and left for a later tick to repair. A failed
// notification is logged and never retried.
//
// # TypeID
//
// Identifiers minted by the engine use TypeID:
//
//	tick_01h2xcejqtf2nbrexx3vqjhp41    // Tick report
//	valloc_01h2xcejqtf2nbrexx3vqjhp41  // Voucher allocation
//	ntf_01h455vb4pex5vsknk084sn02q     // Notification
//
// Payment, transaction and voucher rows keep their database keys.
package settle
