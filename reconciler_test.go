package settle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/notify"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store/memory"
	"github.com/xraph/settle/tick"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/voucher"
)

// events counts plugin hook calls by name.
type events struct {
	mu     sync.Mutex
	counts map[string]int
}

func newEvents() *events { return &events{counts: map[string]int{}} }

func (e *events) Name() string { return "events" }

func (e *events) inc(name string) {
	e.mu.Lock()
	e.counts[name]++
	e.mu.Unlock()
}

func (e *events) Count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[name]
}

func (e *events) OnInit(context.Context, interface{}) error { e.inc("init"); return nil }
func (e *events) OnShutdown(context.Context) error          { e.inc("shutdown"); return nil }

func (e *events) OnTickCompleted(context.Context, *tick.Report) error {
	e.inc("tick")
	return nil
}

func (e *events) OnStatusChanged(context.Context, *payment.StatusChange) error {
	e.inc("status_changed")
	return nil
}

func (e *events) OnMirrorFailed(context.Context, *payment.StatusChange, error) error {
	e.inc("mirror_failed")
	return nil
}

func (e *events) OnStatusCheckFailed(context.Context, string, error) error {
	e.inc("status_check_failed")
	return nil
}

func (e *events) OnVoucherAllocated(context.Context, *voucher.Allocation) error {
	e.inc("voucher_allocated")
	return nil
}

func (e *events) OnVoucherUnavailable(context.Context, int64, int64, string) error {
	e.inc("voucher_unavailable")
	return nil
}

func (e *events) OnNotificationSent(context.Context, *notify.Message) error {
	e.inc("notification_sent")
	return nil
}

func (e *events) OnNotificationFailed(context.Context, *notify.Message, error) error {
	e.inc("notification_failed")
	return nil
}

type harness struct {
	store  *memory.Store
	gw     *fakeGateway
	out    *outbox
	events *events
	r      *settle.Reconciler
}

func newHarness(t *testing.T, codes map[string]string, opts ...settle.Option) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		gw:     newFakeGateway(codes),
		out:    &outbox{},
		events: newEvents(),
	}
	opts = append([]settle.Option{
		settle.WithClock(fixedClock),
		settle.WithPlugin(h.events),
	}, opts...)
	h.r = settle.New(h.store, h.gw, h.out, opts...)
	return h
}

func (h *harness) tick(t *testing.T) *tick.Report {
	t.Helper()
	rep, err := h.r.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return rep
}

func TestTickCompletesAndFulfills(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	seedREF1(h.store)

	rep := h.tick(t)

	pr, _ := h.store.PaymentRequest(1)
	if pr.Status != payment.StatusCompleted {
		t.Errorf("payment request status: got %q, want completed", pr.Status)
	}
	txn, _ := h.store.Transaction(3)
	if txn.Status != payment.StatusCompleted {
		t.Errorf("transaction status: got %q, want completed", txn.Status)
	}
	if txn.VoucherID == nil || *txn.VoucherID != 11 {
		t.Fatalf("transaction voucher: got %v, want 11", txn.VoucherID)
	}

	msgs := h.out.Messages()
	if len(msgs) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(msgs))
	}
	if msgs[0].VoucherID != 11 || msgs[0].TransactionID != 3 || msgs[0].CustomerPhone != "256700000002" {
		t.Errorf("notification: got %+v", msgs[0])
	}
	if msgs[0].ID.IsNil() {
		t.Error("notification ID should be set")
	}

	if got := h.gw.Calls("REF1"); got != 1 {
		t.Errorf("gateway calls: got %d, want 1", got)
	}

	want := tick.Report{Fetched: 2, Unique: 1, Duplicates: 1, Checked: 1, Completed: 1, Updated: 2, Fulfilled: 1}
	if rep.Fetched != want.Fetched || rep.Unique != want.Unique || rep.Duplicates != want.Duplicates ||
		rep.Checked != want.Checked || rep.Completed != want.Completed || rep.Updated != want.Updated ||
		rep.Fulfilled != want.Fulfilled {
		t.Errorf("report: got %+v, want %+v", *rep, want)
	}
	if rep.HasErrors() {
		t.Errorf("report errors: %v", rep.Errors)
	}
	if h.r.LastReport() != rep {
		t.Error("LastReport should return the latest report")
	}

	for name, n := range map[string]int{
		"status_changed":    2,
		"voucher_allocated": 1,
		"notification_sent": 1,
		"tick":              1,
	} {
		if got := h.events.Count(name); got != n {
			t.Errorf("%s events: got %d, want %d", name, got, n)
		}
	}
}

func TestTickAlreadyFulfilled(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	seedREF1(h.store)
	seven := int64(7)
	h.store.AddTransaction(transaction.Transaction{
		Timestamps:       createdAgo(time.Minute),
		ID:               3,
		PaymentReference: "REF1",
		CustomerPhone:    "256700000002",
		Status:           payment.StatusPending,
		BundleID:         5,
		VoucherID:        &seven,
	})

	rep := h.tick(t)

	txn, _ := h.store.Transaction(3)
	if txn.VoucherID == nil || *txn.VoucherID != 7 {
		t.Errorf("transaction voucher: got %v, want 7", txn.VoucherID)
	}
	if txn.Status != payment.StatusCompleted {
		t.Errorf("transaction status: got %q, want completed", txn.Status)
	}
	if n := len(h.out.Messages()); n != 0 {
		t.Errorf("notifications: got %d, want 0", n)
	}
	if rep.Fulfilled != 0 {
		t.Errorf("Fulfilled: got %d, want 0", rep.Fulfilled)
	}
	if got := h.events.Count("voucher_allocated"); got != 0 {
		t.Errorf("voucher_allocated events: got %d, want 0", got)
	}
}

func TestTickTerminalStatuses(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		wantStatus payment.Status
		wantVouch  bool
	}{
		{"success", "SUCCESS", payment.StatusCompleted, true},
		{"failed", "Failed", payment.StatusFailed, false},
		{"expired", "expired", payment.StatusFailed, false},
		{"pending", "pending", payment.StatusPending, false},
		{"unknown code", "REVERSED", payment.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]string{"REF1": tt.code})
			seedREF1(h.store)

			rep := h.tick(t)

			pr, _ := h.store.PaymentRequest(1)
			txn, _ := h.store.Transaction(3)
			if pr.Status != tt.wantStatus || txn.Status != tt.wantStatus {
				t.Errorf("status: got %q/%q, want %q", pr.Status, txn.Status, tt.wantStatus)
			}
			if got := txn.VoucherID != nil; got != tt.wantVouch {
				t.Errorf("voucher assigned: got %v, want %v", got, tt.wantVouch)
			}
			if tt.wantStatus == payment.StatusPending {
				if rep.Pending != 1 || rep.Updated != 0 {
					t.Errorf("report: got pending=%d updated=%d", rep.Pending, rep.Updated)
				}
				if pr.UpdatedAt != nil {
					t.Error("pending record should not be touched")
				}
			}
		})
	}
}

func TestTickExcludesOldAndRecentlyTouched(t *testing.T) {
	h := newHarness(t, map[string]string{"OLD": "SUCCESS", "BUSY": "SUCCESS"})
	h.store.AddPaymentRequest(payment.Record{
		Timestamps:  createdAgo(11 * time.Minute),
		ReferenceID: "OLD",
		Status:      payment.StatusPending,
	})
	busy := createdAgo(time.Minute)
	busy.Touch(testNow.Add(-2 * time.Second))
	h.store.AddPaymentRequest(payment.Record{
		Timestamps:  busy,
		ReferenceID: "BUSY",
		Status:      payment.StatusPending,
	})

	rep := h.tick(t)

	if !rep.Idle() {
		t.Errorf("report should be idle, fetched %d", rep.Fetched)
	}
	if n := h.gw.TotalCalls(); n != 0 {
		t.Errorf("gateway calls: got %d, want 0", n)
	}
}

func TestTickIsolatesReferenceFailures(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS", "REF2": "SUCCESS"})
	seedREF1(h.store)
	h.store.AddPaymentRequest(payment.Record{
		Timestamps:  createdAgo(time.Minute),
		ID:          20,
		ReferenceID: "REF2",
		Status:      payment.StatusPending,
	})
	h.gw.errs["REF2"] = errors.New("gateway timeout")

	rep := h.tick(t)

	if len(rep.Errors) != 1 {
		t.Fatalf("report errors: got %v, want 1", rep.Errors)
	}
	if rep.Completed != 1 || rep.Fulfilled != 1 {
		t.Errorf("report: got completed=%d fulfilled=%d", rep.Completed, rep.Fulfilled)
	}
	ref2, _ := h.store.PaymentRequest(20)
	if ref2.Status != payment.StatusPending {
		t.Errorf("REF2 status: got %q, want pending", ref2.Status)
	}
	if got := h.events.Count("status_check_failed"); got != 1 {
		t.Errorf("status_check_failed events: got %d, want 1", got)
	}
}

func TestTickMirrorFailureIsNotFatal(t *testing.T) {
	mem := memory.New()
	seedREF1(mem)
	gw := newFakeGateway(map[string]string{"REF1": "COMPLETED"})
	out := &outbox{}
	ev := newEvents()
	r := settle.New(mirrorFailing{mem}, gw, out,
		settle.WithClock(fixedClock),
		settle.WithPlugin(ev),
	)

	rep, err := r.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.HasErrors() {
		t.Errorf("report errors: %v", rep.Errors)
	}
	if rep.Updated != 2 || rep.Fulfilled != 1 {
		t.Errorf("report: got updated=%d fulfilled=%d", rep.Updated, rep.Fulfilled)
	}
	if got := ev.Count("mirror_failed"); got != 2 {
		t.Errorf("mirror_failed events: got %d, want 2", got)
	}
}

func TestTickNoVoucherAvailable(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	seedREF1(h.store)
	h.store.AddTransaction(transaction.Transaction{
		Timestamps:       createdAgo(time.Minute),
		ID:               3,
		PaymentReference: "REF1",
		Status:           payment.StatusPending,
		BundleID:         99,
	})

	rep := h.tick(t)

	if rep.Fulfilled != 0 || rep.HasErrors() {
		t.Errorf("report: got fulfilled=%d errors=%v", rep.Fulfilled, rep.Errors)
	}
	if got := h.events.Count("voucher_unavailable"); got != 1 {
		t.Errorf("voucher_unavailable events: got %d, want 1", got)
	}
	if n := len(h.out.Messages()); n != 0 {
		t.Errorf("notifications: got %d, want 0", n)
	}
}

func TestTickNotificationFailureKeepsAllocation(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	h.out.err = errors.New("sms gateway down")
	seedREF1(h.store)

	rep := h.tick(t)

	txn, _ := h.store.Transaction(3)
	if txn.VoucherID == nil || *txn.VoucherID != 11 {
		t.Errorf("transaction voucher: got %v, want 11", txn.VoucherID)
	}
	if rep.Fulfilled != 1 || rep.HasErrors() {
		t.Errorf("report: got fulfilled=%d errors=%v", rep.Fulfilled, rep.Errors)
	}
	if got := h.events.Count("notification_failed"); got != 1 {
		t.Errorf("notification_failed events: got %d, want 1", got)
	}
	if n := len(h.out.Messages()); n != 1 {
		t.Errorf("notification attempts: got %d, want 1", n)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	seedREF1(h.store)
	h.store.AddVoucher(voucher.Voucher{ID: 12, BundleID: 5, Status: voucher.StatusActive})

	h.tick(t)
	second := h.tick(t)

	if !second.Idle() {
		t.Errorf("second tick fetched %d, want 0", second.Fetched)
	}
	if n := len(h.out.Messages()); n != 1 {
		t.Errorf("notifications: got %d, want 1", n)
	}
	if got := h.gw.Calls("REF1"); got != 1 {
		t.Errorf("gateway calls: got %d, want 1", got)
	}
}

func TestTickInProgress(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"})
	seedREF1(h.store)
	h.gw.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.r.Tick(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.r.Running() {
		if time.Now().After(deadline) {
			t.Fatal("tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := h.r.Tick(context.Background()); !errors.Is(err, settle.ErrTickInProgress) {
		t.Errorf("concurrent Tick: got %v, want ErrTickInProgress", err)
	}

	close(h.gw.block)
	if err := <-done; err != nil {
		t.Errorf("first Tick: %v", err)
	}
}

type verifyingGateway struct {
	*fakeGateway
	err error
}

func (g verifyingGateway) Verify(context.Context) error { return g.err }

func TestStartFailsOnGatewayAuth(t *testing.T) {
	gw := verifyingGateway{fakeGateway: newFakeGateway(nil), err: errors.New("invalid_client")}
	r := settle.New(memory.New(), gw, notify.Discard)

	err := r.Start(context.Background())
	if !errors.Is(err, settle.ErrGatewayAuth) {
		t.Fatalf("Start: got %v, want ErrGatewayAuth", err)
	}
	if r.Started() {
		t.Error("scheduler should not be running")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"}, settle.WithPollInterval(time.Hour))
	seedREF1(h.store)

	if err := h.r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first tick runs immediately.
	deadline := time.Now().Add(2 * time.Second)
	for h.r.LastReport() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first tick never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.r.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}

	if err := h.r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.r.Stop(); !errors.Is(err, settle.ErrNotStarted) {
		t.Errorf("second Stop: got %v, want ErrNotStarted", err)
	}
	if err := h.r.Health(context.Background()); !errors.Is(err, settle.ErrStoreNotReady) {
		t.Errorf("Health after Stop: got %v, want ErrStoreNotReady", err)
	}

	if h.events.Count("init") != 1 || h.events.Count("shutdown") != 1 {
		t.Errorf("lifecycle events: init=%d shutdown=%d", h.events.Count("init"), h.events.Count("shutdown"))
	}
	if txn, _ := h.store.Transaction(3); txn.VoucherID == nil {
		t.Error("first tick should have fulfilled REF1")
	}
}

func TestStopWaitsForTriggeredTick(t *testing.T) {
	h := newHarness(t, map[string]string{"REF1": "SUCCESS"}, settle.WithPollInterval(time.Hour))
	if err := h.r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the immediate, idle first tick finish before seeding.
	deadline := time.Now().Add(2 * time.Second)
	for h.r.LastReport() == nil || h.r.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first tick never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	seedREF1(h.store)
	block := make(chan struct{})
	h.gw.mu.Lock()
	h.gw.block = block
	h.gw.mu.Unlock()

	tickDone := make(chan error, 1)
	go func() {
		_, err := h.r.Tick(context.Background())
		tickDone <- err
	}()
	for !h.r.Running() {
		if time.Now().After(deadline) {
			t.Fatal("triggered tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	stopDone := make(chan error, 1)
	go func() { stopDone <- h.r.Stop() }()

	select {
	case err := <-stopDone:
		t.Fatalf("Stop returned while a tick was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := h.r.Tick(context.Background()); !errors.Is(err, settle.ErrNotStarted) {
		t.Errorf("Tick while stopping: got %v, want ErrNotStarted", err)
	}

	close(block)
	if err := <-tickDone; err != nil {
		t.Errorf("triggered Tick: %v", err)
	}
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	pr, _ := h.store.PaymentRequest(1)
	if pr.Status != payment.StatusCompleted {
		t.Errorf("payment request status: got %q, want completed", pr.Status)
	}
	if txn, _ := h.store.Transaction(3); txn.VoucherID == nil || *txn.VoucherID != 11 {
		t.Errorf("transaction voucher: got %v, want 11", txn.VoucherID)
	}
}

type migrateFailing struct {
	*memory.Store
}

func (migrateFailing) Migrate(context.Context) error { return errors.New("no DDL rights") }

func TestStartSkipMigrate(t *testing.T) {
	s := migrateFailing{memory.New()}

	if err := settle.New(s, newFakeGateway(nil), notify.Discard).Start(context.Background()); err == nil {
		t.Fatal("Start without skip: expected migration error")
	}

	r := settle.New(s, newFakeGateway(nil), notify.Discard,
		settle.WithSkipMigrate(), settle.WithPollInterval(time.Hour))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start with skip: %v", err)
	}
	if !r.Started() {
		t.Error("polling should run when only migration is skipped")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
