package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/payment"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/tick"
)

// Default cycle tuning.
const (
	DefaultLookback    = 10 * time.Minute
	DefaultSettleGuard = 5 * time.Second
	DefaultConcurrency = 8
)

// StatusChecker looks up the raw gateway status code for a reference.
type StatusChecker interface {
	Status(ctx context.Context, referenceID string) (string, error)
}

// StatusCheckerFunc adapts a function to StatusChecker.
type StatusCheckerFunc func(ctx context.Context, referenceID string) (string, error)

// Status implements StatusChecker.
func (f StatusCheckerFunc) Status(ctx context.Context, referenceID string) (string, error) {
	return f(ctx, referenceID)
}

// CycleConfig tunes a single reconciliation pass.
type CycleConfig struct {
	// Lookback excludes records created longer ago than this.
	Lookback time.Duration
	// SettleGuard skips records touched more recently than this.
	SettleGuard time.Duration
	// Concurrency bounds in-flight references.
	Concurrency int
}

func (c CycleConfig) withDefaults() CycleConfig {
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.SettleGuard < 0 {
		c.SettleGuard = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Cycle runs one reconciliation pass over the unsettled payments.
type Cycle struct {
	store     store.Store
	gateway   StatusChecker
	fulfiller *Fulfiller
	cfg       CycleConfig
	env       Env
}

// NewCycle creates a Cycle.
func NewCycle(s store.Store, gw StatusChecker, f *Fulfiller, cfg CycleConfig, env Env) *Cycle {
	return &Cycle{
		store:     s,
		gateway:   gw,
		fulfiller: f,
		cfg:       cfg.withDefaults(),
		env:       env.withDefaults(),
	}
}

// reference is every unsettled record sharing one gateway reference, in the
// order the store returned them.
type reference struct {
	id      string
	records []*payment.Record
}

// outcome is the result of reconciling one reference.
type outcome struct {
	status    payment.Status
	checked   bool
	updated   int
	fulfilled bool
	errs      []error
}

// Run executes the pass. Only a failure to list unsettled payments is
// returned. Failures for a single reference are logged and recorded in the
// report.
func (c *Cycle) Run(ctx context.Context) (*tick.Report, error) {
	started := c.env.Now()
	report := &tick.Report{ID: id.NewTickID(), StartedAt: started}

	records, err := c.store.FindUnsettled(ctx, payment.UnsettledQuery{
		Now:         started,
		Lookback:    c.cfg.Lookback,
		SettleGuard: c.cfg.SettleGuard,
	})
	if err != nil {
		return nil, fmt.Errorf("settle: find unsettled payments: %w", err)
	}

	report.Fetched = len(records)
	if len(records) == 0 {
		c.env.Logger.Info("monitoring, no recent pending payments",
			"at", started.Format(time.DateTime),
		)
		report.Duration = c.env.Now().Sub(started)
		return report, nil
	}

	refs := groupByReference(records)
	report.Unique = len(refs)
	report.Duplicates = len(records) - len(refs)

	c.env.Logger.Info("found pending payments",
		"records", len(records),
		"references", len(refs),
		"duplicates", report.Duplicates,
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.cfg.Concurrency)

	for _, ref := range refs {
		g.Go(func() error {
			out := c.reconcile(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			merge(report, out)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // reference failures are recorded in the report

	report.Duration = c.env.Now().Sub(started)
	return report, nil
}

func (c *Cycle) reconcile(ctx context.Context, ref reference) outcome {
	var out outcome
	logger := c.env.Logger.With("reference_id", ref.id)

	code, err := c.gateway.Status(ctx, ref.id)
	if err != nil {
		if isTemporary(err) {
			err = fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		logger.Error("status check failed", "error", err, "retryable", IsRetryable(err))
		c.env.Plugins.EmitStatusCheckFailed(ctx, ref.id, err)
		out.errs = append(out.errs, fmt.Errorf("%s: status check: %w", ref.id, err))
		return out
	}
	out.checked = true
	out.status = payment.MapStatus(code)

	if out.status == payment.StatusPending {
		logger.Debug("payment still pending", "gateway_status", code)
		return out
	}

	var fulfil *payment.Record
	for _, rec := range ref.records {
		at := c.env.Now()
		res, err := c.store.UpdateStatus(ctx, payment.StatusUpdate{
			PaymentID:   rec.ID,
			Table:       rec.Table,
			ReferenceID: rec.ReferenceID,
			Status:      out.status,
			At:          at,
		})
		change := &payment.StatusChange{
			PaymentID:   rec.ID,
			Table:       rec.Table,
			ReferenceID: rec.ReferenceID,
			Status:      out.status,
			Result:      res,
			At:          at,
		}

		var mirrorErr *payment.MirrorError
		switch {
		case errors.As(err, &mirrorErr):
			logger.Warn("mirror update failed",
				"table", rec.Table,
				"mirror_table", mirrorErr.Table,
				"error", err,
			)
			c.env.Plugins.EmitMirrorFailed(ctx, change, err)
		case err != nil:
			logger.Error("status update failed",
				"table", rec.Table,
				"payment_id", rec.ID,
				"error", err,
			)
			c.env.Plugins.EmitStatusCheckFailed(ctx, ref.id, err)
			out.errs = append(out.errs, fmt.Errorf("%s: update %s: %w", ref.id, rec.Table, err))
			continue
		}

		out.updated++
		logger.Info("updated payment",
			"table", rec.Table,
			"status", out.status,
			"gateway_status", code,
		)
		c.env.Plugins.EmitStatusChanged(ctx, change)

		if fulfil == nil || (fulfil.Table != payment.TableTransactions && rec.Table == payment.TableTransactions) {
			fulfil = rec
		}
	}

	if out.status != payment.StatusCompleted || fulfil == nil {
		return out
	}

	alloc, err := c.fulfiller.Fulfill(ctx, fulfil)
	if err != nil {
		logger.Error("fulfillment failed", "error", err)
		out.errs = append(out.errs, fmt.Errorf("%s: fulfill: %w", ref.id, err))
		return out
	}
	out.fulfilled = alloc != nil
	return out
}

// groupByReference collapses records sharing a reference while keeping the
// first-seen order of both references and records.
func groupByReference(records []*payment.Record) []reference {
	index := make(map[string]int, len(records))
	var refs []reference
	for _, rec := range records {
		i, ok := index[rec.ReferenceID]
		if !ok {
			i = len(refs)
			index[rec.ReferenceID] = i
			refs = append(refs, reference{id: rec.ReferenceID})
		}
		refs[i].records = append(refs[i].records, rec)
	}
	return refs
}

func merge(r *tick.Report, out outcome) {
	if out.checked {
		r.Checked++
		switch out.status {
		case payment.StatusPending:
			r.Pending++
		case payment.StatusCompleted:
			r.Completed++
		case payment.StatusFailed:
			r.Failed++
		}
	}
	r.Updated += out.updated
	if out.fulfilled {
		r.Fulfilled++
	}
	for _, err := range out.errs {
		r.Errors = append(r.Errors, err.Error())
	}
}

// isTemporary reports whether err, or anything it wraps, says a later
// attempt may succeed.
func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
