// Package tick describes the outcome of one reconciliation pass.
package tick

import (
	"time"

	"github.com/xraph/settle/id"
)

// Report summarises a single tick. It lives only as long as callers keep it.
type Report struct {
	ID         id.TickID     `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Fetched    int           `json:"fetched"`
	Unique     int           `json:"unique"`
	Duplicates int           `json:"duplicates"`
	Checked    int           `json:"checked"`
	Pending    int           `json:"pending"`
	Updated    int           `json:"updated"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Fulfilled  int           `json:"fulfilled"`
	Errors     []string      `json:"errors,omitempty"`
}

// Idle reports whether the tick found nothing to reconcile.
func (r *Report) Idle() bool {
	return r.Fetched == 0
}

// HasErrors reports whether any reference failed during the tick.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}
