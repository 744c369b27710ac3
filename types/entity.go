// Package types provides common types shared by the payment record packages.
package types

import "time"

// Timestamps carries the bookkeeping columns present on every payments row.
// UpdatedAt is nil until the row is first touched after creation.
type Timestamps struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NewTimestamps returns Timestamps created at now with no update recorded.
func NewTimestamps(now time.Time) Timestamps {
	return Timestamps{CreatedAt: now.UTC()}
}

// Touch records an update at now.
func (t *Timestamps) Touch(now time.Time) {
	u := now.UTC()
	t.UpdatedAt = &u
}

// Age returns how long before now the row was created.
func (t Timestamps) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// CreatedWithin reports whether the row was created strictly after now-window.
func (t Timestamps) CreatedWithin(now time.Time, window time.Duration) bool {
	return t.CreatedAt.After(now.Add(-window))
}

// SettledFor reports whether the row has been left alone for longer than
// guard. Rows that were never updated always qualify.
func (t Timestamps) SettledFor(now time.Time, guard time.Duration) bool {
	if t.UpdatedAt == nil {
		return true
	}
	return t.UpdatedAt.Before(now.Add(-guard))
}
