package settle

import (
	"errors"
	"fmt"

	"github.com/xraph/settle/store"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("settle: not found")
	ErrInvalidInput = errors.New("settle: invalid input")

	// Payment errors
	ErrPaymentNotFound = errors.New("settle: payment not found")
	ErrInvalidStatus   = errors.New("settle: invalid payment status")
	ErrUnknownTable    = errors.New("settle: unknown payment table")

	// Fulfillment errors
	ErrTransactionNotFound    = errors.New("settle: transaction not found")
	ErrNoVoucherAvailable     = errors.New("settle: no voucher available for bundle")
	ErrVoucherAlreadyAssigned = errors.New("settle: voucher already assigned to transaction")
	ErrMissingBundle          = errors.New("settle: transaction has no bundle")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("settle: gateway unavailable")
	ErrGatewayAuth        = errors.New("settle: gateway authentication failed")

	// Scheduler errors
	ErrTickInProgress = errors.New("settle: tick already in progress")
	ErrAlreadyStarted = errors.New("settle: scheduler already started")
	ErrNotStarted     = errors.New("settle: scheduler not started")

	// Store errors
	ErrStoreNotReady   = errors.New("settle: store not ready")
	ErrStoreClosed     = errors.New("settle: store is closed")
	ErrMigrationFailed = errors.New("settle: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("settle: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "settle: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("settle: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsRetryable returns true if the error is temporary and a later tick may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoVoucherAvailable) ||
		errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, store.ErrDegraded) ||
		errors.Is(err, ErrTickInProgress)
}
