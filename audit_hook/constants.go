package audithook

// Action constants for audit events.
const (
	// Tick actions
	ActionTickCompleted = "tick.completed"

	// Payment actions
	ActionPaymentCompleted  = "payment.completed"
	ActionPaymentFailed     = "payment.failed"
	ActionMirrorFailed      = "payment.mirror_failed"
	ActionStatusCheckFailed = "payment.status_check_failed"

	// Voucher actions
	ActionVoucherAllocated   = "voucher.allocated"
	ActionVoucherUnavailable = "voucher.unavailable"

	// Notification actions
	ActionNotificationSent   = "notification.sent"
	ActionNotificationFailed = "notification.failed"
)

// Resource constants for audit events.
const (
	ResourceTick         = "tick"
	ResourcePayment      = "payment"
	ResourceTransaction  = "transaction"
	ResourceVoucher      = "voucher"
	ResourceNotification = "notification"
)

// Category constants for audit events.
const (
	CategoryReconciliation = "reconciliation"
	CategoryPayment        = "payment"
	CategoryFulfillment    = "fulfillment"
	CategoryIntegration    = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
