package payment

import "strings"

// statusCodes maps lower-cased gateway codes to internal statuses.
var statusCodes = map[string]Status{
	"success":      StatusCompleted,
	"completed":    StatusCompleted,
	"failed":       StatusFailed,
	"expired":      StatusFailed,
	"cancelled":    StatusFailed,
	"pending":      StatusPending,
	"processing":   StatusPending,
	"senttovendor": StatusPending,
}

// MapStatus converts a gateway status code to an internal status.
// Matching ignores case and surrounding space. Unknown codes map to
// StatusPending so an unrecognised code is never treated as terminal.
func MapStatus(code string) Status {
	if s, ok := statusCodes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return s
	}
	return StatusPending
}
