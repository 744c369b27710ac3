package gateway

import (
	"errors"
	"fmt"
)

// ErrAuth wraps every failure to obtain an access token.
var ErrAuth = errors.New("gateway: authentication failed")

// StatusError is returned for a non-2xx status response other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
