// Package id mints identifiers for records the engine creates itself.
//
// Payment, transaction and voucher rows keep the integer keys assigned by the
// payments database. Ticks, voucher allocations and outbound notifications get
// a TypeID instead: "<prefix>_<suffix>", K-sortable (UUIDv7) and URL-safe, so
// log lines and audit events can be correlated across restarts.
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of record an ID belongs to.
type Prefix string

const (
	PrefixTick         Prefix = "tick"   // reconciliation tick
	PrefixAllocation   Prefix = "valloc" // voucher allocation
	PrefixNotification Prefix = "ntf"    // voucher notification
)

// ID is a prefix-qualified TypeID. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Per-record aliases keep field declarations self-describing.
type (
	TickID         = ID
	AllocationID   = ID
	NotificationID = ID
)

// Nil is the zero-value ID.
var Nil ID

// New mints an ID. It panics on a malformed prefix; all prefixes are
// package constants.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// NewTickID mints a tick ID.
func NewTickID() TickID { return New(PrefixTick) }

// NewAllocationID mints a voucher allocation ID.
func NewAllocationID() AllocationID { return New(PrefixAllocation) }

// NewNotificationID mints a notification ID.
func NewNotificationID() NotificationID { return New(PrefixNotification) }

// Parse parses s. When want is non-empty the prefix must match it.
func Parse(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, errors.New("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	parsed := ID{inner: tid, valid: true}
	if want != "" && parsed.Prefix() != want {
		return Nil, fmt.Errorf("id: parse %q: prefix %q, want %q", s, parsed.Prefix(), want)
	}
	return parsed, nil
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler. Nil encodes as "".
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Any prefix is accepted.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data), "")
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
