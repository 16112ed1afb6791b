package retry

import (
	"context"
	"errors"
	"net"
)

// Permanent marks an error that must surface without another attempt, whatever
// the policy says.
type Permanent interface {
	error
	Permanent() bool
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth another attempt: network failures,
// timeouts and errors that declare themselves temporary (HTTP 5xx, 408, 429).
// Client errors, decoding errors and the caller's own cancellation are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var perm Permanent
	if errors.As(err, &perm) && perm.Permanent() {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// Always retries every error except an explicit Permanent one. It is the
// predicate of the legacy policy.
func Always(err error) bool {
	var perm Permanent
	if errors.As(err, &perm) && perm.Permanent() {
		return false
	}
	return err != nil
}
