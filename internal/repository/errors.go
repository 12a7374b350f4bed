// Package repository defines the storage contract used by the lifecycle
// core and the two implementations shipped with the service: an
// in-memory store for tests and single-node runs, and a MySQL store for
// production.  The sentinel errors below are shared by both so higher
// layers can classify failures with errors.Is without knowing which
// store is behind the interface.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested device or user does not
// exist.  Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicateMac is returned when a device with the same MAC address is
// already registered.  Retrying cannot succeed; handlers translate this
// into an HTTP 409 response.
var ErrDuplicateMac = errors.New("mac already registered")

// ErrDuplicateUsername is returned when creating a user whose username
// is taken.  Usernames are compared case-sensitively.
var ErrDuplicateUsername = errors.New("username already exists")

// ErrTransient marks infrastructure failures that may succeed when the
// whole unit of work is retried: deadlocks, lock wait timeouts, dropped
// connections.  It is always wrapped together with the underlying cause.
var ErrTransient = errors.New("transient storage failure")

// Transient wraps err so that errors.Is(err, ErrTransient) holds while the
// original cause stays reachable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is marked as transient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
