// Package service hosts the license lifecycle coordinator: every caller
// facing operation of the panel, gated by the policy table and running
// device changes and their log entries as one unit of work.
package service

import (
	"errors"

	"github.com/iliyamo/license-panel/internal/auth"
	"github.com/iliyamo/license-panel/internal/registry"
)

var (
	// ErrUnauthenticated is returned when no identity accompanies a gated
	// call.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the identity's role lacks the
	// capability.  It is distinct from auth.ErrInvalidCredentials.
	ErrForbidden = errors.New("forbidden")
	// ErrTryAgainLater is returned after transient storage failures
	// exhausted the retry budget.  The cause stays wrapped.
	ErrTryAgainLater = errors.New("storage busy, try again later")

	ErrInvalidInput  = registry.ErrInvalidInput
	ErrAccountLocked = auth.ErrAccountLocked
)
