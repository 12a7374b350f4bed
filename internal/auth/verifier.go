// Package auth checks staff credentials and tracks failed logins.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/utils"
)

// ErrInvalidCredentials is the only failure reported for a bad login.  It
// never says whether the username or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrAccountLocked is returned while a username is locked out after too
// many failed attempts.
var ErrAccountLocked = errors.New("account temporarily locked")

// CredentialStore looks up the stored credential record for a username.
type CredentialStore interface {
	UserByUsername(ctx context.Context, username string) (model.User, error)
}

// Verifier validates username/password pairs.
type Verifier struct {
	store CredentialStore
	// dummy is compared against when the user does not exist so both
	// outcomes cost one bcrypt comparison.
	dummy string
}

// NewVerifier returns a Verifier reading credentials from store.  cost is
// the bcrypt cost used for the dummy digest and should match the cost
// new passwords are hashed with.
func NewVerifier(store CredentialStore, cost int) (*Verifier, error) {
	dummy, err := utils.HashPassword("license-panel-dummy", cost)
	if err != nil {
		return nil, fmt.Errorf("dummy digest: %w", err)
	}
	return &Verifier{store: store, dummy: dummy}, nil
}

// Verify returns the identity for username when password matches its
// stored digest.
func (v *Verifier) Verify(ctx context.Context, username, password string) (model.Identity, error) {
	u, err := v.store.UserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		utils.VerifyPassword(v.dummy, password)
		return model.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("load credentials: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return model.Identity{}, ErrInvalidCredentials
	}
	return u.Identity(), nil
}
