package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/iliyamo/license-panel/internal/auth"
	"github.com/iliyamo/license-panel/internal/logs"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/policy"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/utils"
)

const (
	maxUsernameLen = 64
	minPasswordLen = 8
)

// AccountOptions tunes an Accounts service.
type AccountOptions struct {
	Lockout    auth.Guard
	BcryptCost int
	Now        func() time.Time
}

// Accounts handles login and staff account administration.
type Accounts struct {
	store    repository.Store
	verifier *auth.Verifier
	lockout  auth.Guard
	cost     int
	now      func() time.Time
}

func NewAccounts(store repository.Store, verifier *auth.Verifier, opts AccountOptions) *Accounts {
	a := &Accounts{
		store:    store,
		verifier: verifier,
		lockout:  opts.Lockout,
		cost:     opts.BcryptCost,
		now:      opts.Now,
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a
}

// Login verifies username and password.  After too many failures the
// username is locked for the configured window and ErrAccountLocked is
// returned even for the right password.
func (a *Accounts) Login(ctx context.Context, username, password string) (model.Identity, error) {
	log := logs.With("accounts").WithField("username", username)
	now := a.now()

	if err := a.lockout.Check(ctx, username, now); err != nil {
		if errors.Is(err, auth.ErrAccountLocked) {
			log.Warn("login refused: account locked")
			return model.Identity{}, err
		}
		log.WithError(err).Warn("lockout lookup failed")
	}

	id, err := a.verifier.Verify(ctx, username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		st, lerr := a.lockout.Failed(ctx, username, now)
		if lerr != nil {
			log.WithError(lerr).Warn("record failed login")
		} else if st.Locked(now) {
			log.WithField("failed_count", st.FailedCount).Warn("account locked after failed logins")
		}
		return model.Identity{}, err
	}
	if err != nil {
		return model.Identity{}, err
	}

	if err := a.lockout.Succeeded(ctx, username); err != nil {
		log.WithError(err).Warn("clear lockout")
	}
	log.WithField("role", id.Role).Info("login")
	return id, nil
}

// Reload returns the current identity for username.  Used to resolve the
// subject of an access token on every request so role changes apply at
// once.
func (a *Accounts) Reload(ctx context.Context, username string) (model.Identity, error) {
	u, err := a.store.UserByUsername(ctx, username)
	if err != nil {
		return model.Identity{}, err
	}
	return u.Identity(), nil
}

// ListUsers returns every account.
func (a *Accounts) ListUsers(ctx context.Context, actor *model.Identity) ([]model.Identity, error) {
	if err := gate(actor, policy.ManageUsers); err != nil {
		return nil, err
	}
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u.Identity())
	}
	return out, nil
}

// CreateUser adds an account with the given role.
func (a *Accounts) CreateUser(ctx context.Context, actor *model.Identity, username, password, role string) (model.Identity, error) {
	if err := gate(actor, policy.ManageUsers); err != nil {
		return model.Identity{}, err
	}
	id, err := a.createUser(ctx, username, password, role)
	if err != nil {
		return model.Identity{}, err
	}
	logs.With("accounts").WithField("username", id.Username).WithField("role", id.Role).
		WithField("actor", actor.Username).Info("user created")
	return id, nil
}

func (a *Accounts) createUser(ctx context.Context, username, password, role string) (model.Identity, error) {
	if err := validUsername(username); err != nil {
		return model.Identity{}, err
	}
	if len(password) < minPasswordLen {
		return model.Identity{}, fmt.Errorf("%w: password shorter than %d characters", ErrInvalidInput, minPasswordLen)
	}
	if !model.ValidRole(role) {
		return model.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := utils.HashPassword(password, a.cost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{Username: username, PasswordHash: hash, Role: role, CreatedAt: a.now()}
	if err := a.store.CreateUser(ctx, &u); err != nil {
		return model.Identity{}, err
	}
	return u.Identity(), nil
}

// SetUserRole reassigns the role of username.  Admins cannot change their
// own role, which keeps at least the acting admin in place.
func (a *Accounts) SetUserRole(ctx context.Context, actor *model.Identity, username, role string) (model.Identity, error) {
	if err := gate(actor, policy.ManageUsers); err != nil {
		return model.Identity{}, err
	}
	if !model.ValidRole(role) {
		return model.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if username == actor.Username {
		return model.Identity{}, fmt.Errorf("%w: cannot change your own role", ErrInvalidInput)
	}
	u, err := a.store.UpdateUserRole(ctx, username, role)
	if err != nil {
		return model.Identity{}, err
	}
	logs.With("accounts").WithField("username", username).WithField("role", role).
		WithField("actor", actor.Username).Info("role changed")
	return u.Identity(), nil
}

// BootstrapAdmin creates an admin account when no account exists yet.  It
// reports whether one was created.
func (a *Accounts) BootstrapAdmin(ctx context.Context, username, password string) (bool, error) {
	n, err := a.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := a.createUser(ctx, username, password, model.RoleAdmin); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return false, nil
		}
		return false, err
	}
	logs.With("accounts").WithField("username", username).Info("bootstrap admin created")
	return true, nil
}

func validUsername(s string) error {
	if s == "" || len(s) > maxUsernameLen {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLen)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: username contains whitespace", ErrInvalidInput)
	}
	return nil
}
