package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/license-panel/internal/auth"
	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
)

func newAccounts(t *testing.T, threshold int) (*Accounts, *repository.MemoryStore, *time.Time) {
	t.Helper()
	store := repository.NewMemoryStore()
	v, err := auth.NewVerifier(store, bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	a := NewAccounts(store, v, AccountOptions{
		Lockout:    auth.Guard{Store: auth.NewMemoryLockoutStore(), Threshold: threshold, Window: time.Minute},
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return now },
	})
	return a, store, &now
}

func TestBootstrapAdminOnlyOnEmptyStore(t *testing.T) {
	a, _, _ := newAccounts(t, 0)
	ctx := context.Background()

	created, err := a.BootstrapAdmin(ctx, "root", "changeme123")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = a.BootstrapAdmin(ctx, "other", "changeme123")
	require.NoError(t, err)
	assert.False(t, created)

	id, err := a.Login(ctx, "root", "changeme123")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, id.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a, _, _ := newAccounts(t, 0)
	ctx := context.Background()
	_, err := a.BootstrapAdmin(ctx, "root", "changeme123")
	require.NoError(t, err)

	_, err = a.Login(ctx, "root", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = a.Login(ctx, "nobody", "changeme123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginLockout(t *testing.T) {
	a, _, now := newAccounts(t, 3)
	ctx := context.Background()
	_, err := a.BootstrapAdmin(ctx, "root", "changeme123")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = a.Login(ctx, "root", "nope")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
	_, err = a.Login(ctx, "root", "changeme123")
	assert.ErrorIs(t, err, ErrAccountLocked)

	*now = now.Add(2 * time.Minute)
	_, err = a.Login(ctx, "root", "changeme123")
	require.NoError(t, err)
}

func TestCreateAndListUsers(t *testing.T) {
	a, _, _ := newAccounts(t, 0)
	ctx := context.Background()

	created, err := a.CreateUser(ctx, admin1, "staff1", "password1", model.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, created.Role)

	_, err = a.CreateUser(ctx, admin1, "staff1", "password1", model.RoleStaff)
	assert.ErrorIs(t, err, repository.ErrDuplicateUsername)
	_, err = a.CreateUser(ctx, admin1, "bad name", "password1", model.RoleStaff)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.CreateUser(ctx, admin1, "shorty", "short", model.RoleStaff)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.CreateUser(ctx, admin1, "root2", "password1", "superuser")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.CreateUser(ctx, staff1, "sneaky", "password1", model.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	users, err := a.ListUsers(ctx, admin1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "staff1", users[0].Username)

	_, err = a.ListUsers(ctx, staff1)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = a.ListUsers(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSetUserRoleTakesEffectOnReload(t *testing.T) {
	a, _, _ := newAccounts(t, 0)
	ctx := context.Background()
	_, err := a.CreateUser(ctx, admin1, "staff1", "password1", model.RoleStaff)
	require.NoError(t, err)

	updated, err := a.SetUserRole(ctx, admin1, "staff1", model.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, updated.Role)

	id, err := a.Reload(ctx, "staff1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, id.Role)

	_, err = a.SetUserRole(ctx, admin1, "admin1", model.RoleUser)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.SetUserRole(ctx, admin1, "ghost", model.RoleUser)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = a.SetUserRole(ctx, admin1, "staff1", "owner")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.SetUserRole(ctx, staff1, "staff1", model.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)
}
