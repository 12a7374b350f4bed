package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/license-panel/internal/model"
	"github.com/iliyamo/license-panel/internal/repository"
	"github.com/iliyamo/license-panel/internal/utils"
)

type failingStore struct{ err error }

func (f failingStore) UserByUsername(context.Context, string) (model.User, error) {
	return model.User{}, f.err
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	s := repository.NewMemoryStore()
	hash, err := utils.HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(context.Background(), &model.User{Username: "alice", PasswordHash: hash, Role: model.RoleStaff}))
	require.NoError(t, s.CreateUser(context.Background(), &model.User{Username: "legacy", PasswordHash: utils.LegacyDigest("old-pass"), Role: model.RoleUser}))
	return s
}

func TestVerifyAcceptsCorrectPassword(t *testing.T) {
	v, err := NewVerifier(seededStore(t), bcrypt.MinCost)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, model.RoleStaff, id.Role)

	id, err = v.Verify(context.Background(), "legacy", "old-pass")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, id.Role)
}

func TestVerifyFailuresAreIndistinguishable(t *testing.T) {
	v, err := NewVerifier(seededStore(t), bcrypt.MinCost)
	require.NoError(t, err)

	_, wrongPass := v.Verify(context.Background(), "alice", "wrong")
	_, noUser := v.Verify(context.Background(), "mallory", "correct horse")
	_, wrongCase := v.Verify(context.Background(), "Alice", "correct horse")

	for _, err := range []error{wrongPass, noUser, wrongCase} {
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestVerifyPropagatesStorageErrors(t *testing.T) {
	down := repository.Transient(errors.New("connection refused"))
	v, err := NewVerifier(failingStore{err: down}, bcrypt.MinCost)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "alice", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, repository.IsTransient(err))
}
