package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/license-panel/internal/model"
)

func insertDevice(t *testing.T, s *MemoryStore, mac, host string) model.Device {
	t.Helper()
	d := model.Device{MAC: mac, Hostname: host, KeyCode: "K-" + mac, AddedBy: "staff1", CreatedAt: time.Now().UTC()}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertDevice(ctx, &d)
	})
	require.NoError(t, err)
	return d
}

func TestMemoryStoreInsertAndRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")
	b := insertDevice(t, s, "AA:BB:CC:DD:EE:02", "PC2")
	assert.Less(t, a.ID, b.ID)

	got, err := s.DeviceByMAC(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Equal(t, "PC1", got.Hostname)

	list, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "newest first")

	_, err = s.DeviceByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateMac(t *testing.T) {
	s := NewMemoryStore()
	insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")

	d := model.Device{MAC: "AA:BB:CC:DD:EE:01", Hostname: "again"}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertDevice(ctx, &d)
	})
	assert.ErrorIs(t, err, ErrDuplicateMac)

	total, _, err := s.CountDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryStoreRollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		d := model.Device{MAC: "AA:BB:CC:DD:EE:01"}
		if err := tx.InsertDevice(ctx, &d); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, &model.LogEntry{MAC: d.MAC, Action: "issue key"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	devices, _ := s.ListDevices(context.Background())
	logs, _ := s.RecentLogs(context.Background(), 10)
	assert.Empty(t, devices)
	assert.Empty(t, logs)
}

func TestMemoryStoreCommitFault(t *testing.T) {
	s := NewMemoryStore()
	d := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")
	s.SetFault(func(op string) error {
		if op == "commit" {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockDevice(ctx, d.ID)
		if err != nil {
			return err
		}
		cur.Active = true
		if err := tx.UpdateDevice(ctx, cur); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &model.LogEntry{MAC: cur.MAC, Action: "activate device"})
	})
	require.True(t, IsTransient(err))

	got, err := s.DeviceByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	logs, _ := s.RecentLogs(context.Background(), 10)
	assert.Empty(t, logs)
}

func TestMemoryStoreUpdateKeepsIdentityFields(t *testing.T) {
	s := NewMemoryStore()
	d := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")
	now := time.Now().UTC()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockDevice(ctx, d.ID)
		if err != nil {
			return err
		}
		cur.Active = true
		cur.ActivatedAt = &now
		cur.KeyCode = "changed"
		cur.Hostname = "changed"
		return tx.UpdateDevice(ctx, cur)
	})
	require.NoError(t, err)

	got, _ := s.DeviceByID(context.Background(), d.ID)
	assert.True(t, got.Active)
	assert.Equal(t, d.KeyCode, got.KeyCode)
	assert.Equal(t, "PC1", got.Hostname)
}

func TestMemoryStoreDeleteFreesMac(t *testing.T) {
	s := NewMemoryStore()
	d := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockDevice(ctx, d.ID); err != nil {
			return err
		}
		return tx.DeleteDevice(ctx, d.ID)
	})
	require.NoError(t, err)

	_, err = s.DeviceByID(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	again := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1b")
	assert.NotEqual(t, d.ID, again.ID)
}

func TestMemoryStoreLockDeviceWaitsForHolder(t *testing.T) {
	s := NewMemoryStore()
	d := insertDevice(t, s, "AA:BB:CC:DD:EE:01", "PC1")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockDevice(ctx, d.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockDevice(ctx, d.ID)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTransient(err))

	close(done)
	require.Eventually(t, func() bool {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			_, err := tx.LockDevice(ctx, d.ID)
			return err
		})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreConcurrentInsertSameMac(t *testing.T) {
	s := NewMemoryStore()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := model.Device{MAC: "AA:BB:CC:DD:EE:01"}
			err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
				return tx.InsertDevice(ctx, &d)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, ErrDuplicateMac):
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.Equal(t, 19, dups)
}

func TestMemoryStoreLogOrderingAndSearch(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []model.LogEntry{
		{MAC: "AA:BB:CC:DD:EE:01", Hostname: "PC1", Action: "issue key", PerformedBy: "staff1", Timestamp: base},
		{MAC: "AA:BB:CC:DD:EE:01", Hostname: "PC1", Action: "grant license forever", PerformedBy: "admin", Timestamp: base.Add(time.Minute)},
		// An earlier clock reading is clamped so ID and time order agree.
		{MAC: "AA:BB:CC:DD:EE:02", Hostname: "PC2", Action: "issue key", PerformedBy: "Staff2", Timestamp: base},
	}
	for i := range entries {
		e := entries[i]
		require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.AppendLog(ctx, &e)
		}))
	}

	recent, err := s.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i].Timestamp.After(recent[i-1].Timestamp))
		assert.Less(t, recent[i].ID, recent[i-1].ID)
	}

	limited, _ := s.RecentLogs(context.Background(), 2)
	assert.Len(t, limited, 2)

	hits, err := s.SearchLogs(context.Background(), "STAFF", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, _ = s.SearchLogs(context.Background(), "forever", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "admin", hits[0].PerformedBy)
}

func TestMemoryStoreSearchDevices(t *testing.T) {
	s := NewMemoryStore()
	insertDevice(t, s, "AA:BB:CC:DD:EE:01", "Reception")
	insertDevice(t, s, "AA:BB:CC:DD:EE:02", "Lab-PC")

	hits, err := s.SearchDevices(context.Background(), "recep")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Reception", hits[0].Hostname)

	hits, _ = s.SearchDevices(context.Background(), "ee:02")
	require.Len(t, hits, 1)

	hits, _ = s.SearchDevices(context.Background(), "k-aa")
	assert.Len(t, hits, 2)
}

func TestMemoryStoreUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := model.User{Username: "Alice", PasswordHash: "x", Role: model.RoleStaff}
	require.NoError(t, s.CreateUser(ctx, &u))
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	dup := model.User{Username: "Alice", Role: model.RoleUser}
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), ErrDuplicateUsername)

	// Usernames are case-sensitive.
	lower := model.User{Username: "alice", Role: model.RoleUser}
	require.NoError(t, s.CreateUser(ctx, &lower))

	_, err := s.UserByUsername(ctx, "ALICE")
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := s.UpdateUserRole(ctx, "Alice", model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, updated.Role)

	_, err = s.UpdateUserRole(ctx, "nobody", model.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)

	n, _ := s.CountUsers(ctx)
	assert.Equal(t, 2, n)
	list, _ := s.ListUsers(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", list[0].Username)
}
