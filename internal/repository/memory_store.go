package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/license-panel/internal/model"
)

// MemoryStore keeps every record in process memory.  It honours the same
// contract as the MySQL store: writes are staged per transaction and
// applied atomically on commit, and a transaction holding a device keeps
// every other writer of that device waiting.  Different devices never
// wait on each other.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[uint64]model.Device
	byMAC     map[string]uint64
	logs      []model.LogEntry
	users     map[string]model.User
	deviceSeq uint64
	logSeq    uint64
	userSeq   uint64
	lastLogAt time.Time

	locks *keyLocks
	now   func() time.Time

	faultMu sync.Mutex
	fault   func(op string) error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[uint64]model.Device),
		byMAC:   make(map[string]uint64),
		users:   make(map[string]model.User),
		locks:   newKeyLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetFault installs a hook consulted before every transactional step
// ("lock_device", "insert_device", "update_device", "delete_device",
// "append_log", "commit").  A non-nil return aborts the step with that
// error.  Passing nil removes the hook.  Used by tests to simulate
// storage failures.
func (s *MemoryStore) SetFault(fn func(op string) error) {
	s.faultMu.Lock()
	s.fault = fn
	s.faultMu.Unlock()
}

func (s *MemoryStore) check(op string) error {
	s.faultMu.Lock()
	fn := s.fault
	s.faultMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) DeviceByID(_ context.Context, id uint64) (model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *MemoryStore) DeviceByMAC(_ context.Context, mac string) (model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMAC[mac]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return cloneDevice(s.devices[id]), nil
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	return s.SearchDevices(ctx, "")
}

func (s *MemoryStore) SearchDevices(_ context.Context, term string) ([]model.Device, error) {
	term = strings.ToLower(term)
	s.mu.RLock()
	out := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if term == "" || containsFold(term, d.MAC, d.Hostname, d.KeyCode) {
			out = append(out, cloneDevice(d))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountDevices(context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, d := range s.devices {
		if d.Active {
			active++
		}
	}
	return len(s.devices), active, nil
}

func (s *MemoryStore) RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	return s.SearchLogs(ctx, "", limit)
}

func (s *MemoryStore) SearchLogs(_ context.Context, term string, limit int) ([]model.LogEntry, error) {
	term = strings.ToLower(term)
	s.mu.RLock()
	out := make([]model.LogEntry, 0, len(s.logs))
	for _, e := range s.logs {
		if term == "" || containsFold(term, e.MAC, e.Hostname, e.Action, e.PerformedBy) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UserByUsername(_ context.Context, username string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]model.User, error) {
	s.mu.RLock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrDuplicateUsername
	}
	s.userSeq++
	u.ID = s.userSeq
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.Username] = *u
	return nil
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, username, role string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return model.User{}, ErrNotFound
	}
	u.Role = role
	s.users[username] = u
	return u, nil
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// WithinTx runs fn against a staging transaction.  Staged writes are
// validated and applied under the store lock when fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: s, staged: make(map[uint64]*model.Device)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.check("commit"); err != nil {
		return err
	}
	return tx.commit()
}

// memTx stages writes until commit.  staged maps device IDs to their new
// value; a nil value marks a deletion.
type memTx struct {
	s       *MemoryStore
	held    []string
	staged  map[uint64]*model.Device
	inserts []uint64
	logs    []model.LogEntry
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	for _, k := range tx.held {
		if k == key {
			return nil
		}
	}
	if err := tx.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.s.locks.release(tx.held[i])
	}
	tx.held = nil
}

// current returns the device as this transaction sees it.
func (tx *memTx) current(id uint64) (model.Device, bool) {
	if d, ok := tx.staged[id]; ok {
		if d == nil {
			return model.Device{}, false
		}
		return cloneDevice(*d), true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	d, ok := tx.s.devices[id]
	return cloneDevice(d), ok
}

func (tx *memTx) LockDevice(ctx context.Context, id uint64) (model.Device, error) {
	if err := tx.s.check("lock_device"); err != nil {
		return model.Device{}, err
	}
	if err := tx.lock(ctx, deviceKey(id)); err != nil {
		return model.Device{}, err
	}
	d, ok := tx.current(id)
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

func (tx *memTx) InsertDevice(ctx context.Context, d *model.Device) error {
	if err := tx.s.check("insert_device"); err != nil {
		return err
	}
	if err := tx.lock(ctx, macKey(d.MAC)); err != nil {
		return err
	}
	for _, id := range tx.inserts {
		if st := tx.staged[id]; st != nil && st.MAC == d.MAC {
			return ErrDuplicateMac
		}
	}
	tx.s.mu.Lock()
	if _, taken := tx.s.byMAC[d.MAC]; taken {
		tx.s.mu.Unlock()
		return ErrDuplicateMac
	}
	tx.s.deviceSeq++
	d.ID = tx.s.deviceSeq
	tx.s.mu.Unlock()

	cp := cloneDevice(*d)
	tx.staged[d.ID] = &cp
	tx.inserts = append(tx.inserts, d.ID)
	return tx.lock(ctx, deviceKey(d.ID))
}

func (tx *memTx) UpdateDevice(ctx context.Context, d model.Device) error {
	if err := tx.s.check("update_device"); err != nil {
		return err
	}
	if err := tx.lock(ctx, deviceKey(d.ID)); err != nil {
		return err
	}
	cur, ok := tx.current(d.ID)
	if !ok {
		return ErrNotFound
	}
	cur.Active = d.Active
	cur.ActivatedAt = cloneTime(d.ActivatedAt)
	cur.ExpiresAt = cloneTime(d.ExpiresAt)
	tx.staged[d.ID] = &cur
	return nil
}

func (tx *memTx) DeleteDevice(ctx context.Context, id uint64) error {
	if err := tx.s.check("delete_device"); err != nil {
		return err
	}
	if err := tx.lock(ctx, deviceKey(id)); err != nil {
		return err
	}
	if _, ok := tx.current(id); !ok {
		return ErrNotFound
	}
	tx.staged[id] = nil
	return nil
}

// AppendLog reserves the next log ID and a timestamp that is never
// earlier than any previously reserved one, so ID order and timestamp
// order agree even when transactions commit out of order.  IDs reserved
// by a rolled back transaction are skipped.
func (tx *memTx) AppendLog(_ context.Context, e *model.LogEntry) error {
	if err := tx.s.check("append_log"); err != nil {
		return err
	}
	tx.s.mu.Lock()
	ts := e.Timestamp
	if ts.IsZero() {
		ts = tx.s.now()
	}
	if ts.Before(tx.s.lastLogAt) {
		ts = tx.s.lastLogAt
	}
	tx.s.lastLogAt = ts
	tx.s.logSeq++
	e.ID = tx.s.logSeq
	e.Timestamp = ts
	tx.s.mu.Unlock()
	tx.logs = append(tx.logs, *e)
	return nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate first so a conflict leaves nothing half-applied.
	for _, id := range tx.inserts {
		d := tx.staged[id]
		if d == nil {
			continue
		}
		if other, taken := s.byMAC[d.MAC]; taken && other != id {
			if st, deleting := tx.staged[other]; !deleting || st != nil {
				return ErrDuplicateMac
			}
		}
	}
	for id, d := range tx.staged {
		if d != nil {
			continue
		}
		if old, ok := s.devices[id]; ok {
			delete(s.byMAC, old.MAC)
			delete(s.devices, id)
		}
	}
	for id, d := range tx.staged {
		if d == nil {
			continue
		}
		s.devices[id] = *d
		s.byMAC[d.MAC] = id
	}
	s.logs = append(s.logs, tx.logs...)
	return nil
}

func deviceKey(id uint64) string { return "device:" + strconv.FormatUint(id, 10) }
func macKey(mac string) string   { return "mac:" + mac }

func containsFold(lowerTerm string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerTerm) {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDevice(d model.Device) model.Device {
	d.ActivatedAt = cloneTime(d.ActivatedAt)
	d.ExpiresAt = cloneTime(d.ExpiresAt)
	return d
}

// keyLocks is a set of named mutexes that can be waited on with a
// context.  Entries are removed once nobody holds or waits for them.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks { return &keyLocks{entries: make(map[string]*keyLock)} }

func (l *keyLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyLock{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *keyLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	<-e.ch
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
