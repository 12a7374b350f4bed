package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutState is the failed-login record of one username.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the state blocks a login at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutStore persists failed-login counters.  A counter starts with the
// first failure and lives for one window.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}

// RedisLockoutStore keeps lockout state in Redis hashes so every instance
// of the service sees the same counters.
type RedisLockoutStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLockoutStore creates a lockout store backed by Redis hashes.
func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{client: client, prefix: "panel:lockout:"}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (LockoutState, error) {
	data, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return LockoutState{}, err
	}
	state := LockoutState{}
	if raw, ok := data["failed_count"]; ok {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.LockedUntil = &t
		}
	}
	return state, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error) {
	redisKey := s.prefix + key

	count, err := s.client.HIncrBy(ctx, redisKey, "failed_count", 1).Result()
	if err != nil {
		return LockoutState{}, err
	}
	state := LockoutState{FailedCount: int(count)}
	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return LockoutState{}, err
		}
	}
	if int(count) < threshold {
		return state, nil
	}

	lockedUntil := now.Add(window).UTC()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, "locked_until", lockedUntil.Unix())
		p.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return LockoutState{}, err
	}
	state.LockedUntil = &lockedUntil
	return state, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// MemoryLockoutStore is the single-process fallback used when Redis is
// not reachable.
type MemoryLockoutStore struct {
	mu      sync.Mutex
	entries map[string]memLockout
}

type memLockout struct {
	state   LockoutState
	resetAt time.Time
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{entries: make(map[string]memLockout)}
}

func (s *MemoryLockoutStore) Get(_ context.Context, key string) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].state, nil
}

func (s *MemoryLockoutStore) RecordFailure(_ context.Context, key string, now time.Time, threshold int, window time.Duration) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = memLockout{resetAt: now.Add(window)}
	}
	e.state.FailedCount++
	if e.state.FailedCount >= threshold {
		until := now.Add(window).UTC()
		e.state.LockedUntil = &until
		e.resetAt = until
	}
	s.entries[key] = e
	return e.state, nil
}

func (s *MemoryLockoutStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Guard applies a lockout policy on top of a LockoutStore.  A zero or
// negative Threshold disables lockout.
type Guard struct {
	Store     LockoutStore
	Threshold int
	Window    time.Duration
}

// Check returns ErrAccountLocked when key is currently locked.
func (g Guard) Check(ctx context.Context, key string, now time.Time) error {
	if g.Store == nil || g.Threshold <= 0 {
		return nil
	}
	st, err := g.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if st.Locked(now) {
		return ErrAccountLocked
	}
	return nil
}

// Failed records a failed attempt and reports the resulting state.
func (g Guard) Failed(ctx context.Context, key string, now time.Time) (LockoutState, error) {
	if g.Store == nil || g.Threshold <= 0 {
		return LockoutState{}, nil
	}
	return g.Store.RecordFailure(ctx, key, now, g.Threshold, g.Window)
}

// Succeeded clears the counter for key.
func (g Guard) Succeeded(ctx context.Context, key string) error {
	if g.Store == nil || g.Threshold <= 0 {
		return nil
	}
	return g.Store.Clear(ctx, key)
}
