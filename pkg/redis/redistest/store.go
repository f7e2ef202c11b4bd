// Package redistest provides an in-memory stand-in for the Redis command
// surface used by the cart and checkout stores.
package redistest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is a map-backed fake honouring TTLs against a controllable clock.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore builds an empty fake store using the wall clock.
func NewStore() *Store {
	return &Store{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// SetClock replaces the clock used for TTL checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Keys returns the live keys, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if s.alive(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) alive(key string) bool {
	ent, ok := s.entries[key]
	if !ok {
		return false
	}
	if !ent.expiresAt.IsZero() && !s.now().Before(ent.expiresAt) {
		delete(s.entries, key)
		return false
	}
	return true
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (s *Store) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent := entry{value: asString(value)}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = ent
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (s *Store) Get(ctx context.Context, key string) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if !s.alive(key) {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(s.entries[key].value)
	return cmd
}

func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if s.alive(key) {
		cmd.SetVal(false)
		return cmd
	}
	ent := entry{value: asString(value)}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = ent
	cmd.SetVal(true)
	return cmd
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if !s.alive(key) {
		cmd.SetVal(false)
		return cmd
	}
	ent := s.entries[key]
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	} else {
		ent.expiresAt = time.Time{}
	}
	s.entries[key] = ent
	cmd.SetVal(true)
	return cmd
}

func (s *Store) TTL(ctx context.Context, key string) *redis.DurationCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := redis.NewDurationCmd(ctx, time.Second)
	// go-redis passes the -2 (absent) and -1 (no expiry) sentinels through
	// unscaled.
	if !s.alive(key) {
		cmd.SetVal(time.Duration(-2))
		return cmd
	}
	ent := s.entries[key]
	if ent.expiresAt.IsZero() {
		cmd.SetVal(time.Duration(-1))
		return cmd
	}
	cmd.SetVal(ent.expiresAt.Sub(s.now()))
	return cmd
}

func (s *Store) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if s.alive(key) {
			delete(s.entries, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (s *Store) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.entries {
		if !s.alive(key) {
			continue
		}
		ok, err := path.Match(match, key)
		if err == nil && ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(keys, 0)
	return cmd
}
