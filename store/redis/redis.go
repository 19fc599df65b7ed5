// Package redis stores rate-limit counters and CSRF tokens in Redis. It implements
// goGuard.CounterStore and goGuard.CSRFStore and is wired with Builder.WithCounterStore
// and Builder.WithCSRFStore; everything else stays in the relational store.
//
// Both hot paths are single Lua scripts, so they are atomic across instances. Logical
// expiry is kept in the hash and compared with the caller's clock; the Redis TTL only
// garbage-collects keys, so the sweep methods have nothing to delete.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis failure.
var ErrRedisUnavailable = errors.New("goguard redis unavailable")

// hitCounterLua applies one fixed-window hit.
//
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
// ARGV[3] = now in unix milliseconds
//
// Returns {count, expires_at_ms}.
var hitCounterLua = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local v = redis.call('HMGET', KEYS[1], 'count', 'exp')
local count = tonumber(v[1])
local exp = tonumber(v[2])

if (not count) or (not exp) or exp <= now then
  count = 1
  exp = now + window
  redis.call('HSET', KEYS[1], 'count', count, 'exp', exp)
  redis.call('PEXPIRE', KEYS[1], window)
elseif count <= limit then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end

return {count, exp}
`)

// consumeCSRFLua deletes a token row when it is unexpired and owned by the given
// user/session. Empty owner arguments match any row.
//
// KEYS[1] = token key
// ARGV[1] = user id
// ARGV[2] = session id
// ARGV[3] = now in unix milliseconds
//
// Returns 1 when the row was consumed, else 0.
var consumeCSRFLua = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'user', 'session', 'exp')
if not v[3] then
  return 0
end
if tonumber(v[3]) <= tonumber(ARGV[3]) then
  redis.call('DEL', KEYS[1])
  return 0
end
if ARGV[1] ~= '' and v[1] ~= ARGV[1] then
  return 0
end
if ARGV[2] ~= '' and v[2] ~= ARGV[2] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// Store implements the counter and CSRF parts of goGuard.Store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var (
	_ goGuard.CounterStore = (*Store)(nil)
	_ goGuard.CSRFStore    = (*Store)(nil)
)

// New returns a store. An empty prefix defaults to "goguard".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "goguard"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) counterKey(key string) string {
	return s.prefix + ":rl:" + key
}

func (s *Store) csrfKey(hash string) string {
	return s.prefix + ":csrf:" + hash
}

func (s *Store) HitCounter(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, time.Time, error) {
	res, err := hitCounterLua.Run(ctx, s.redis,
		[]string{s.counterKey(key)},
		limit,
		window.Milliseconds(),
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected lua result", ErrRedisUnavailable)
	}
	return int(res[0]), time.UnixMilli(res[1]).UTC(), nil
}

// DeleteExpiredCounters is a no-op; Redis expires counter keys itself.
func (s *Store) DeleteExpiredCounters(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) InsertCSRFToken(ctx context.Context, rec csrf.Record) error {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", csrf.ErrInvalidTTL)
	}
	key := s.csrfKey(rec.TokenHash)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user", rec.UserID,
			"session", rec.SessionID,
			"exp", rec.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) ConsumeCSRFToken(ctx context.Context, tokenHash, userID, sessionID string, now time.Time) (bool, error) {
	n, err := consumeCSRFLua.Run(ctx, s.redis,
		[]string{s.csrfKey(tokenHash)},
		userID,
		sessionID,
		now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// DeleteExpiredCSRFTokens is a no-op; Redis expires token keys itself.
func (s *Store) DeleteExpiredCSRFTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}
