// Package lock implements the distributed single-flight lock service. Acquire
// is a plain SET NX PX; release and extend are ownership-checked compare-and-
// swap Lua scripts so a lock that changed hands can never be released or
// extended by its previous owner.
package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
)

const luaReleaseIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const luaExtendIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	releaseScript = redis.NewScript(luaReleaseIfOwner)
	extendScript  = redis.NewScript(luaExtendIfOwner)
)

// Service is the broker-backed lock service. It satisfies domain.Locker.
type Service struct {
	rdb redis.UniversalClient
}

// NewService constructs the lock service over the shared broker client.
func NewService(rdb redis.UniversalClient) *Service {
	return &Service{rdb: rdb}
}

func wrapTransport(op string, err error) error {
	return fmt.Errorf("op=%s: %w: %s", op, domain.ErrUnavailable, err)
}

// Acquire sets key to owner with a TTL iff the key is absent.
func (s *Service) Acquire(ctx domain.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" || owner == "" || ttl <= 0 {
		return false, fmt.Errorf("op=lock.Acquire: %w: key/owner/ttl required", domain.ErrInvalidArgument)
	}
	ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, wrapTransport("lock.Acquire", err)
	}
	return ok, nil
}

// Release deletes the key iff owner still holds it.
func (s *Service) Release(ctx domain.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key}, owner).Int()
	if err != nil {
		return false, wrapTransport("lock.Release", err)
	}
	return n == 1, nil
}

// Extend refreshes the TTL iff owner still holds the key.
func (s *Service) Extend(ctx domain.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrapTransport("lock.Extend", err)
	}
	return n == 1, nil
}

// Check reports whether the key is held; with a non-empty owner it also
// requires an owner match.
func (s *Service) Check(ctx domain.Context, key, owner string) (bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrapTransport("lock.Check", err)
	}
	if owner == "" {
		return true, nil
	}
	return val == owner, nil
}

// Owner returns the current holder of the key, or "" when the key is free.
func (s *Service) Owner(ctx domain.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrapTransport("lock.Owner", err)
	}
	return val, nil
}

// TTL returns the remaining TTL; zero when the key is absent.
func (s *Service) TTL(ctx domain.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, wrapTransport("lock.TTL", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// ForceRelease unconditionally deletes the key. Reserved for the orphan sweep
// and emergency tooling.
func (s *Service) ForceRelease(ctx domain.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, wrapTransport("lock.ForceRelease", err)
	}
	return n == 1, nil
}

var _ domain.Locker = (*Service)(nil)
