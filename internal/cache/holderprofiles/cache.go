// Package holderprofiles caches holder-profiles results in Redis under
// wire-stable keys and invalidates them atomically by wallet membership. The
// membership walk runs as one Lua script so a reader can never race between
// the decode and the delete.
package holderprofiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
)

const (
	tokenKeyPrefix  = "holder-profiles:token:"
	walletKeyPrefix = "holder-profiles:wallet:"

	// DefaultTTL caps staleness of cached results at one hour.
	DefaultTTL = time.Hour
)

// TokenKey returns holder-profiles:token:<mint>:<topN>.
func TokenKey(mint string, topN int) string {
	return tokenKeyPrefix + mint + ":" + strconv.Itoa(topN)
}

// WalletKey returns holder-profiles:wallet:<addr>.
func WalletKey(addr string) string { return walletKeyPrefix + addr }

// Deletes every token-scope entry whose profiles[] contains the wallet, plus
// the wallet-scope entry, in one atomic script. Corrupted entries are deleted
// rather than skipped.
const luaInvalidateForWallet = `
local wallet = ARGV[1]
local removed = 0

local keys = redis.call("KEYS", ARGV[2])
for _, key in ipairs(keys) do
  local raw = redis.call("GET", key)
  if raw then
    local ok, decoded = pcall(cjson.decode, raw)
    if not ok or type(decoded) ~= "table" or type(decoded["profiles"]) ~= "table" then
      redis.call("DEL", key)
      removed = removed + 1
    else
      for _, profile in ipairs(decoded["profiles"]) do
        if type(profile) == "table" and profile["walletAddress"] == wallet then
          redis.call("DEL", key)
          removed = removed + 1
          break
        end
      end
    end
  end
end

if redis.call("DEL", ARGV[3]) == 1 then
  removed = removed + 1
end
return removed
`

const luaInvalidateForToken = `
local removed = 0
local keys = redis.call("KEYS", ARGV[1])
for _, key in ipairs(keys) do
  removed = removed + redis.call("DEL", key)
end
return removed
`

var (
	invalidateWalletScript = redis.NewScript(luaInvalidateForWallet)
	invalidateTokenScript  = redis.NewScript(luaInvalidateForToken)
)

// Cache is the Redis-backed holder-profiles cache. It satisfies
// domain.HolderProfilesCache.
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New constructs the cache with the given TTL; ttl <= 0 uses DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 || ttl > DefaultTTL {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// GetToken returns the cached token-scope result, or nil on miss. Corrupted
// payloads count as a miss and are deleted.
func (c *Cache) GetToken(ctx domain.Context, mint string, topN int) (*domain.HolderProfilesResult, error) {
	return c.get(ctx, TokenKey(mint, topN))
}

// GetWallet returns the cached wallet-scope result, or nil on miss.
func (c *Cache) GetWallet(ctx domain.Context, addr string) (*domain.HolderProfilesResult, error) {
	return c.get(ctx, WalletKey(addr))
}

func (c *Cache) get(ctx domain.Context, key string) (*domain.HolderProfilesResult, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=holderprofiles.get: %w: %s", domain.ErrUnavailable, err)
	}
	var res domain.HolderProfilesResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		slog.Warn("deleting corrupted holder-profiles entry", slog.String("key", key), slog.Any("error", err))
		_ = c.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return &res, nil
}

// CacheToken writes a token-scope result with TTL. Write failures are logged
// and swallowed: the cache degrades to miss semantics, it never fails a job.
func (c *Cache) CacheToken(ctx domain.Context, mint string, topN int, result domain.HolderProfilesResult) error {
	c.set(ctx, TokenKey(mint, topN), result)
	return nil
}

// CacheWallet writes a wallet-scope result with TTL; failures logged and
// swallowed.
func (c *Cache) CacheWallet(ctx domain.Context, addr string, result domain.HolderProfilesResult) error {
	c.set(ctx, WalletKey(addr), result)
	return nil
}

func (c *Cache) set(ctx domain.Context, key string, result domain.HolderProfilesResult) {
	body, err := json.Marshal(result)
	if err != nil {
		slog.Error("holder-profiles encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
		slog.Warn("holder-profiles cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// InvalidateForWallet atomically removes every token-scope entry whose
// profiles contain addr plus the wallet-scope entry. After it returns, no
// read can observe a result that contained addr at invalidation time.
func (c *Cache) InvalidateForWallet(ctx domain.Context, addr string) (int, error) {
	n, err := invalidateWalletScript.Run(ctx, c.rdb, []string{},
		addr, tokenKeyPrefix+"*", WalletKey(addr),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("op=holderprofiles.InvalidateForWallet: %w: %s", domain.ErrUnavailable, err)
	}
	return n, nil
}

// InvalidateForToken removes every topN variant cached for the mint.
func (c *Cache) InvalidateForToken(ctx domain.Context, mint string) (int, error) {
	n, err := invalidateTokenScript.Run(ctx, c.rdb, []string{}, tokenKeyPrefix+mint+":*").Int()
	if err != nil {
		return 0, fmt.Errorf("op=holderprofiles.InvalidateForToken: %w: %s", domain.ErrUnavailable, err)
	}
	return n, nil
}

var _ domain.HolderProfilesCache = (*Cache)(nil)
