package holderprofiles

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, DefaultTTL), mr
}

func profilesFor(wallets ...string) domain.HolderProfilesResult {
	res := domain.HolderProfilesResult{GeneratedAt: time.Now().UTC()}
	for _, w := range wallets {
		res.Profiles = append(res.Profiles, domain.HolderProfile{WalletAddress: w, HoldingPct: 1.5})
	}
	return res
}

func TestTokenRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	miss, err := c.GetToken(ctx, "MintA", 10)
	require.NoError(t, err)
	assert.Nil(t, miss)

	stored := profilesFor("Wallet1", "Wallet2")
	stored.TokenMint = "MintA"
	stored.TopN = 10
	require.NoError(t, c.CacheToken(ctx, "MintA", 10, stored))

	got, err := c.GetToken(ctx, "MintA", 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "MintA", got.TokenMint)
	require.Len(t, got.Profiles, 2)
	assert.Equal(t, "Wallet1", got.Profiles[0].WalletAddress)

	// topN is part of the key, not a filter.
	miss, err = c.GetToken(ctx, "MintA", 20)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestWalletRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheWallet(ctx, "Wallet1", profilesFor("Wallet1")))
	got, err := c.GetWallet(ctx, "Wallet1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Wallet1", got.Profiles[0].WalletAddress)
}

func TestCorruptedEntryIsDeletedOnRead(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(TokenKey("MintA", 10), "{not json"))
	got, err := c.GetToken(ctx, "MintA", 10)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(TokenKey("MintA", 10)))
}

func TestInvalidateForWalletRemovesMembership(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheToken(ctx, "MintA", 10, profilesFor("Wallet1", "Wallet2")))
	require.NoError(t, c.CacheToken(ctx, "MintB", 10, profilesFor("Wallet1")))
	require.NoError(t, c.CacheToken(ctx, "MintC", 10, profilesFor("Wallet3")))
	require.NoError(t, c.CacheWallet(ctx, "Wallet1", profilesFor("Wallet1")))
	require.NoError(t, mr.Set(TokenKey("MintD", 5), "corrupt"))

	removed, err := c.InvalidateForWallet(ctx, "Wallet1")
	require.NoError(t, err)
	// Two member token entries, the wallet entry, and the corrupt entry.
	assert.Equal(t, 4, removed)

	assert.False(t, mr.Exists(TokenKey("MintA", 10)))
	assert.False(t, mr.Exists(TokenKey("MintB", 10)))
	assert.True(t, mr.Exists(TokenKey("MintC", 10)))
	assert.False(t, mr.Exists(WalletKey("Wallet1")))
	assert.False(t, mr.Exists(TokenKey("MintD", 5)))
}

func TestInvalidateForTokenRemovesAllVariants(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheToken(ctx, "MintA", 10, profilesFor("Wallet1")))
	require.NoError(t, c.CacheToken(ctx, "MintA", 25, profilesFor("Wallet2")))
	require.NoError(t, c.CacheToken(ctx, "MintB", 10, profilesFor("Wallet3")))

	removed, err := c.InvalidateForToken(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, mr.Exists(TokenKey("MintB", 10)))
}

func TestTTLClamp(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, 24*time.Hour)
	require.NoError(t, c.CacheWallet(context.Background(), "Wallet1", profilesFor("Wallet1")))
	assert.LessOrEqual(t, mr.TTL(WalletKey("Wallet1")), DefaultTTL)
}
