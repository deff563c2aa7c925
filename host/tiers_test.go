package host

import (
	"testing"

	"github.com/custos-ledger/custos/core/store/mem"
	"github.com/custos-ledger/custos/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

func TestTiers_Isolation(t *testing.T) {
	trie := mem.NewTrie()
	tiers := NewTiers(trie, 1)

	key := []byte("key")

	require.NoError(t, tiers.Persistent.Set(key, []byte("p")))
	require.NoError(t, tiers.Instance.Set(key, []byte("i")))
	require.NoError(t, tiers.Temporary.Set(key, []byte("t")))

	value, err := tiers.Persistent.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("p"), value)

	value, err = tiers.Instance.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("i"), value)

	value, err = tiers.Temporary.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("t"), value)
}

func TestTemporaryTier_Expiry(t *testing.T) {
	trie := mem.NewTrie()
	key := []byte("key")

	require.NoError(t, NewTiers(trie, 1).Temporary.Set(key, []byte("value")))

	// The entry lives through the last ledger of its TTL and not beyond.
	last := uint32(1 + DefaultTemporaryTTL - 1)

	value, err := NewTiers(trie, last).Temporary.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)

	value, err = NewTiers(trie, last+1).Temporary.Get(key)
	require.NoError(t, err)
	require.Nil(t, value)

	// Rewriting an expired entry gives it a fresh TTL.
	require.NoError(t, NewTiers(trie, last+1).Temporary.Set(key, []byte("again")))

	ttl, err := NewTiers(trie, last+1).Temporary.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultTemporaryTTL), ttl)
}

func TestTemporaryTier_TTL(t *testing.T) {
	trie := mem.NewTrie()
	key := []byte("key")

	tmp := NewTiers(trie, 1).Temporary
	require.NoError(t, tmp.Set(key, []byte("value")))

	ttl, err := tmp.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultTemporaryTTL), ttl)

	ttl, err = NewTiers(trie, 11).Temporary.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultTemporaryTTL-10), ttl)

	ttl, err = NewTiers(trie, 100).Temporary.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(0), ttl)

	ttl, err = tmp.TTL([]byte("missing"))
	require.NoError(t, err)
	require.Equal(t, uint32(0), ttl)

	// A live write keeps the current expiry.
	require.NoError(t, NewTiers(trie, 11).Temporary.Set(key, []byte("update")))

	ttl, err = NewTiers(trie, 11).Temporary.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultTemporaryTTL-10), ttl)
}

func TestTemporaryTier_ExtendTTL(t *testing.T) {
	trie := mem.NewTrie()
	key := []byte("key")

	tmp := NewTiers(trie, 1).Temporary
	require.NoError(t, tmp.Set(key, []byte("value")))

	// Remaining TTL above the threshold, nothing changes.
	require.NoError(t, tmp.ExtendTTL(key, 8, 100))

	ttl, err := tmp.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(DefaultTemporaryTTL), ttl)

	// Threshold reached, the entry lives for extendTo ledgers from now.
	tmp = NewTiers(trie, 10).Temporary

	require.NoError(t, tmp.ExtendTTL(key, 8, 100))

	ttl, err = tmp.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(100), ttl)

	// An entry that already lives longer than extendTo is left alone.
	require.NoError(t, tmp.ExtendTTL(key, 200, 50))

	ttl, err = tmp.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(100), ttl)

	err = NewTiers(trie, 1000).Temporary.ExtendTTL(key, 8, 100)
	require.EqualError(t, err, "entry 'key' has expired")
}

func TestTemporaryTier_Delete(t *testing.T) {
	trie := mem.NewTrie()
	key := []byte("key")

	tmp := NewTiers(trie, 1).Temporary
	require.NoError(t, tmp.Set(key, []byte("value")))
	require.NoError(t, tmp.Delete(key))

	value, err := tmp.Get(key)
	require.NoError(t, err)
	require.Nil(t, value)

	ttl, err := tmp.TTL(key)
	require.NoError(t, err)
	require.Equal(t, uint32(0), ttl)
}

func TestTemporaryTier_BadStore(t *testing.T) {
	tmp := NewTiers(fake.NewBadSnapshot(), 1).Temporary

	_, err := tmp.Get([]byte("key"))
	require.EqualError(t, err, fake.Err("failed to read expiry"))

	err = tmp.Set([]byte("key"), []byte("value"))
	require.EqualError(t, err, fake.Err("failed to read expiry"))

	err = tmp.Delete([]byte("key"))
	require.EqualError(t, err, "fake error")

	_, err = tmp.TTL([]byte("key"))
	require.EqualError(t, err, fake.Err("failed to read expiry"))

	err = tmp.ExtendTTL([]byte("key"), 1, 2)
	require.EqualError(t, err, fake.Err("failed to read expiry"))

	// A malformed expiry entry is reported as such.
	snap := fake.NewSnapshot()
	tiers := NewTiers(snap, 1)

	require.NoError(t, tiers.Temporary.ttls.Set([]byte("key"), []byte{1, 2}))

	_, err = tiers.Temporary.Get([]byte("key"))
	require.EqualError(t, err, "malformed expiry of 2 bytes")
}
