package prefixed

import (
	"testing"

	"github.com/custos-ledger/custos/core/store/mem"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Isolation(t *testing.T) {
	base := mem.NewTrie()

	alpha := NewSnapshot("alpha", base)
	beta := NewSnapshot("beta", base)

	require.NoError(t, alpha.Set([]byte("key"), []byte("a")))
	require.NoError(t, beta.Set([]byte("key"), []byte("b")))

	value, err := alpha.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), value)

	value, err = beta.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("b"), value)

	require.NoError(t, alpha.Delete([]byte("key")))

	value, err = alpha.Get([]byte("key"))
	require.NoError(t, err)
	require.Nil(t, value)

	value, err = beta.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("b"), value)
}

func TestReadable_Get(t *testing.T) {
	base := mem.NewTrie()

	require.NoError(t, NewSnapshot("ns", base).Set([]byte("key"), []byte("value")))

	r := NewReadable("ns", base)

	value, err := r.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)
}

func TestNewPrefixedKey_NoBoundaryCollision(t *testing.T) {
	// "ab" + "c" and "a" + "bc" concatenate to the same bytes but must map
	// to different keys.
	k1 := NewPrefixedKey([]byte("ab"), []byte("c"))
	k2 := NewPrefixedKey([]byte("a"), []byte("bc"))

	require.Len(t, k1, 32)
	require.NotEqual(t, k1, k2)

	require.Equal(t, k1, NewPrefixedKey([]byte("ab"), []byte("c")))
}
