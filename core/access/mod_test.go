package access

import (
	"strings"
	"testing"

	"github.com/custos-ledger/custos/crypto"
	"github.com/custos-ledger/custos/crypto/schnorr"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestNewAccount(t *testing.T) {
	signer := schnorr.NewSigner()

	account, err := NewAccount(signer.GetPublicKey())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(account), "schnorr:"))

	again, err := NewAccount(signer.GetPublicKey())
	require.NoError(t, err)
	require.Equal(t, account, again)

	_, err = NewAccount(badPublicKey{})
	require.EqualError(t, err, "failed to marshal public key: oops")
}

func TestRole_String(t *testing.T) {
	require.Equal(t, "none", None.String())
	require.Equal(t, "user", User.String())
	require.Equal(t, "moderator", Moderator.String())
	require.Equal(t, "admin", Admin.String())
	require.Equal(t, "owner", Owner.String())
	require.Equal(t, "unknown", Role(99).String())
}

func TestRole_Satisfies(t *testing.T) {
	roles := []Role{None, User, Moderator, Admin, Owner}

	for i, held := range roles {
		for j, required := range roles {
			require.Equal(t, i >= j, held.Satisfies(required),
				"held %v required %v", held, required)
		}
	}
}

func TestRole_Member(t *testing.T) {
	require.True(t, Moderator.Member(Admin, Moderator))
	require.True(t, Admin.Member(Admin, Moderator))

	// Membership is exact so a higher tier does not qualify.
	require.False(t, Owner.Member(Admin, Moderator))
	require.False(t, User.Member(Admin, Moderator))
	require.False(t, User.Member())
}

func TestParseRole(t *testing.T) {
	for _, role := range []Role{None, User, Moderator, Admin, Owner} {
		parsed, err := ParseRole(role.String())
		require.NoError(t, err)
		require.Equal(t, role, parsed)
	}

	parsed, err := ParseRole("ADMIN")
	require.NoError(t, err)
	require.Equal(t, Admin, parsed)

	_, err = ParseRole("super")
	require.EqualError(t, err, "invalid enum: role 'super'")
}

// -----------------------------------------------------------------------------
// Utility functions

type badPublicKey struct {
	crypto.PublicKey
}

func (badPublicKey) MarshalText() ([]byte, error) {
	return nil, xerrors.New("oops")
}
