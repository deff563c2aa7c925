package access

import (
	"testing"

	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/mem"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

const (
	testOwner = Account("owner")
	testAlice = Account("alice")
	testBob   = Account("bob")
)

func TestDirectory_Init(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	err := dir.Init(snap, testOwner)
	require.NoError(t, err)

	owner, err := dir.Owner(snap)
	require.NoError(t, err)
	require.Equal(t, testOwner, owner)

	role, err := dir.RoleOf(snap, testOwner)
	require.NoError(t, err)
	require.Equal(t, Owner, role)

	err = dir.Init(snap, testAlice)
	require.EqualError(t, err, "resource already exists: instance already owned")

	err = dir.Init(badSnapshot{}, testOwner)
	require.EqualError(t, err, "failed to read owner: oops")
}

func TestDirectory_Grant(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	err := dir.Grant(snap, testOwner, testAlice, User)
	require.EqualError(t, err, "contract not initialized")

	require.NoError(t, dir.Init(snap, testOwner))

	err = dir.Grant(snap, testOwner, testAlice, User)
	require.NoError(t, err)

	role, err := dir.RoleOf(snap, testAlice)
	require.NoError(t, err)
	require.Equal(t, User, role)

	// A new grant overwrites the previous assignment.
	err = dir.Grant(snap, testOwner, testAlice, Moderator)
	require.NoError(t, err)

	role, err = dir.RoleOf(snap, testAlice)
	require.NoError(t, err)
	require.Equal(t, Moderator, role)

	err = dir.Grant(snap, testAlice, testBob, User)
	require.EqualError(t, err, "not admin: have moderator")

	err = dir.Grant(snap, testBob, testAlice, User)
	require.EqualError(t, err, "not admin: have none")

	err = dir.Grant(badWrites(snap), testOwner, testBob, User)
	require.EqualError(t, err, "failed to write role: oops")
}

func TestDirectory_Revoke(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	err := dir.Revoke(snap, testOwner, testAlice)
	require.EqualError(t, err, "contract not initialized")

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, User))

	err = dir.Revoke(snap, testOwner, testAlice)
	require.NoError(t, err)

	role, err := dir.RoleOf(snap, testAlice)
	require.NoError(t, err)
	require.Equal(t, None, role)

	// Revoking an account with no assignment is a no-op.
	err = dir.Revoke(snap, testOwner, testAlice)
	require.NoError(t, err)

	err = dir.Revoke(snap, testAlice, testOwner)
	require.EqualError(t, err, "not admin: have none")
}

func TestDirectory_RoleOf(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	role, err := dir.RoleOf(snap, testAlice)
	require.NoError(t, err)
	require.Equal(t, None, role)

	require.NoError(t, snap.Set(roleKey(testAlice), []byte{1, 2}))

	_, err = dir.RoleOf(snap, testAlice)
	require.EqualError(t, err, "malformed role of 2 bytes")

	_, err = dir.RoleOf(badSnapshot{}, testAlice)
	require.EqualError(t, err, "failed to read role: oops")
}

func TestDirectory_HasRole(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, Moderator))

	ok, err := dir.HasRole(snap, testAlice, Moderator)
	require.NoError(t, err)
	require.True(t, ok)

	// The check is an exact match, not a hierarchy cut.
	ok, err = dir.HasRole(snap, testOwner, Admin)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = dir.HasRole(badSnapshot{}, testAlice, User)
	require.EqualError(t, err, "failed to read role: oops")
}

func TestDirectory_Require(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, User))

	require.NoError(t, dir.Require(snap, testOwner, Admin))
	require.NoError(t, dir.Require(snap, testAlice, User))

	err := dir.Require(snap, testAlice, Moderator)
	require.EqualError(t, err, "insufficient role: have user, need moderator")

	err = dir.Require(snap, testAlice, Admin)
	require.EqualError(t, err, "insufficient role: have user, need admin")

	err = dir.Require(badSnapshot{}, testAlice, User)
	require.EqualError(t, err, "failed to read blacklist: oops")
}

func TestDirectory_RequireAdmin(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	err := dir.RequireAdmin(snap, testOwner)
	require.EqualError(t, err, "contract not initialized")

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, Admin))
	require.NoError(t, dir.Grant(snap, testOwner, testBob, Moderator))

	require.NoError(t, dir.RequireAdmin(snap, testOwner))
	require.NoError(t, dir.RequireAdmin(snap, testAlice))

	err = dir.RequireAdmin(snap, testBob)
	require.EqualError(t, err, "not admin: have moderator")

	err = dir.RequireAdmin(badSnapshot{}, testOwner)
	require.EqualError(t, err, "failed to read owner: oops")
}

func TestDirectory_RequireOwner(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	err := dir.RequireOwner(snap, testOwner)
	require.EqualError(t, err, "contract not initialized")

	require.NoError(t, dir.Init(snap, testOwner))

	require.NoError(t, dir.RequireOwner(snap, testOwner))

	// Holding the Owner role is not enough, the account itself must be the
	// one that initialized the instance.
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, Owner))

	err = dir.RequireOwner(snap, testAlice)
	require.EqualError(t, err, "not owner: account is not the owner")

	err = dir.RequireOwner(badSnapshot{}, testOwner)
	require.EqualError(t, err, "failed to read owner: oops")
}

func TestDirectory_RequireMember(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, Moderator))

	require.NoError(t, dir.RequireMember(snap, testAlice, Admin, Moderator))

	// The owner does not belong to the allowed set even though it outranks
	// every role in it.
	err := dir.RequireMember(snap, testOwner, Admin, Moderator)
	require.EqualError(t, err, "insufficient role: owner is not an allowed role")

	err = dir.RequireMember(badSnapshot{}, testAlice, Admin)
	require.EqualError(t, err, "failed to read blacklist: oops")
}

func TestDirectory_Blacklist(t *testing.T) {
	dir := NewDirectory()
	snap := mem.NewTrie()

	require.NoError(t, dir.Init(snap, testOwner))
	require.NoError(t, dir.Grant(snap, testOwner, testAlice, Admin))

	err := dir.Blacklist(snap, testAlice, testBob)
	require.NoError(t, err)

	listed, err := dir.IsBlacklisted(snap, testBob)
	require.NoError(t, err)
	require.True(t, listed)

	err = dir.Require(snap, testBob, None)
	require.EqualError(t, err, "blacklisted: account is barred")

	err = dir.RequireMember(snap, testBob, None)
	require.EqualError(t, err, "blacklisted: account is barred")

	err = dir.Blacklist(snap, testBob, testAlice)
	require.EqualError(t, err, "blacklisted: account is barred")

	err = dir.Lift(snap, testAlice, testBob)
	require.NoError(t, err)

	listed, err = dir.IsBlacklisted(snap, testBob)
	require.NoError(t, err)
	require.False(t, listed)

	require.NoError(t, dir.Require(snap, testBob, None))

	err = dir.Lift(snap, testBob, testAlice)
	require.EqualError(t, err, "not admin: have none")
}

// -----------------------------------------------------------------------------
// Utility functions

type badSnapshot struct {
	store.Snapshot
}

func (badSnapshot) Get(key []byte) ([]byte, error) {
	return nil, xerrors.New("oops")
}

type badWriteSnapshot struct {
	store.Snapshot
}

func badWrites(snap store.Snapshot) badWriteSnapshot {
	return badWriteSnapshot{Snapshot: snap}
}

func (badWriteSnapshot) Set(key, value []byte) error {
	return xerrors.New("oops")
}

func (badWriteSnapshot) Delete(key []byte) error {
	return xerrors.New("oops")
}
