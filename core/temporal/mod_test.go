package temporal

import (
	"testing"

	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

func TestGate_TimeLock(t *testing.T) {
	gate := NewGate()
	snap := fake.NewSnapshot()

	unlock, err := gate.TimeLock(snap)
	require.NoError(t, err)
	require.Equal(t, uint64(0), unlock)

	require.NoError(t, gate.SetTimeLock(snap, 1000))

	unlock, err = gate.TimeLock(snap)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), unlock)

	err = gate.SetTimeLock(fake.NewBadSnapshot(), 1000)
	require.EqualError(t, err, fake.Err("failed to write unlock time"))

	_, err = gate.TimeLock(fake.NewBadSnapshot())
	require.EqualError(t, err, fake.Err("failed to read unlock time"))
}

func TestGate_CheckTimeLock(t *testing.T) {
	gate := NewGate()
	snap := fake.NewSnapshot()

	// No lock recorded, everything passes.
	require.NoError(t, gate.CheckTimeLock(snap, 0))

	require.NoError(t, gate.SetTimeLock(snap, 1000))

	err := gate.CheckTimeLock(snap, 999)
	require.EqualError(t, err, "action time locked: locked until 1000, now 999")

	reason, ok := policy.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, policy.ActionTimeLocked, reason)

	// The unlock timestamp itself passes.
	require.NoError(t, gate.CheckTimeLock(snap, 1000))
	require.NoError(t, gate.CheckTimeLock(snap, 1001))

	require.NoError(t, snap.Set(unlockKey, []byte{1, 2, 3}))
	err = gate.CheckTimeLock(snap, 1000)
	require.EqualError(t, err, "failed to read unlock time: malformed value of 3 bytes")
}

func TestGate_Cooldown(t *testing.T) {
	gate := NewGate()
	snap := fake.NewSnapshot()

	period, err := gate.Cooldown(snap)
	require.NoError(t, err)
	require.Equal(t, uint64(0), period)

	require.NoError(t, gate.SetCooldown(snap, 60))

	period, err = gate.Cooldown(snap)
	require.NoError(t, err)
	require.Equal(t, uint64(60), period)

	err = gate.SetCooldown(fake.NewBadSnapshot(), 60)
	require.EqualError(t, err, fake.Err("failed to write cooldown"))
}

func TestGate_TouchCooldown(t *testing.T) {
	gate := NewGate()
	snap := fake.NewSnapshot()

	require.NoError(t, gate.SetCooldown(snap, 100))

	// The first action of an account always passes.
	require.NoError(t, gate.TouchCooldown(snap, "alice", 200))

	last, err := gate.LastAction(snap, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(200), last)

	err = gate.TouchCooldown(snap, "alice", 299)
	require.EqualError(t, err, "cooldown active: retry at 300, now 299")

	// The deny did not consume the window.
	last, err = gate.LastAction(snap, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(200), last)

	// The end of the window itself passes.
	require.NoError(t, gate.TouchCooldown(snap, "alice", 300))

	// Accounts are throttled independently.
	require.NoError(t, gate.TouchCooldown(snap, "bob", 301))

	_, err = gate.LastAction(fake.NewBadSnapshot(), "alice")
	require.EqualError(t, err, fake.Err("failed to read last action"))
}

func TestGate_CheckCooldown(t *testing.T) {
	gate := NewGate()
	snap := fake.NewSnapshot()

	// No period recorded, everything passes.
	require.NoError(t, gate.CheckCooldown(snap, "alice", 0))

	require.NoError(t, gate.SetCooldown(snap, 100))
	require.NoError(t, gate.TouchCooldown(snap, "alice", 200))

	err := gate.CheckCooldown(snap, "alice", 250)
	require.EqualError(t, err, "cooldown active: retry at 300, now 250")

	reason, ok := policy.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, policy.CooldownActive, reason)

	// The read-only check does not record anything.
	require.NoError(t, gate.CheckCooldown(snap, "bob", 0))

	last, err := gate.LastAction(snap, "bob")
	require.NoError(t, err)
	require.Equal(t, uint64(0), last)

	err = gate.CheckCooldown(fake.NewBadSnapshot(), "alice", 0)
	require.EqualError(t, err, fake.Err("failed to read cooldown"))
}
