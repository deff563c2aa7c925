// Package temporal implements the time gates of the policy engine: a
// single absolute unlock timestamp blocking every action before it, and a
// per-account cooldown throttling repeated actions.
//
// The gate never reads a wall clock. The current time is passed explicitly
// so that the host stays the only time source, and the checks stay
// reproducible in tests.
package temporal

import (
	"encoding/binary"

	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"golang.org/x/xerrors"
)

// Storage keys of the gate inside the instance namespace.
var (
	unlockKey   = []byte("unlock")
	cooldownKey = []byte("cooldown")
	lastPrefix  = "last:"
)

// Gate reads and writes the temporal constraints of a contract instance
// through the snapshot passed to each call.
type Gate struct{}

// NewGate creates a new temporal gate.
func NewGate() Gate {
	return Gate{}
}

// SetTimeLock stores the absolute timestamp before which every gated
// action is denied. A zero value clears the lock.
func (g Gate) SetTimeLock(snap store.Snapshot, unlock uint64) error {
	err := writeUint64(snap, unlockKey, unlock)
	if err != nil {
		return xerrors.Errorf("failed to write unlock time: %v", err)
	}

	return nil
}

// TimeLock returns the stored unlock timestamp, zero when none is set.
func (g Gate) TimeLock(snap store.Readable) (uint64, error) {
	unlock, err := readUint64(snap, unlockKey)
	if err != nil {
		return 0, xerrors.Errorf("failed to read unlock time: %v", err)
	}

	return unlock, nil
}

// CheckTimeLock denies when now lies strictly before the unlock timestamp.
// An action at the unlock timestamp itself passes.
func (g Gate) CheckTimeLock(snap store.Readable, now uint64) error {
	unlock, err := g.TimeLock(snap)
	if err != nil {
		return err
	}

	if now < unlock {
		return policy.NewErrorf(policy.ActionTimeLocked,
			"locked until %d, now %d", unlock, now)
	}

	return nil
}

// SetCooldown stores the number of seconds that must elapse between two
// actions of the same account. A zero value disables the throttle.
func (g Gate) SetCooldown(snap store.Snapshot, period uint64) error {
	err := writeUint64(snap, cooldownKey, period)
	if err != nil {
		return xerrors.Errorf("failed to write cooldown: %v", err)
	}

	return nil
}

// Cooldown returns the stored cooldown period, zero when none is set.
func (g Gate) Cooldown(snap store.Readable) (uint64, error) {
	period, err := readUint64(snap, cooldownKey)
	if err != nil {
		return 0, xerrors.Errorf("failed to read cooldown: %v", err)
	}

	return period, nil
}

// LastAction returns the timestamp of the last recorded action of the
// account, zero when it never acted.
func (g Gate) LastAction(snap store.Readable, account string) (uint64, error) {
	last, err := readUint64(snap, []byte(lastPrefix+account))
	if err != nil {
		return 0, xerrors.Errorf("failed to read last action: %v", err)
	}

	return last, nil
}

// CheckCooldown denies when the account acted less than the cooldown
// period ago. It does not record anything.
func (g Gate) CheckCooldown(snap store.Readable, account string, now uint64) error {
	period, err := g.Cooldown(snap)
	if err != nil {
		return err
	}

	last, err := g.LastAction(snap, account)
	if err != nil {
		return err
	}

	if last > 0 && now < last+period {
		return policy.NewErrorf(policy.CooldownActive,
			"retry at %d, now %d", last+period, now)
	}

	return nil
}

// TouchCooldown denies when the account acted less than the cooldown
// period ago, otherwise it records now as the last action of the account.
// The recording is part of the invocation writes, therefore it is rolled
// back with them when a later check aborts the invocation.
func (g Gate) TouchCooldown(snap store.Snapshot, account string, now uint64) error {
	err := g.CheckCooldown(snap, account, now)
	if err != nil {
		return err
	}

	err = writeUint64(snap, []byte(lastPrefix+account), now)
	if err != nil {
		return xerrors.Errorf("failed to record last action: %v", err)
	}

	return nil
}

func readUint64(snap store.Readable, key []byte) (uint64, error) {
	value, err := snap.Get(key)
	if err != nil {
		return 0, err
	}

	if len(value) == 0 {
		return 0, nil
	}

	if len(value) != 8 {
		return 0, xerrors.Errorf("malformed value of %d bytes", len(value))
	}

	return binary.BigEndian.Uint64(value), nil
}

func writeUint64(snap store.Snapshot, key []byte, value uint64) error {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	return snap.Set(key, buffer)
}
