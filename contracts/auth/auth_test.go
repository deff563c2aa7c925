package auth

import (
	"bytes"
	"math"
	"testing"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/lifecycle"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"github.com/custos-ledger/custos/core/txn"
	"github.com/custos-ledger/custos/core/txn/signed"
	"github.com/custos-ledger/custos/crypto"
	"github.com/custos-ledger/custos/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

var (
	ownerPK = fake.NewNamedPublicKey("owner")
	alicePK = fake.NewNamedPublicKey("alice")

	alice = access.Account("alice")
)

func TestExecute(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	err := contract.Execute(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:command' not found in tx arg")

	contract.cmd = fakeCmd{err: fake.GetError()}

	commands := []string{
		"INIT", "GRANT", "REVOKE", "ROLE", "BAR", "LIFT", "ADMIN",
		"MODERATE", "SETSTATE", "STATE", "ACTIVE", "SETLOCK",
		"TIMELOCKED", "SETCOOLDOWN", "THROTTLED",
	}

	for _, command := range commands {
		err = contract.Execute(fake.NewSnapshot(),
			makeStep(t, ownerPK, CmdArg, command))
		require.EqualError(t, err, fake.Err("failed to "+command))
	}

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, ownerPK, CmdArg, "fake"))
	require.EqualError(t, err, "unknown command: fake")

	contract.cmd = fakeCmd{}

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, ownerPK, CmdArg, "INIT"))
	require.NoError(t, err)
}

func TestCommand_Init(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	step := makeStep(t, ownerPK)
	step.Current = badIdentityTx{step.Current}

	err := cmd.initialize(fake.NewSnapshot(), step)
	require.EqualError(t, err,
		"failed to resolve caller: failed to marshal public key: fake error")

	step = makeStep(t, ownerPK)
	step.Auth = fake.NewBadAuthorizer()

	err = cmd.initialize(fake.NewSnapshot(), step)
	require.EqualError(t, err, "fake error")

	err = cmd.initialize(fake.NewBadSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, fake.Err("failed to read owner"))

	logger, check := fake.CheckLog("instance claimed")

	old := custos.Logger
	custos.Logger = logger

	defer func() {
		custos.Logger = old
	}()

	snap := makeSnapshot()
	buffer := &event.Buffer{}

	err = cmd.initialize(snap, makeStepWithEvents(t, buffer, ownerPK))
	require.NoError(t, err)

	check(t)

	view := contract.view(snap)

	owner, err := contract.dir.Owner(view)
	require.NoError(t, err)
	require.Equal(t, access.Account("owner"), owner)

	role, err := contract.dir.RoleOf(view, owner)
	require.NoError(t, err)
	require.Equal(t, access.Owner, role)

	current, err := contract.machine.Current(view)
	require.NoError(t, err)
	require.Equal(t, lifecycle.Active, current)

	value, err := cmd.readValue(view)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "init"}, buffer.Events()[0].Topics)
	require.Equal(t, []byte("owner"), buffer.Events()[0].Data)

	err = cmd.initialize(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "resource already exists: instance already owned")
}

func TestCommand_Grant(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	err := cmd.grant(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:account' not found in tx arg")

	err = cmd.grant(fake.NewSnapshot(),
		makeStep(t, ownerPK, AccountArg, "alice"))
	require.EqualError(t, err, "'auth:role' not found in tx arg")

	err = cmd.grant(fake.NewSnapshot(),
		makeStep(t, ownerPK, AccountArg, "alice", RoleArg, "boss"))
	require.EqualError(t, err, "invalid enum: role 'boss'")

	snap := makeSnapshot()

	args := []string{AccountArg, "alice", RoleArg, "user"}

	err = cmd.grant(snap, makeStep(t, ownerPK, args...))
	require.EqualError(t, err, "contract not initialized")

	initOwner(t, cmd, snap)

	err = cmd.grant(snap, makeStep(t, alicePK, args...))
	require.EqualError(t, err, "not admin: have none")

	buffer := &event.Buffer{}

	err = cmd.grant(snap, makeStepWithEvents(t, buffer, ownerPK, args...))
	require.NoError(t, err)

	role, err := contract.dir.RoleOf(contract.view(snap), alice)
	require.NoError(t, err)
	require.Equal(t, access.User, role)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "grant", "user"}, buffer.Events()[0].Topics)
	require.Equal(t, []byte("alice"), buffer.Events()[0].Data)
}

func TestCommand_Revoke(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	err := cmd.revoke(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:account' not found in tx arg")

	snap := makeSnapshot()

	initOwner(t, cmd, snap)
	grantRole(t, cmd, snap, "alice", "user")

	err = cmd.revoke(snap, makeStep(t, alicePK, AccountArg, "alice"))
	require.EqualError(t, err, "not admin: have user")

	buffer := &event.Buffer{}

	err = cmd.revoke(snap,
		makeStepWithEvents(t, buffer, ownerPK, AccountArg, "alice"))
	require.NoError(t, err)

	role, err := contract.dir.RoleOf(contract.view(snap), alice)
	require.NoError(t, err)
	require.Equal(t, access.None, role)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "revoke"}, buffer.Events()[0].Topics)
}

func TestCommand_Role(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	buf := &bytes.Buffer{}
	contract.printer = buf

	cmd := authCommand{Contract: &contract}

	err := cmd.role(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:account' not found in tx arg")

	snap := makeSnapshot()

	initOwner(t, cmd, snap)
	grantRole(t, cmd, snap, "alice", "moderator")

	buffer := &event.Buffer{}

	err = cmd.role(snap,
		makeStepWithEvents(t, buffer, ownerPK, AccountArg, "alice"))
	require.NoError(t, err)
	require.Equal(t, "alice=moderator", buf.String())

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []byte("moderator"), buffer.Events()[0].Data)
}

func TestCommand_Bar_Lift(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	err := cmd.bar(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:account' not found in tx arg")

	snap := makeSnapshot()

	initOwner(t, cmd, snap)
	grantRole(t, cmd, snap, "alice", "admin")

	err = cmd.bar(snap, makeStep(t, ownerPK, AccountArg, "alice"))
	require.NoError(t, err)

	listed, err := contract.dir.IsBlacklisted(contract.view(snap), alice)
	require.NoError(t, err)
	require.True(t, listed)

	// The bar dominates the role of the account.
	err = cmd.admin(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "blacklisted: account is barred")

	err = cmd.lift(snap, makeStep(t, ownerPK, AccountArg, "alice"))
	require.NoError(t, err)

	err = cmd.admin(snap, makeStep(t, alicePK))
	require.NoError(t, err)
}

func TestCommand_Admin(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	snap := makeSnapshot()

	err := cmd.admin(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "insufficient role: have none, need admin")

	initOwner(t, cmd, snap)

	buffer := &event.Buffer{}

	err = cmd.admin(snap, makeStepWithEvents(t, buffer, ownerPK))
	require.NoError(t, err)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "admin"}, buffer.Events()[0].Topics)
	require.Equal(t, []byte("2"), buffer.Events()[0].Data)

	grantRole(t, cmd, snap, "alice", "user")

	err = cmd.admin(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "insufficient role: have user, need admin")

	grantRole(t, cmd, snap, "alice", "admin")

	err = cmd.admin(snap, makeStep(t, alicePK))
	require.NoError(t, err)

	value, err := cmd.readValue(contract.view(snap))
	require.NoError(t, err)
	require.Equal(t, uint64(4), value)

	err = cmd.writeValue(contract.view(snap), math.MaxUint64/2+1)
	require.NoError(t, err)

	err = cmd.admin(snap, makeStep(t, ownerPK))
	require.EqualError(t, err,
		"amount too large: value 9223372036854775808 would overflow")
}

func TestCommand_Moderate(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	snap := makeSnapshot()

	initOwner(t, cmd, snap)

	// Membership is exact, the top of the hierarchy does not qualify.
	err := cmd.moderate(snap, makeStep(t, ownerPK))
	require.EqualError(t, err, "insufficient role: owner is not an allowed role")

	grantRole(t, cmd, snap, "alice", "moderator")

	buffer := &event.Buffer{}

	err = cmd.moderate(snap, makeStepWithEvents(t, buffer, alicePK))
	require.NoError(t, err)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "moderate"}, buffer.Events()[0].Topics)
	require.Equal(t, []byte("101"), buffer.Events()[0].Data)

	err = cmd.writeValue(contract.view(snap), math.MaxUint64-50)
	require.NoError(t, err)

	err = cmd.moderate(snap, makeStep(t, alicePK))
	require.EqualError(t, err,
		"amount too large: value 18446744073709551565 would overflow")
}

func TestCommand_SetState(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	cmd := authCommand{Contract: &contract}

	err := cmd.setState(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:state' not found in tx arg")

	err = cmd.setState(fake.NewSnapshot(),
		makeStep(t, ownerPK, StateArg, "bogus"))
	require.EqualError(t, err, "invalid enum: state 'bogus'")

	snap := makeSnapshot()

	err = cmd.setState(snap, makeStep(t, ownerPK, StateArg, "paused"))
	require.EqualError(t, err, "contract not initialized")

	initOwner(t, cmd, snap)

	err = cmd.setState(snap, makeStep(t, alicePK, StateArg, "paused"))
	require.EqualError(t, err, "not admin: have none")

	buffer := &event.Buffer{}

	err = cmd.setState(snap,
		makeStepWithEvents(t, buffer, ownerPK, StateArg, "paused"))
	require.NoError(t, err)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []string{"auth", "setstate", "paused"}, buffer.Events()[0].Topics)

	// A paused instance denies the gated commands until it is resumed.
	err = cmd.active(snap, makeStep(t, ownerPK))
	require.EqualError(t, err, "contract paused")

	err = cmd.setState(snap, makeStep(t, ownerPK, StateArg, "active"))
	require.NoError(t, err)

	err = cmd.active(snap, makeStep(t, ownerPK))
	require.NoError(t, err)
}

func TestCommand_State(t *testing.T) {
	contract := NewContract(clock.NewManual(1000))

	buf := &bytes.Buffer{}
	contract.printer = buf

	cmd := authCommand{Contract: &contract}

	err := cmd.state(fake.NewBadSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, fake.Err("failed to read state"))

	snap := makeSnapshot()

	buffer := &event.Buffer{}

	err = cmd.state(snap, makeStepWithEvents(t, buffer, ownerPK))
	require.NoError(t, err)
	require.Equal(t, "uninitialized", buf.String())

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []byte("uninitialized"), buffer.Events()[0].Data)

	initOwner(t, cmd, snap)

	buf.Reset()

	err = cmd.state(snap, makeStep(t, ownerPK))
	require.NoError(t, err)
	require.Equal(t, "active", buf.String())
}

func TestCommand_SetLock_TimeLocked(t *testing.T) {
	c := clock.NewManual(1000)
	contract := NewContract(c)

	cmd := authCommand{Contract: &contract}

	err := cmd.setLock(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:unlock' not found in tx arg")

	err = cmd.setLock(fake.NewSnapshot(),
		makeStep(t, ownerPK, UnlockArg, "abc"))
	require.EqualError(t, err, "invalid amount: 'abc' is not a number")

	snap := makeSnapshot()

	initOwner(t, cmd, snap)

	err = cmd.setLock(snap, makeStep(t, alicePK, UnlockArg, "2000"))
	require.EqualError(t, err, "not admin: have none")

	buffer := &event.Buffer{}

	err = cmd.setLock(snap,
		makeStepWithEvents(t, buffer, ownerPK, UnlockArg, "2000"))
	require.NoError(t, err)

	require.Len(t, buffer.Events(), 1)
	require.Equal(t, []byte("2000"), buffer.Events()[0].Data)

	err = cmd.timeLocked(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "action time locked: locked until 2000, now 1000")

	c.Set(2000)

	err = cmd.timeLocked(snap, makeStep(t, alicePK))
	require.NoError(t, err)
}

func TestCommand_SetCooldown_Throttled(t *testing.T) {
	c := clock.NewManual(1000)
	contract := NewContract(c)

	cmd := authCommand{Contract: &contract}

	err := cmd.setCooldown(fake.NewSnapshot(), makeStep(t, ownerPK))
	require.EqualError(t, err, "'auth:period' not found in tx arg")

	snap := makeSnapshot()

	initOwner(t, cmd, snap)

	err = cmd.setCooldown(snap, makeStep(t, ownerPK, PeriodArg, "60"))
	require.NoError(t, err)

	err = cmd.throttled(snap, makeStep(t, alicePK))
	require.NoError(t, err)

	c.Advance(1)

	err = cmd.throttled(snap, makeStep(t, alicePK))
	require.EqualError(t, err, "cooldown active: retry at 1060, now 1001")

	// The throttle is per account.
	err = cmd.throttled(snap, makeStep(t, ownerPK))
	require.NoError(t, err)

	c.Advance(59)

	err = cmd.throttled(snap, makeStep(t, alicePK))
	require.NoError(t, err)
}

func TestInfoLog(t *testing.T) {
	log := infoLog{}

	n, err := log.Write([]byte{0b0, 0b1})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRegisterContract(t *testing.T) {
	RegisterContract(native.NewExecution(), NewContract(clock.NewManual(0)))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeSnapshot() store.Snapshot {
	return prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())
}

func initOwner(t *testing.T, cmd authCommand, snap store.Snapshot) {
	err := cmd.initialize(snap, makeStep(t, ownerPK))
	require.NoError(t, err)
}

func grantRole(t *testing.T, cmd authCommand, snap store.Snapshot, account, role string) {
	err := cmd.grant(snap,
		makeStep(t, ownerPK, AccountArg, account, RoleArg, role))
	require.NoError(t, err)
}

func makeStep(t *testing.T, pk crypto.PublicKey, args ...string) execution.Step {
	return makeStepWithEvents(t, &event.Buffer{}, pk, args...)
}

func makeStepWithEvents(t *testing.T, buffer *event.Buffer, pk crypto.PublicKey,
	args ...string) execution.Step {

	return execution.Step{
		Current: makeTx(t, pk, args...),
		Auth:    fake.NewAuthorizer(),
		Events:  buffer,
	}
}

func makeTx(t *testing.T, pk crypto.PublicKey, args ...string) txn.Transaction {
	options := []signed.TransactionOption{}
	for i := 0; i < len(args)-1; i += 2 {
		options = append(options, signed.WithArg(args[i], []byte(args[i+1])))
	}

	tx, err := signed.NewTransaction(0, pk, options...)
	require.NoError(t, err)

	return tx
}

type badIdentityTx struct {
	txn.Transaction
}

func (tx badIdentityTx) GetIdentity() crypto.PublicKey {
	return fake.NewBadPublicKey()
}

type fakeCmd struct {
	err error
}

func (c fakeCmd) initialize(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) grant(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) revoke(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) role(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) bar(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) lift(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) admin(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) moderate(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) setState(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) state(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) active(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) setLock(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) timeLocked(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) setCooldown(_ store.Snapshot, _ execution.Step) error {
	return c.err
}

func (c fakeCmd) throttled(_ store.Snapshot, _ execution.Step) error {
	return c.err
}
