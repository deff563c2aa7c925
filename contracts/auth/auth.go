// Package auth implements the native contract tying the policy engine
// together. It claims an instance for its owner, manages the role directory,
// transitions the operational state and configures the temporal constraints.
// A set of guarded commands is evaluated against fixed rules to exercise the
// resulting policy.
package auth

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/lifecycle"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/policy/eval"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"github.com/custos-ledger/custos/core/temporal"
	"github.com/custos-ledger/custos/host"
	"golang.org/x/xerrors"
)

// commands defines the commands of the auth contract. This interface helps
// in testing the contract.
type commands interface {
	initialize(snap store.Snapshot, step execution.Step) error
	grant(snap store.Snapshot, step execution.Step) error
	revoke(snap store.Snapshot, step execution.Step) error
	role(snap store.Snapshot, step execution.Step) error
	bar(snap store.Snapshot, step execution.Step) error
	lift(snap store.Snapshot, step execution.Step) error
	admin(snap store.Snapshot, step execution.Step) error
	moderate(snap store.Snapshot, step execution.Step) error
	setState(snap store.Snapshot, step execution.Step) error
	state(snap store.Snapshot, step execution.Step) error
	active(snap store.Snapshot, step execution.Step) error
	setLock(snap store.Snapshot, step execution.Step) error
	timeLocked(snap store.Snapshot, step execution.Step) error
	setCooldown(snap store.Snapshot, step execution.Step) error
	throttled(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Auth"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "AUTH"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "auth:command"

	// AccountArg is the argument's name in the transaction that contains
	// the account a directory command operates on.
	AccountArg = "auth:account"

	// RoleArg is the argument's name in the transaction that contains the
	// role to grant.
	RoleArg = "auth:role"

	// StateArg is the argument's name in the transaction that contains the
	// operational state to transition to.
	StateArg = "auth:state"

	// UnlockArg is the argument's name in the transaction that contains
	// the absolute unlock timestamp.
	UnlockArg = "auth:unlock"

	// PeriodArg is the argument's name in the transaction that contains
	// the cooldown period in seconds.
	PeriodArg = "auth:period"
)

// valueKey is the instance tier key of the value the guarded commands
// mutate.
var valueKey = []byte("value")

// Command defines a type of command for the auth contract.
type Command string

const (
	// CmdInit defines the command to claim the instance and activate it.
	CmdInit Command = "INIT"

	// CmdGrant defines the command to assign a role to an account.
	CmdGrant Command = "GRANT"

	// CmdRevoke defines the command to remove the role of an account.
	CmdRevoke Command = "REVOKE"

	// CmdRole defines the command to report the role of an account.
	CmdRole Command = "ROLE"

	// CmdBar defines the command to blacklist an account.
	CmdBar Command = "BAR"

	// CmdLift defines the command to lift the blacklisting of an account.
	CmdLift Command = "LIFT"

	// CmdAdmin defines the guarded command doubling the value. It requires
	// the Admin tier.
	CmdAdmin Command = "ADMIN"

	// CmdModerate defines the guarded command adding 100 to the value. It
	// requires membership in the moderation roles.
	CmdModerate Command = "MODERATE"

	// CmdSetState defines the command to transition the operational state.
	CmdSetState Command = "SETSTATE"

	// CmdState defines the command to report the operational state.
	CmdState Command = "STATE"

	// CmdActive defines the guarded command requiring an active instance.
	CmdActive Command = "ACTIVE"

	// CmdSetLock defines the command to set the unlock timestamp.
	CmdSetLock Command = "SETLOCK"

	// CmdTimeLocked defines the guarded command denied before the unlock
	// timestamp.
	CmdTimeLocked Command = "TIMELOCKED"

	// CmdSetCooldown defines the command to set the cooldown period.
	CmdSetCooldown Command = "SETCOOLDOWN"

	// CmdThrottled defines the guarded command throttled per account.
	CmdThrottled Command = "THROTTLED"
)

// Rules the guarded commands are evaluated against.
var (
	// adminRule lets the hierarchy decide, so the owner qualifies too.
	adminRule = eval.Rule{MinRole: access.Admin, RequireActive: true}

	// moderateRule is an exact membership list. The owner does not
	// qualify unless it is also granted one of the listed roles.
	moderateRule = eval.Rule{
		AllowList:     []access.Role{access.Moderator, access.Admin},
		RequireActive: true,
	}

	activeRule = eval.Rule{RequireActive: true}

	timeLockedRule = eval.Rule{UseTimeLock: true}

	throttledRule = eval.Rule{UseCooldown: true}
)

// RegisterContract registers the auth contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a native contract enforcing the authorization policy of an
// instance.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this contract
	cmd commands

	// dir persists the role assignments
	dir access.Directory

	// machine persists the operational state
	machine lifecycle.StateMachine

	// gate persists the temporal constraints
	gate temporal.Gate

	// eval runs the rules of the guarded commands
	eval *eval.Evaluator

	// clock provides the sequence the instance tier is read against
	clock clock.Clock

	// printer is the output used by the ROLE and STATE commands
	printer io.Writer
}

// NewContract creates a new auth contract observing time through the given
// clock.
func NewContract(c clock.Clock) Contract {
	dir := access.NewDirectory()
	machine := lifecycle.NewMachine()
	gate := temporal.NewGate()

	contract := Contract{
		dir:     dir,
		machine: machine,
		gate:    gate,
		eval:    eval.NewEvaluator(dir, machine, gate, c),
		clock:   c,
		printer: infoLog{},
	}

	contract.cmd = authCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap store.Snapshot, step execution.Step) error {
	snap = prefixed.NewSnapshot(ContractUID, snap)

	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdInit:
		err := c.cmd.initialize(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to INIT: %v", err)
		}
	case CmdGrant:
		err := c.cmd.grant(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to GRANT: %v", err)
		}
	case CmdRevoke:
		err := c.cmd.revoke(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to REVOKE: %v", err)
		}
	case CmdRole:
		err := c.cmd.role(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to ROLE: %v", err)
		}
	case CmdBar:
		err := c.cmd.bar(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to BAR: %v", err)
		}
	case CmdLift:
		err := c.cmd.lift(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to LIFT: %v", err)
		}
	case CmdAdmin:
		err := c.cmd.admin(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to ADMIN: %v", err)
		}
	case CmdModerate:
		err := c.cmd.moderate(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to MODERATE: %v", err)
		}
	case CmdSetState:
		err := c.cmd.setState(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SETSTATE: %v", err)
		}
	case CmdState:
		err := c.cmd.state(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to STATE: %v", err)
		}
	case CmdActive:
		err := c.cmd.active(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to ACTIVE: %v", err)
		}
	case CmdSetLock:
		err := c.cmd.setLock(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SETLOCK: %v", err)
		}
	case CmdTimeLocked:
		err := c.cmd.timeLocked(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to TIMELOCKED: %v", err)
		}
	case CmdSetCooldown:
		err := c.cmd.setCooldown(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SETCOOLDOWN: %v", err)
		}
	case CmdThrottled:
		err := c.cmd.throttled(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to THROTTLED: %v", err)
		}
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	return nil
}

// UID implements native.Contract. It returns the unique 4-byte identifier of
// the contract.
func (c Contract) UID() string {
	return ContractUID
}

// view returns the instance tier the policy data lives in.
func (c Contract) view(snap store.Snapshot) store.Snapshot {
	return host.NewTiers(snap, c.clock.Sequence()).Instance
}

// authCommand implements the commands of the auth contract.
//
// - implements commands
type authCommand struct {
	*Contract
}

// initialize implements commands. It performs the INIT command. The caller
// becomes the owner of the instance and the instance becomes active.
func (c authCommand) initialize(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.dir.Init(view, caller)
	if err != nil {
		return err
	}

	err = c.machine.Set(view, lifecycle.Active)
	if err != nil {
		return err
	}

	err = c.writeValue(view, 1)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "init"},
		Data:   []byte(caller),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("owner", string(caller)).
		Msg("instance claimed")

	return nil
}

// grant implements commands. It performs the GRANT command.
func (c authCommand) grant(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step)
	if err != nil {
		return err
	}

	text := step.Current.GetArg(RoleArg)
	if len(text) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", RoleArg)
	}

	role, err := access.ParseRole(string(text))
	if err != nil {
		return err
	}

	err = c.dir.Grant(c.view(snap), caller, account, role)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "grant", role.String()},
		Data:   []byte(account),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("account", string(account)).
		Stringer("role", role).
		Msg("role granted")

	return nil
}

// revoke implements commands. It performs the REVOKE command.
func (c authCommand) revoke(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step)
	if err != nil {
		return err
	}

	err = c.dir.Revoke(c.view(snap), caller, account)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "revoke"},
		Data:   []byte(account),
	})

	return nil
}

// role implements commands. It performs the ROLE command.
func (c authCommand) role(snap store.Snapshot, step execution.Step) error {
	account, err := c.account(step)
	if err != nil {
		return err
	}

	role, err := c.dir.RoleOf(c.view(snap), account)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.printer, "%s=%v", account, role)

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "role"},
		Data:   []byte(role.String()),
	})

	return nil
}

// bar implements commands. It performs the BAR command.
func (c authCommand) bar(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step)
	if err != nil {
		return err
	}

	err = c.dir.Blacklist(c.view(snap), caller, account)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "bar"},
		Data:   []byte(account),
	})

	return nil
}

// lift implements commands. It performs the LIFT command.
func (c authCommand) lift(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step)
	if err != nil {
		return err
	}

	err = c.dir.Lift(c.view(snap), caller, account)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "lift"},
		Data:   []byte(account),
	})

	return nil
}

// admin implements commands. It performs the ADMIN command, doubling the
// value of the instance.
func (c authCommand) admin(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.eval.Check(view, caller, adminRule)
	if err != nil {
		return err
	}

	value, err := c.readValue(view)
	if err != nil {
		return err
	}

	if value > math.MaxUint64/2 {
		return policy.NewErrorf(policy.AmountTooLarge, "value %d would overflow", value)
	}

	err = c.writeValue(view, value*2)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "admin"},
		Data:   []byte(strconv.FormatUint(value*2, 10)),
	})

	return nil
}

// moderate implements commands. It performs the MODERATE command, adding 100
// to the value of the instance.
func (c authCommand) moderate(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.eval.Check(view, caller, moderateRule)
	if err != nil {
		return err
	}

	value, err := c.readValue(view)
	if err != nil {
		return err
	}

	if value > math.MaxUint64-100 {
		return policy.NewErrorf(policy.AmountTooLarge, "value %d would overflow", value)
	}

	err = c.writeValue(view, value+100)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "moderate"},
		Data:   []byte(strconv.FormatUint(value+100, 10)),
	})

	return nil
}

// setState implements commands. It performs the SETSTATE command.
func (c authCommand) setState(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	text := step.Current.GetArg(StateArg)
	if len(text) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", StateArg)
	}

	next, err := parseState(string(text))
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.dir.RequireAdmin(view, caller)
	if err != nil {
		return err
	}

	err = c.machine.Set(view, next)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "setstate", next.String()},
		Data:   []byte(caller),
	})

	return nil
}

// state implements commands. It performs the STATE command.
func (c authCommand) state(snap store.Snapshot, step execution.Step) error {
	current, err := c.machine.Current(c.view(snap))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.printer, "%v", current)

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "state"},
		Data:   []byte(current.String()),
	})

	return nil
}

// active implements commands. It performs the ACTIVE command.
func (c authCommand) active(snap store.Snapshot, step execution.Step) error {
	return c.guarded(snap, step, "active", activeRule)
}

// setLock implements commands. It performs the SETLOCK command.
func (c authCommand) setLock(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	unlock, err := c.uint64Arg(step, UnlockArg)
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.dir.RequireAdmin(view, caller)
	if err != nil {
		return err
	}

	err = c.gate.SetTimeLock(view, unlock)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "setlock"},
		Data:   []byte(strconv.FormatUint(unlock, 10)),
	})

	return nil
}

// timeLocked implements commands. It performs the TIMELOCKED command.
func (c authCommand) timeLocked(snap store.Snapshot, step execution.Step) error {
	return c.guarded(snap, step, "timelocked", timeLockedRule)
}

// setCooldown implements commands. It performs the SETCOOLDOWN command.
func (c authCommand) setCooldown(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	period, err := c.uint64Arg(step, PeriodArg)
	if err != nil {
		return err
	}

	view := c.view(snap)

	err = c.dir.RequireAdmin(view, caller)
	if err != nil {
		return err
	}

	err = c.gate.SetCooldown(view, period)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", "setcooldown"},
		Data:   []byte(strconv.FormatUint(period, 10)),
	})

	return nil
}

// throttled implements commands. It performs the THROTTLED command.
func (c authCommand) throttled(snap store.Snapshot, step execution.Step) error {
	return c.guarded(snap, step, "throttled", throttledRule)
}

// guarded runs a command that does nothing but pass its rule.
func (c authCommand) guarded(snap store.Snapshot, step execution.Step,
	name string, rule eval.Rule) error {

	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	err = c.eval.Check(c.view(snap), caller, rule)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"auth", name},
		Data:   []byte(caller),
	})

	return nil
}

func (c authCommand) readValue(view store.Snapshot) (uint64, error) {
	value, err := view.Get(valueKey)
	if err != nil {
		return 0, xerrors.Errorf("failed to read value: %v", err)
	}

	if len(value) == 8 {
		return binary.BigEndian.Uint64(value), nil
	}

	if len(value) != 0 {
		return 0, xerrors.Errorf("malformed value of %d bytes", len(value))
	}

	return 0, nil
}

func (c authCommand) writeValue(view store.Snapshot, value uint64) error {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	err := view.Set(valueKey, buffer)
	if err != nil {
		return xerrors.Errorf("failed to write value: %v", err)
	}

	return nil
}

// caller resolves the account of the transaction identity and requires its
// authorization for the invocation.
func (c authCommand) caller(step execution.Step) (access.Account, error) {
	caller, err := access.NewAccount(step.Current.GetIdentity())
	if err != nil {
		return "", xerrors.Errorf("failed to resolve caller: %v", err)
	}

	err = step.Auth.RequireAuth(caller)
	if err != nil {
		return "", err
	}

	return caller, nil
}

func (c authCommand) account(step execution.Step) (access.Account, error) {
	value := step.Current.GetArg(AccountArg)
	if len(value) == 0 {
		return "", xerrors.Errorf("'%s' not found in tx arg", AccountArg)
	}

	return access.Account(value), nil
}

func (c authCommand) uint64Arg(step execution.Step, name string) (uint64, error) {
	text := step.Current.GetArg(name)
	if len(text) == 0 {
		return 0, xerrors.Errorf("'%s' not found in tx arg", name)
	}

	value, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return 0, policy.NewErrorf(policy.InvalidAmount, "'%s' is not a number", text)
	}

	return value, nil
}

func parseState(text string) (lifecycle.State, error) {
	switch strings.ToLower(text) {
	case "active":
		return lifecycle.Active, nil
	case "paused":
		return lifecycle.Paused, nil
	case "frozen":
		return lifecycle.Frozen, nil
	default:
		return lifecycle.Uninitialized, policy.NewErrorf(policy.InvalidEnum, "state '%s'", text)
	}
}

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
