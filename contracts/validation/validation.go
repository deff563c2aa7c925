// Package validation implements a native contract validating its inputs and
// running a hand-assembled authorization pipeline. Where the auth contract
// delegates to the policy evaluator, this one composes the directory, the
// state machine and the temporal gate by hand: TRANSFER checks its
// parameters, the operational state, the balance, the role of the caller
// and the cooldown, in that order, before moving funds.
package validation

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/lifecycle"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"github.com/custos-ledger/custos/core/temporal"
	"github.com/custos-ledger/custos/host"
	"golang.org/x/xerrors"
)

// commands defines the commands of the validation contract. This interface
// helps in testing the contract.
type commands interface {
	initialize(snap store.Snapshot, step execution.Step) error
	validateAmount(snap store.Snapshot, step execution.Step) error
	validateText(snap store.Snapshot, step execution.Step) error
	validateTime(snap store.Snapshot, step execution.Step) error
	ownerOnly(snap store.Snapshot, step execution.Step) error
	seed(snap store.Snapshot, step execution.Step) error
	balance(snap store.Snapshot, step execution.Step) error
	setRole(snap store.Snapshot, step execution.Step) error
	pause(snap store.Snapshot, step execution.Step) error
	resume(snap store.Snapshot, step execution.Step) error
	transfer(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Validation"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "VALI"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "validation:command"

	// AmountArg is the argument's name in the transaction that contains an
	// amount to validate or transfer.
	AmountArg = "validation:amount"

	// TextArg is the argument's name in the transaction that contains a
	// text to validate.
	TextArg = "validation:text"

	// TimestampArg is the argument's name in the transaction that contains
	// a timestamp to validate.
	TimestampArg = "validation:timestamp"

	// AccountArg is the argument's name in the transaction that contains
	// the account a command operates on.
	AccountArg = "validation:account"

	// ToArg is the argument's name in the transaction that contains the
	// recipient of a transfer.
	ToArg = "validation:to"

	// RoleArg is the argument's name in the transaction that contains the
	// role to assign.
	RoleArg = "validation:role"

	// maxAmount is the largest amount a single validation or transfer
	// accepts.
	maxAmount = 1000000

	// maxSeed is the largest amount a single seeding accepts.
	maxSeed = 1000000000

	// maxText is the maximum length of a validated text.
	maxText = 64

	// maxFuture is the horizon in seconds a validated timestamp may lie
	// ahead of now.
	maxFuture = 86400

	// cooldownPeriod is the number of seconds between two transfers of the
	// same account.
	cooldownPeriod = 60
)

// balancePrefix namespaces the balances inside the persistent tier.
const balancePrefix = "bal:"

// Command defines a type of command for the validation contract.
type Command string

const (
	// CmdInit defines the command to claim the instance, activate it and
	// arm the transfer cooldown.
	CmdInit Command = "INIT"

	// CmdValidateAmount defines the command to validate an amount.
	CmdValidateAmount Command = "VAMOUNT"

	// CmdValidateText defines the command to validate a text.
	CmdValidateText Command = "VTEXT"

	// CmdValidateTime defines the command to validate a timestamp.
	CmdValidateTime Command = "VTIME"

	// CmdOwnerOnly defines the command denied to everyone but the account
	// that initialized the instance.
	CmdOwnerOnly Command = "OWNERONLY"

	// CmdSeed defines the command to credit an account, reserved to the
	// administrators.
	CmdSeed Command = "SEED"

	// CmdBalance defines the command to report the balance of an account.
	CmdBalance Command = "BALANCE"

	// CmdSetRole defines the command to assign a role, reserved to the
	// administrators.
	CmdSetRole Command = "SETROLE"

	// CmdPause defines the command to pause the instance.
	CmdPause Command = "PAUSE"

	// CmdResume defines the command to resume the instance.
	CmdResume Command = "RESUME"

	// CmdTransfer defines the command to move funds between accounts.
	CmdTransfer Command = "TRANSFER"
)

// RegisterContract registers the validation contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a native contract composing the policy collaborators by hand.
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

	// clock provides the time the checks are decided against
	clock clock.Clock

	// printer is the output used by the BALANCE command
	printer io.Writer
}

// NewContract creates a new validation contract observing time through the
// given clock.
func NewContract(c clock.Clock) Contract {
	contract := Contract{
		dir:     access.NewDirectory(),
		machine: lifecycle.NewMachine(),
		gate:    temporal.NewGate(),
		clock:   c,
		printer: infoLog{},
	}

	contract.cmd = validationCommand{Contract: &contract}

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
	case CmdValidateAmount:
		err := c.cmd.validateAmount(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to VAMOUNT: %v", err)
		}
	case CmdValidateText:
		err := c.cmd.validateText(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to VTEXT: %v", err)
		}
	case CmdValidateTime:
		err := c.cmd.validateTime(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to VTIME: %v", err)
		}
	case CmdOwnerOnly:
		err := c.cmd.ownerOnly(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to OWNERONLY: %v", err)
		}
	case CmdSeed:
		err := c.cmd.seed(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SEED: %v", err)
		}
	case CmdBalance:
		err := c.cmd.balance(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to BALANCE: %v", err)
		}
	case CmdSetRole:
		err := c.cmd.setRole(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SETROLE: %v", err)
		}
	case CmdPause:
		err := c.cmd.pause(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to PAUSE: %v", err)
		}
	case CmdResume:
		err := c.cmd.resume(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to RESUME: %v", err)
		}
	case CmdTransfer:
		err := c.cmd.transfer(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to TRANSFER: %v", err)
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

// tiers returns the tiered views of the contract keys. The policy data
// lives in the instance tier and the balances in the persistent tier.
func (c Contract) tiers(snap store.Snapshot) host.Tiers {
	return host.NewTiers(snap, c.clock.Sequence())
}

// validationCommand implements the commands of the validation contract.
//
// - implements commands
type validationCommand struct {
	*Contract
}

// initialize implements commands. It performs the INIT command. The caller
// becomes the owner, the instance becomes active and the transfer cooldown
// is armed.
func (c validationCommand) initialize(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	view := c.tiers(snap).Instance

	err = c.dir.Init(view, caller)
	if err != nil {
		return err
	}

	err = c.machine.Set(view, lifecycle.Active)
	if err != nil {
		return err
	}

	err = c.gate.SetCooldown(view, cooldownPeriod)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "init"},
		Data:   []byte(caller),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("owner", string(caller)).
		Msg("instance claimed")

	return nil
}

// validateAmount implements commands. It performs the VAMOUNT command.
func (c validationCommand) validateAmount(snap store.Snapshot, step execution.Step) error {
	amount, err := c.int64Arg(step, AmountArg)
	if err != nil {
		return err
	}

	err = policy.ValidateAmount(amount, 1, maxAmount)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "valid", "amount"},
		Data:   []byte(strconv.FormatInt(amount, 10)),
	})

	return nil
}

// validateText implements commands. It performs the VTEXT command.
func (c validationCommand) validateText(snap store.Snapshot, step execution.Step) error {
	text := step.Current.GetArg(TextArg)
	if len(text) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", TextArg)
	}

	err := policy.ValidateString(string(text), 1, maxText)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "valid", "text"},
		Data:   text,
	})

	return nil
}

// validateTime implements commands. It performs the VTIME command.
func (c validationCommand) validateTime(snap store.Snapshot, step execution.Step) error {
	ts, err := c.uint64Arg(step, TimestampArg)
	if err != nil {
		return err
	}

	err = policy.ValidateTimestamp(ts, c.clock.Timestamp(), false, maxFuture)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "valid", "timestamp"},
		Data:   []byte(strconv.FormatUint(ts, 10)),
	})

	return nil
}

// ownerOnly implements commands. It performs the OWNERONLY command.
func (c validationCommand) ownerOnly(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	err = c.dir.RequireOwner(c.tiers(snap).Instance, caller)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "owneronly"},
		Data:   []byte(caller),
	})

	return nil
}

// seed implements commands. It performs the SEED command.
func (c validationCommand) seed(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step, AccountArg)
	if err != nil {
		return err
	}

	amount, err := c.int64Arg(step, AmountArg)
	if err != nil {
		return err
	}

	err = policy.ValidateAmount(amount, 1, maxSeed)
	if err != nil {
		return err
	}

	tiers := c.tiers(snap)

	err = c.dir.RequireAdmin(tiers.Instance, caller)
	if err != nil {
		return err
	}

	err = c.credit(tiers.Persistent, account, uint64(amount))
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "seed", string(account)},
		Data:   []byte(strconv.FormatInt(amount, 10)),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("account", string(account)).
		Int64("amount", amount).
		Msg("account seeded")

	return nil
}

// balance implements commands. It performs the BALANCE command.
func (c validationCommand) balance(snap store.Snapshot, step execution.Step) error {
	account, err := c.account(step, AccountArg)
	if err != nil {
		return err
	}

	balance, err := c.readBalance(c.tiers(snap).Persistent, account)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.printer, "%s=%d", account, balance)

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "balance"},
		Data:   []byte(strconv.FormatUint(balance, 10)),
	})

	return nil
}

// setRole implements commands. It performs the SETROLE command.
func (c validationCommand) setRole(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	account, err := c.account(step, AccountArg)
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

	err = c.dir.Grant(c.tiers(snap).Instance, caller, account, role)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "setrole", role.String()},
		Data:   []byte(account),
	})

	return nil
}

// pause implements commands. It performs the PAUSE command.
func (c validationCommand) pause(snap store.Snapshot, step execution.Step) error {
	return c.setState(snap, step, lifecycle.Paused, "pause")
}

// resume implements commands. It performs the RESUME command.
func (c validationCommand) resume(snap store.Snapshot, step execution.Step) error {
	return c.setState(snap, step, lifecycle.Active, "resume")
}

// transfer implements commands. It performs the TRANSFER command by running
// the full pipeline: parameters, operational state, balance, role of the
// caller, cooldown, then the move itself.
func (c validationCommand) transfer(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	to, err := c.account(step, ToArg)
	if err != nil {
		return err
	}

	amount, err := c.int64Arg(step, AmountArg)
	if err != nil {
		return err
	}

	err = policy.ValidateAmount(amount, 1, maxAmount)
	if err != nil {
		return err
	}

	tiers := c.tiers(snap)

	err = c.machine.Require(tiers.Instance, lifecycle.Active)
	if err != nil {
		return err
	}

	balance, err := c.readBalance(tiers.Persistent, caller)
	if err != nil {
		return err
	}

	if balance < uint64(amount) {
		return policy.NewErrorf(policy.InsufficientBalance,
			"have %d, need %d", balance, amount)
	}

	err = c.dir.Require(tiers.Instance, caller, access.User)
	if err != nil {
		return err
	}

	err = c.gate.TouchCooldown(tiers.Instance, string(caller), c.clock.Timestamp())
	if err != nil {
		return err
	}

	err = c.writeBalance(tiers.Persistent, caller, balance-uint64(amount))
	if err != nil {
		return err
	}

	err = c.credit(tiers.Persistent, to, uint64(amount))
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", "transfer", string(to)},
		Data:   []byte(strconv.FormatInt(amount, 10)),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("from", string(caller)).
		Str("to", string(to)).
		Int64("amount", amount).
		Msg("funds moved")

	return nil
}

func (c validationCommand) setState(snap store.Snapshot, step execution.Step,
	next lifecycle.State, topic string) error {

	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	view := c.tiers(snap).Instance

	err = c.dir.RequireAdmin(view, caller)
	if err != nil {
		return err
	}

	err = c.machine.Set(view, next)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"validation", topic},
		Data:   []byte(caller),
	})

	return nil
}

func (c validationCommand) credit(view store.Snapshot, account access.Account,
	amount uint64) error {

	balance, err := c.readBalance(view, account)
	if err != nil {
		return err
	}

	if balance > math.MaxUint64-amount {
		return policy.NewErrorf(policy.AmountTooLarge,
			"balance %d would overflow", balance)
	}

	return c.writeBalance(view, account, balance+amount)
}

func (c validationCommand) readBalance(view store.Snapshot, account access.Account) (uint64, error) {
	value, err := view.Get(balanceKey(account))
	if err != nil {
		return 0, xerrors.Errorf("failed to read balance: %v", err)
	}

	if len(value) == 8 {
		return binary.BigEndian.Uint64(value), nil
	}

	if len(value) != 0 {
		return 0, xerrors.Errorf("malformed balance of %d bytes", len(value))
	}

	return 0, nil
}

func (c validationCommand) writeBalance(view store.Snapshot, account access.Account,
	balance uint64) error {

	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, balance)

	err := view.Set(balanceKey(account), buffer)
	if err != nil {
		return xerrors.Errorf("failed to write balance: %v", err)
	}

	return nil
}

// caller resolves the account of the transaction identity and requires its
// authorization for the invocation.
func (c validationCommand) caller(step execution.Step) (access.Account, error) {
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

func (c validationCommand) account(step execution.Step, name string) (access.Account, error) {
	value := step.Current.GetArg(name)
	if len(value) == 0 {
		return "", xerrors.Errorf("'%s' not found in tx arg", name)
	}

	return access.Account(value), nil
}

func (c validationCommand) int64Arg(step execution.Step, name string) (int64, error) {
	text := step.Current.GetArg(name)
	if len(text) == 0 {
		return 0, xerrors.Errorf("'%s' not found in tx arg", name)
	}

	value, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return 0, policy.NewErrorf(policy.InvalidAmount, "'%s' is not a number", text)
	}

	return value, nil
}

func (c validationCommand) uint64Arg(step execution.Step, name string) (uint64, error) {
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

func balanceKey(account access.Account) []byte {
	return []byte(balancePrefix + string(account))
}

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
