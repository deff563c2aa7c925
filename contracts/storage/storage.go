// Package storage implements a native contract demonstrating the three
// durability tiers of the host. Entries are stored as typed records tagged
// with their author and the sequence they were written at, a counter lives
// in the instance tier and the TTL of temporary entries can be extended.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"github.com/custos-ledger/custos/host"
	"golang.org/x/xerrors"
)

// commands defines the commands of the storage contract. This interface
// helps in testing the contract.
type commands interface {
	put(snap store.Snapshot, step execution.Step) error
	get(snap store.Snapshot, step execution.Step) error
	del(snap store.Snapshot, step execution.Step) error
	inc(snap store.Snapshot, step execution.Step) error
	extend(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Storage"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "STOR"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "storage:command"

	// KeyArg is the argument's name in the transaction that contains the
	// key to operate on.
	KeyArg = "storage:key"

	// ValueArg is the argument's name in the transaction that contains the
	// value to store.
	ValueArg = "storage:value"

	// TierArg is the argument's name in the transaction that selects the
	// durability tier. One of persistent, instance or temporary, defaults
	// to persistent.
	TierArg = "storage:tier"

	// ThresholdArg is the argument's name in the transaction that contains
	// the remaining TTL under which an extension applies.
	ThresholdArg = "storage:threshold"

	// ExtendArg is the argument's name in the transaction that contains the
	// TTL to extend a temporary entry to.
	ExtendArg = "storage:extend"
)

// counterKey is the instance tier key of the counter.
var counterKey = []byte("counter")

// Command defines a type of command for the storage contract.
type Command string

const (
	// CmdPut defines the command to store a record.
	CmdPut Command = "PUT"

	// CmdGet defines the command to read a record back.
	CmdGet Command = "GET"

	// CmdDel defines the command to delete a record.
	CmdDel Command = "DEL"

	// CmdInc defines the command to increment the instance counter.
	CmdInc Command = "INC"

	// CmdExtend defines the command to extend the TTL of a temporary
	// entry.
	CmdExtend Command = "EXTEND"
)

// Record is the typed value the contract stores. It keeps the raw value next
// to the account that wrote it and the sequence it was written at.
type Record struct {
	Value    string `json:"value"`
	Author   string `json:"author"`
	Sequence uint32 `json:"sequence"`
}

// RegisterContract registers the storage contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a native contract performing tiered CRUD operations.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this contract
	cmd commands

	// clock provides the sequence the tier expiries are decided against
	clock clock.Clock

	// printer is the output used by the GET and INC commands
	printer io.Writer
}

// NewContract creates a new storage contract observing time through the
// given clock.
func NewContract(c clock.Clock) Contract {
	contract := Contract{
		clock:   c,
		printer: infoLog{},
	}

	contract.cmd = storageCommand{Contract: &contract}

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
	case CmdPut:
		err := c.cmd.put(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to PUT: %v", err)
		}
	case CmdGet:
		err := c.cmd.get(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to GET: %v", err)
		}
	case CmdDel:
		err := c.cmd.del(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to DEL: %v", err)
		}
	case CmdInc:
		err := c.cmd.inc(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to INC: %v", err)
		}
	case CmdExtend:
		err := c.cmd.extend(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to EXTEND: %v", err)
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

func (c Contract) tiers(snap store.Snapshot) host.Tiers {
	return host.NewTiers(snap, c.clock.Sequence())
}

// storageCommand implements the commands of the storage contract.
//
// - implements commands
type storageCommand struct {
	*Contract
}

// put implements commands. It performs the PUT command.
func (c storageCommand) put(snap store.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	value := step.Current.GetArg(ValueArg)
	if len(value) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", ValueArg)
	}

	author, err := access.NewAccount(step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("failed to resolve author: %v", err)
	}

	view, tier, err := c.tier(snap, step)
	if err != nil {
		return err
	}

	record := Record{
		Value:    string(value),
		Author:   string(author),
		Sequence: c.clock.Sequence(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return xerrors.Errorf("failed to marshal record: %v", err)
	}

	err = view.Set(key, data)
	if err != nil {
		return xerrors.Errorf("failed to set record: %v", err)
	}

	step.Events.Emit(event.Event{
		Topics: []string{"storage", "put", tier},
		Data:   key,
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("tier", tier).
		Msgf("setting %s=%s", key, value)

	return nil
}

// get implements commands. It performs the GET command.
func (c storageCommand) get(snap store.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	view, _, err := c.tier(snap, step)
	if err != nil {
		return err
	}

	data, err := view.Get(key)
	if err != nil {
		return xerrors.Errorf("failed to get key '%s': %v", key, err)
	}

	if len(data) == 0 {
		return policy.NewErrorf(policy.ResourceNotFound, "key '%s'", key)
	}

	record := Record{}

	err = json.Unmarshal(data, &record)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal record: %v", err)
	}

	fmt.Fprintf(c.printer, "%s=%s", key, record.Value)

	step.Events.Emit(event.Event{
		Topics: []string{"storage", "get"},
		Data:   []byte(record.Value),
	})

	return nil
}

// del implements commands. It performs the DEL command.
func (c storageCommand) del(snap store.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	view, tier, err := c.tier(snap, step)
	if err != nil {
		return err
	}

	err = view.Delete(key)
	if err != nil {
		return xerrors.Errorf("failed to delete key '%s': %v", key, err)
	}

	step.Events.Emit(event.Event{
		Topics: []string{"storage", "del", tier},
		Data:   key,
	})

	return nil
}

// inc implements commands. It performs the INC command. The counter lives in
// the instance tier.
func (c storageCommand) inc(snap store.Snapshot, step execution.Step) error {
	view := c.tiers(snap).Instance

	value, err := view.Get(counterKey)
	if err != nil {
		return xerrors.Errorf("failed to get counter: %v", err)
	}

	counter := uint64(0)

	if len(value) == 8 {
		counter = binary.BigEndian.Uint64(value)
	} else if len(value) != 0 {
		return xerrors.Errorf("malformed counter of %d bytes", len(value))
	}

	counter++

	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, counter)

	err = view.Set(counterKey, buffer)
	if err != nil {
		return xerrors.Errorf("failed to set counter: %v", err)
	}

	fmt.Fprintf(c.printer, "%d", counter)

	step.Events.Emit(event.Event{
		Topics: []string{"storage", "inc"},
		Data:   []byte(strconv.FormatUint(counter, 10)),
	})

	return nil
}

// extend implements commands. It performs the EXTEND command on a temporary
// entry.
func (c storageCommand) extend(snap store.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	threshold, err := c.uint32Arg(step, ThresholdArg)
	if err != nil {
		return err
	}

	extendTo, err := c.uint32Arg(step, ExtendArg)
	if err != nil {
		return err
	}

	err = c.tiers(snap).Temporary.ExtendTTL(key, threshold, extendTo)
	if err != nil {
		return xerrors.Errorf("failed to extend TTL: %v", err)
	}

	step.Events.Emit(event.Event{
		Topics: []string{"storage", "extend"},
		Data:   key,
	})

	return nil
}

func (c storageCommand) tier(snap store.Snapshot, step execution.Step) (store.Snapshot, string, error) {
	tiers := c.tiers(snap)

	text := string(step.Current.GetArg(TierArg))

	switch text {
	case "", "persistent":
		return tiers.Persistent, "persistent", nil
	case "instance":
		return tiers.Instance, "instance", nil
	case "temporary":
		return tiers.Temporary, "temporary", nil
	default:
		return nil, "", policy.NewErrorf(policy.InvalidEnum, "tier '%s'", text)
	}
}

func (c storageCommand) uint32Arg(step execution.Step, name string) (uint32, error) {
	text := step.Current.GetArg(name)
	if len(text) == 0 {
		return 0, xerrors.Errorf("'%s' not found in tx arg", name)
	}

	value, err := strconv.ParseUint(string(text), 10, 32)
	if err != nil {
		return 0, policy.NewErrorf(policy.InvalidAmount, "'%s' is not a number", text)
	}

	return uint32(value), nil
}

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
