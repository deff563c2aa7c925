// Package events implements a native contract publishing events on demand.
// It demonstrates the event channel of the host: every command feeds the
// invocation buffer and the total number of events published so far is kept
// in the instance tier.
package events

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/custos-ledger/custos"
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

// commands defines the commands of the events contract. This interface helps
// in testing the contract.
type commands interface {
	emit(snap store.Snapshot, step execution.Step) error
	batch(snap store.Snapshot, step execution.Step) error
	count(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Events"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "EVNT"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "events:command"

	// TopicArg is the argument's name in the transaction that contains the
	// topic to publish under.
	TopicArg = "events:topic"

	// MessageArg is the argument's name in the transaction that contains
	// the payload of the event. It may be left out.
	MessageArg = "events:message"

	// CountArg is the argument's name in the transaction that contains the
	// number of events a batch publishes.
	CountArg = "events:count"

	// topicMaxLen is the maximum length of a topic.
	topicMaxLen = 32

	// batchMaxCount is the maximum number of events a single batch can
	// publish.
	batchMaxCount = 100
)

// totalKey is the instance tier key of the number of events published.
var totalKey = []byte("total")

// Command defines a type of command for the events contract.
type Command string

const (
	// CmdEmit defines the command to publish a single event.
	CmdEmit Command = "EMIT"

	// CmdBatch defines the command to publish a batch of events.
	CmdBatch Command = "BATCH"

	// CmdCount defines the command to report the number of events
	// published so far.
	CmdCount Command = "COUNT"
)

// RegisterContract registers the events contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a native contract publishing events.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this contract
	cmd commands

	// clock provides the sequence the instance tier is read against
	clock clock.Clock

	// printer is the output used by the COUNT command
	printer io.Writer
}

// NewContract creates a new events contract.
func NewContract(c clock.Clock) Contract {
	contract := Contract{
		clock:   c,
		printer: infoLog{},
	}

	contract.cmd = eventsCommand{Contract: &contract}

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
	case CmdEmit:
		err := c.cmd.emit(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to EMIT: %v", err)
		}
	case CmdBatch:
		err := c.cmd.batch(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to BATCH: %v", err)
		}
	case CmdCount:
		err := c.cmd.count(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to COUNT: %v", err)
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

func (c Contract) total(snap store.Snapshot) (uint64, store.Snapshot, error) {
	view := host.NewTiers(snap, c.clock.Sequence()).Instance

	value, err := view.Get(totalKey)
	if err != nil {
		return 0, nil, xerrors.Errorf("failed to get total: %v", err)
	}

	if len(value) == 8 {
		return binary.BigEndian.Uint64(value), view, nil
	}

	if len(value) != 0 {
		return 0, nil, xerrors.Errorf("malformed total of %d bytes", len(value))
	}

	return 0, view, nil
}

// eventsCommand implements the commands of the events contract.
//
// - implements commands
type eventsCommand struct {
	*Contract
}

// emit implements commands. It performs the EMIT command.
func (c eventsCommand) emit(snap store.Snapshot, step execution.Step) error {
	topic := step.Current.GetArg(TopicArg)
	if len(topic) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", TopicArg)
	}

	err := policy.ValidateString(string(topic), 1, topicMaxLen)
	if err != nil {
		return err
	}

	message := step.Current.GetArg(MessageArg)

	err = c.addTotal(snap, 1)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"events", string(topic)},
		Data:   message,
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("topic", string(topic)).
		Msg("event published")

	return nil
}

// batch implements commands. It performs the BATCH command.
func (c eventsCommand) batch(snap store.Snapshot, step execution.Step) error {
	topic := step.Current.GetArg(TopicArg)
	if len(topic) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", TopicArg)
	}

	err := policy.ValidateString(string(topic), 1, topicMaxLen)
	if err != nil {
		return err
	}

	count, err := c.int64Arg(step, CountArg)
	if err != nil {
		return err
	}

	err = policy.ValidateAmount(count, 1, batchMaxCount)
	if err != nil {
		return err
	}

	message := step.Current.GetArg(MessageArg)

	err = c.addTotal(snap, uint64(count))
	if err != nil {
		return err
	}

	for i := int64(0); i < count; i++ {
		step.Events.Emit(event.Event{
			Topics: []string{"events", string(topic), strconv.FormatInt(i, 10)},
			Data:   message,
		})
	}

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("topic", string(topic)).
		Int64("count", count).
		Msg("batch published")

	return nil
}

// count implements commands. It performs the COUNT command.
func (c eventsCommand) count(snap store.Snapshot, step execution.Step) error {
	total, _, err := c.total(snap)
	if err != nil {
		return err
	}

	text := strconv.FormatUint(total, 10)

	fmt.Fprint(c.printer, text)

	step.Events.Emit(event.Event{
		Topics: []string{"events", "count"},
		Data:   []byte(text),
	})

	return nil
}

func (c eventsCommand) addTotal(snap store.Snapshot, delta uint64) error {
	total, view, err := c.total(snap)
	if err != nil {
		return err
	}

	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, total+delta)

	err = view.Set(totalKey, buffer)
	if err != nil {
		return xerrors.Errorf("failed to set total: %v", err)
	}

	return nil
}

func (c eventsCommand) int64Arg(step execution.Step, name string) (int64, error) {
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

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
