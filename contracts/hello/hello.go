// Package hello implements the smallest native contract of the corpus. It
// greets a name, stores the last greeting and broadcasts it as an event.
package hello

import (
	"fmt"
	"io"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/prefixed"
	"golang.org/x/xerrors"
)

// commands defines the commands of the hello contract. This interface helps
// in testing the contract.
type commands interface {
	greet(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Hello"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "HELO"

	// NameArg is the argument's name in the transaction that contains the
	// name to greet.
	NameArg = "hello:name"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "hello:command"
)

// nameMaxLen bounds the greeted name.
const nameMaxLen = 32

// Command defines a type of command for the hello contract.
type Command string

const (
	// CmdGreet defines the command to greet a name.
	CmdGreet Command = "GREET"
)

// RegisterContract registers the hello contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract greets whoever the transaction names.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this contract
	cmd commands

	// printer is the output used by the GREET command
	printer io.Writer
}

// NewContract creates a new hello contract.
func NewContract() Contract {
	contract := Contract{
		printer: infoLog{},
	}

	contract.cmd = helloCommand{Contract: &contract}

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
	case CmdGreet:
		err := c.cmd.greet(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to GREET: %v", err)
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

// helloCommand implements the commands of the hello contract.
//
// - implements commands
type helloCommand struct {
	*Contract
}

// greet implements commands. It performs the GREET command.
func (c helloCommand) greet(snap store.Snapshot, step execution.Step) error {
	name := step.Current.GetArg(NameArg)
	if len(name) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", NameArg)
	}

	err := policy.ValidateString(string(name), 1, nameMaxLen)
	if err != nil {
		return err
	}

	greeting := fmt.Sprintf("Hello, %s", name)

	err = snap.Set([]byte("greeting"), []byte(greeting))
	if err != nil {
		return xerrors.Errorf("failed to set greeting: %v", err)
	}

	step.Events.Emit(event.Event{
		Topics: []string{"hello", string(name)},
		Data:   []byte(greeting),
	})

	fmt.Fprint(c.printer, greeting)

	custos.Logger.Info().Str("contract", ContractName).Msgf("greeting %s", name)

	return nil
}

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
