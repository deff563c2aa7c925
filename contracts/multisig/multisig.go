// Package multisig implements a native contract collecting approvals until a
// threshold is met. A proposal names its signers and the number of them that
// must approve before it can be executed. Approvals are either recorded one
// invocation at a time or proven in place by the cosigners of the executing
// transaction.
package multisig

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

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

// commands defines the commands of the multisig contract. This interface
// helps in testing the contract.
type commands interface {
	setup(snap store.Snapshot, step execution.Step) error
	approve(snap store.Snapshot, step execution.Step) error
	execute(snap store.Snapshot, step execution.Step) error
	status(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "github.com/custos-ledger/custos.Multisig"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// namespace its keys.
	ContractUID = "MSIG"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "multisig:command"

	// ProposalArg is the argument's name in the transaction that contains
	// the identifier of the proposal.
	ProposalArg = "multisig:proposal"

	// ThresholdArg is the argument's name in the transaction that contains
	// the number of approvals required to execute.
	ThresholdArg = "multisig:threshold"

	// SignersArg is the argument's name in the transaction that contains
	// the comma separated accounts allowed to approve.
	SignersArg = "multisig:signers"

	// maxSigners is the maximum number of signers of a proposal.
	maxSigners = 10
)

// proposalPrefix namespaces the proposals inside the contract keys.
const proposalPrefix = "prop:"

// Command defines a type of command for the multisig contract.
type Command string

const (
	// CmdSetup defines the command to create a proposal.
	CmdSetup Command = "SETUP"

	// CmdApprove defines the command to record the approval of the caller.
	CmdApprove Command = "APPROVE"

	// CmdExecute defines the command to execute a proposal once enough
	// approvals are gathered.
	CmdExecute Command = "EXECUTE"

	// CmdStatus defines the command to report the progress of a proposal.
	CmdStatus Command = "STATUS"
)

// Proposal is the stored form of a pending multi-party approval.
type Proposal struct {
	Threshold int      `json:"threshold"`
	Signers   []string `json:"signers"`
	Approvals []string `json:"approvals"`
	Executed  bool     `json:"executed"`
}

// approved returns true when the account already approved the proposal.
func (p Proposal) approved(account string) bool {
	for _, a := range p.Approvals {
		if a == account {
			return true
		}
	}

	return false
}

// listed returns true when the account is one of the signers.
func (p Proposal) listed(account string) bool {
	for _, s := range p.Signers {
		if s == account {
			return true
		}
	}

	return false
}

// RegisterContract registers the multisig contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a native contract gathering approvals of several accounts
// before an execution is allowed.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this contract
	cmd commands

	// clock provides the sequence the persistent tier is read against
	clock clock.Clock

	// printer is the output used by the STATUS command
	printer io.Writer
}

// NewContract creates a new multisig contract.
func NewContract(c clock.Clock) Contract {
	contract := Contract{
		clock:   c,
		printer: infoLog{},
	}

	contract.cmd = multisigCommand{Contract: &contract}

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
	case CmdSetup:
		err := c.cmd.setup(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SETUP: %v", err)
		}
	case CmdApprove:
		err := c.cmd.approve(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to APPROVE: %v", err)
		}
	case CmdExecute:
		err := c.cmd.execute(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to EXECUTE: %v", err)
		}
	case CmdStatus:
		err := c.cmd.status(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to STATUS: %v", err)
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

// view returns the persistent tier the proposals live in.
func (c Contract) view(snap store.Snapshot) store.Snapshot {
	return host.NewTiers(snap, c.clock.Sequence()).Persistent
}

// multisigCommand implements the commands of the multisig contract.
//
// - implements commands
type multisigCommand struct {
	*Contract
}

// setup implements commands. It performs the SETUP command.
func (c multisigCommand) setup(snap store.Snapshot, step execution.Step) error {
	_, err := c.caller(step)
	if err != nil {
		return err
	}

	id, err := c.proposalID(step)
	if err != nil {
		return err
	}

	threshold, err := c.intArg(step, ThresholdArg)
	if err != nil {
		return err
	}

	text := step.Current.GetArg(SignersArg)
	if len(text) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", SignersArg)
	}

	signers := strings.Split(string(text), ",")

	err = policy.ValidateArrayLen(len(signers), 1, maxSigners)
	if err != nil {
		return err
	}

	err = policy.ValidateAmount(int64(threshold), 1, int64(len(signers)))
	if err != nil {
		return err
	}

	view := c.view(snap)

	existing, err := view.Get(proposalKey(id))
	if err != nil {
		return xerrors.Errorf("failed to read proposal: %v", err)
	}

	if len(existing) > 0 {
		return policy.NewErrorf(policy.ResourceAlreadyExists, "proposal '%s'", id)
	}

	proposal := Proposal{
		Threshold: threshold,
		Signers:   signers,
	}

	err = c.save(view, id, proposal)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"multisig", "setup", id},
		Data:   []byte(strconv.Itoa(threshold)),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("proposal", id).
		Int("threshold", threshold).
		Int("signers", len(signers)).
		Msg("proposal created")

	return nil
}

// approve implements commands. It performs the APPROVE command.
func (c multisigCommand) approve(snap store.Snapshot, step execution.Step) error {
	caller, err := c.caller(step)
	if err != nil {
		return err
	}

	id, err := c.proposalID(step)
	if err != nil {
		return err
	}

	view := c.view(snap)

	proposal, err := c.load(view, id)
	if err != nil {
		return err
	}

	if proposal.Executed {
		return policy.NewErrorf(policy.ResourceAlreadyExists, "proposal already executed")
	}

	if !proposal.listed(string(caller)) {
		return policy.NewErrorf(policy.Unauthorized,
			"account '%s' is not a signer", caller)
	}

	if proposal.approved(string(caller)) {
		return policy.NewErrorf(policy.ResourceAlreadyExists, "already approved")
	}

	proposal.Approvals = append(proposal.Approvals, string(caller))

	err = c.save(view, id, proposal)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"multisig", "approve", id},
		Data:   []byte(caller),
	})

	return nil
}

// execute implements commands. It performs the EXECUTE command. On top of
// the recorded approvals, a signer that authorized the current invocation
// counts as having approved in place.
func (c multisigCommand) execute(snap store.Snapshot, step execution.Step) error {
	_, err := c.caller(step)
	if err != nil {
		return err
	}

	id, err := c.proposalID(step)
	if err != nil {
		return err
	}

	view := c.view(snap)

	proposal, err := c.load(view, id)
	if err != nil {
		return err
	}

	if proposal.Executed {
		return policy.NewErrorf(policy.ResourceAlreadyExists, "proposal already executed")
	}

	approved := make(map[string]struct{})
	for _, account := range proposal.Approvals {
		approved[account] = struct{}{}
	}

	for _, signer := range proposal.Signers {
		if _, ok := approved[signer]; ok {
			continue
		}

		if step.Auth.RequireAuth(access.Account(signer)) == nil {
			approved[signer] = struct{}{}
		}
	}

	if len(approved) < proposal.Threshold {
		return policy.NewErrorf(policy.InsufficientApprovals,
			"have %d, need %d", len(approved), proposal.Threshold)
	}

	proposal.Executed = true

	err = c.save(view, id, proposal)
	if err != nil {
		return err
	}

	step.Events.Emit(event.Event{
		Topics: []string{"multisig", "execute", id},
		Data:   []byte(strconv.Itoa(len(approved))),
	})

	custos.Logger.Info().
		Str("contract", ContractName).
		Str("proposal", id).
		Int("approvals", len(approved)).
		Msg("proposal executed")

	return nil
}

// status implements commands. It performs the STATUS command.
func (c multisigCommand) status(snap store.Snapshot, step execution.Step) error {
	id, err := c.proposalID(step)
	if err != nil {
		return err
	}

	proposal, err := c.load(c.view(snap), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.printer, "%s=%d/%d executed=%v",
		id, len(proposal.Approvals), proposal.Threshold, proposal.Executed)

	step.Events.Emit(event.Event{
		Topics: []string{"multisig", "status", id},
		Data:   []byte(strconv.Itoa(len(proposal.Approvals))),
	})

	return nil
}

func (c multisigCommand) load(view store.Snapshot, id string) (Proposal, error) {
	proposal := Proposal{}

	data, err := view.Get(proposalKey(id))
	if err != nil {
		return proposal, xerrors.Errorf("failed to read proposal: %v", err)
	}

	if len(data) == 0 {
		return proposal, policy.NewErrorf(policy.ResourceNotFound, "proposal '%s'", id)
	}

	err = json.Unmarshal(data, &proposal)
	if err != nil {
		return proposal, xerrors.Errorf("failed to unmarshal proposal: %v", err)
	}

	return proposal, nil
}

func (c multisigCommand) save(view store.Snapshot, id string, proposal Proposal) error {
	data, err := json.Marshal(proposal)
	if err != nil {
		return xerrors.Errorf("failed to marshal proposal: %v", err)
	}

	err = view.Set(proposalKey(id), data)
	if err != nil {
		return xerrors.Errorf("failed to write proposal: %v", err)
	}

	return nil
}

// caller resolves the account of the transaction identity and requires its
// authorization for the invocation.
func (c multisigCommand) caller(step execution.Step) (access.Account, error) {
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

func (c multisigCommand) proposalID(step execution.Step) (string, error) {
	id := step.Current.GetArg(ProposalArg)
	if len(id) == 0 {
		return "", xerrors.Errorf("'%s' not found in tx arg", ProposalArg)
	}

	return string(id), nil
}

func (c multisigCommand) intArg(step execution.Step, name string) (int, error) {
	text := step.Current.GetArg(name)
	if len(text) == 0 {
		return 0, xerrors.Errorf("'%s' not found in tx arg", name)
	}

	value, err := strconv.Atoi(string(text))
	if err != nil {
		return 0, policy.NewErrorf(policy.InvalidAmount, "'%s' is not a number", text)
	}

	return value, nil
}

func proposalKey(id string) []byte {
	return []byte(proposalPrefix + id)
}

// infoLog defines an output using zerolog
//
// - implements io.Writer
type infoLog struct{}

func (h infoLog) Write(p []byte) (int, error) {
	custos.Logger.Info().Msg(string(p))

	return len(p), nil
}
