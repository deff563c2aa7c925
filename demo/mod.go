// Package demo replays policy scenarios against a fresh ledger.
//
// A scenario is a YAML document declaring the accounts taking part, then the
// steps to run in order. Each step either invokes a contract command or moves
// the ledger clock forward:
//
//	name: role gating
//	accounts: [owner, alice]
//	steps:
//	  - signer: owner
//	    contract: auth
//	    command: INIT
//	  - signer: alice
//	    contract: auth
//	    command: ADMIN
//	    expect: insufficient role
//	  - advance: 60
//
// A fresh key pair is generated for every declared account. An argument value
// equal to a declared account name is replaced by the account derived from
// that identity, so that a scenario can reference the accounts it creates. A
// step without an expectation must be accepted by the ledger, while an
// expectation is a substring of the rejection reason.
package demo

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/contracts/auth"
	"github.com/custos-ledger/custos/contracts/events"
	"github.com/custos-ledger/custos/contracts/hello"
	"github.com/custos-ledger/custos/contracts/multisig"
	"github.com/custos-ledger/custos/contracts/storage"
	"github.com/custos-ledger/custos/contracts/validation"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution/native"
	"github.com/custos-ledger/custos/core/store/kv"
	"github.com/custos-ledger/custos/core/txn"
	"github.com/custos-ledger/custos/core/txn/signed"
	"github.com/custos-ledger/custos/crypto"
	"github.com/custos-ledger/custos/crypto/schnorr"
	"github.com/custos-ledger/custos/host"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// contractNames maps the short name used in scenarios to the registered
// contract name.
var contractNames = map[string]string{
	"hello":      hello.ContractName,
	"storage":    storage.ContractName,
	"events":     events.ContractName,
	"auth":       auth.ContractName,
	"multisig":   multisig.ContractName,
	"validation": validation.ContractName,
}

// Runner applies the steps of a scenario to a ledger built for it.
type Runner struct {
	logger   zerolog.Logger
	scenario Scenario
	clock    *clock.Manual
	ledger   *host.Ledger
	signers  map[string]crypto.Signer
	managers map[string]*signed.TransactionManager
	accounts map[string]access.Account
	out      io.Writer
}

// RunnerOption is the type of options to create a runner.
type RunnerOption func(*Runner) []host.LedgerOption

// WithDB is an option to flush the committed state of the ledger to the
// given database.
func WithDB(db kv.DB) RunnerOption {
	return func(*Runner) []host.LedgerOption {
		return []host.LedgerOption{host.WithDB(db)}
	}
}

// WithOutput is an option to redirect the progress report of the runner.
func WithOutput(out io.Writer) RunnerOption {
	return func(r *Runner) []host.LedgerOption {
		r.out = out
		return nil
	}
}

// WithSigner is an option to use the given signer for a declared account, so
// that a scenario replayed against a persisted database keeps its identities
// across the runs.
func WithSigner(name string, signer crypto.Signer) RunnerOption {
	return func(r *Runner) []host.LedgerOption {
		r.signers[name] = signer
		return nil
	}
}

// NewRunner builds a ledger with every contract registered, generates a key
// pair for each declared account and returns a runner ready to apply the
// scenario.
func NewRunner(scenario Scenario, opts ...RunnerOption) (*Runner, error) {
	runner := &Runner{
		logger:   custos.Logger.With().Str("scenario", scenario.Name).Logger(),
		scenario: scenario,
		clock:    clock.NewManual(scenario.Start),
		signers:  make(map[string]crypto.Signer),
		managers: make(map[string]*signed.TransactionManager),
		accounts: make(map[string]access.Account),
		out:      os.Stdout,
	}

	ledgerOpts := []host.LedgerOption{}
	for _, opt := range opts {
		ledgerOpts = append(ledgerOpts, opt(runner)...)
	}

	exec := native.NewExecution()
	hello.RegisterContract(exec, hello.NewContract())
	storage.RegisterContract(exec, storage.NewContract(runner.clock))
	events.RegisterContract(exec, events.NewContract(runner.clock))
	auth.RegisterContract(exec, auth.NewContract(runner.clock))
	multisig.RegisterContract(exec, multisig.NewContract(runner.clock))
	validation.RegisterContract(exec, validation.NewContract(runner.clock))

	ledger, err := host.NewLedger(exec, runner.clock, ledgerOpts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create ledger: %v", err)
	}

	runner.ledger = ledger

	for _, name := range scenario.Accounts {
		signer, ok := runner.signers[name]
		if !ok {
			signer = schnorr.NewSigner()
		}

		account, err := access.NewAccount(signer.GetPublicKey())
		if err != nil {
			return nil, xerrors.Errorf("failed to resolve account '%s': %v", name, err)
		}

		runner.signers[name] = signer
		runner.managers[name] = signed.NewManager(signer, ledger)
		runner.accounts[name] = account
	}

	return runner, nil
}

// Run applies the steps in order. It stops at the first step whose outcome
// does not match its expectation.
func (r *Runner) Run() error {
	for i, step := range r.scenario.Steps {
		err := r.apply(i, step)
		if err != nil {
			return xerrors.Errorf("step %d: %v", i, err)
		}
	}

	fmt.Fprintf(r.out, "scenario '%s' completed: %d steps\n",
		r.scenario.Name, len(r.scenario.Steps))

	r.logger.Info().
		Int("steps", len(r.scenario.Steps)).
		Msg("scenario completed")

	return nil
}

// Events returns the events of the invocations accepted so far.
func (r *Runner) Events() []event.Event {
	return r.ledger.Events()
}

func (r *Runner) apply(index int, step Step) error {
	if step.Advance > 0 {
		r.clock.Advance(step.Advance)

		fmt.Fprintf(r.out, "[%d] advance %ds now=%d\n",
			index, step.Advance, r.clock.Timestamp())

		return nil
	}

	tx, err := r.makeTx(step)
	if err != nil {
		return err
	}

	res, err := r.ledger.Invoke(tx)
	if err != nil {
		return xerrors.Errorf("failed to invoke: %v", err)
	}

	if step.Expect == "" {
		if !res.Accepted {
			return xerrors.Errorf("rejected: %s", res.Message)
		}

		fmt.Fprintf(r.out, "[%d] %s:%s accepted\n", index, step.Contract, step.Command)

		return nil
	}

	if res.Accepted {
		return xerrors.Errorf("expected rejection '%s', got accepted", step.Expect)
	}

	if !strings.Contains(res.Message, step.Expect) {
		return xerrors.Errorf("expected rejection '%s', got '%s'",
			step.Expect, res.Message)
	}

	fmt.Fprintf(r.out, "[%d] %s:%s rejected: %s\n",
		index, step.Contract, step.Command, res.Message)

	return nil
}

func (r *Runner) makeTx(step Step) (txn.Transaction, error) {
	args := []txn.Arg{
		{Key: native.ContractArg, Value: []byte(contractNames[step.Contract])},
		{Key: step.Contract + ":command", Value: []byte(step.Command)},
	}

	for key, value := range step.Args {
		args = append(args, txn.Arg{
			Key:   r.argKey(step.Contract, key),
			Value: r.argValue(value),
		})
	}

	if len(step.Cosigners) == 0 {
		manager := r.managers[step.Signer]

		// A rejected invocation does not consume the nonce, so the manager
		// is synchronized before every transaction.
		err := manager.Sync()
		if err != nil {
			return nil, xerrors.Errorf("failed to sync manager: %v", err)
		}

		tx, err := manager.Make(args...)
		if err != nil {
			return nil, xerrors.Errorf("failed to make tx: %v", err)
		}

		return tx, nil
	}

	signer := r.signers[step.Signer]

	nonce, err := r.ledger.GetNonce(signer.GetPublicKey())
	if err != nil {
		return nil, xerrors.Errorf("failed to get nonce: %v", err)
	}

	opts := make([]signed.TransactionOption, 0, len(args)+len(step.Cosigners))
	for _, arg := range args {
		opts = append(opts, signed.WithArg(arg.Key, arg.Value))
	}

	for _, name := range step.Cosigners {
		opts = append(opts, signed.WithCosigner(r.signers[name].GetPublicKey()))
	}

	tx, err := signed.NewTransaction(nonce, signer.GetPublicKey(), opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	err = tx.Sign(signer)
	if err != nil {
		return nil, xerrors.Errorf("failed to sign: %v", err)
	}

	for _, name := range step.Cosigners {
		err = tx.Cosign(r.signers[name])
		if err != nil {
			return nil, xerrors.Errorf("failed to cosign: %v", err)
		}
	}

	return tx, nil
}

// argKey namespaces a bare argument key with the contract short name.
func (r *Runner) argKey(contract, key string) string {
	if strings.Contains(key, ":") {
		return key
	}

	return contract + ":" + key
}

// argValue replaces every declared account name of the value by the account
// derived from its identity. Lists separated by commas are handled element
// by element.
func (r *Runner) argValue(value string) []byte {
	parts := strings.Split(value, ",")
	for i, part := range parts {
		if account, ok := r.accounts[part]; ok {
			parts[i] = string(account)
		}
	}

	return []byte(strings.Join(parts, ","))
}
