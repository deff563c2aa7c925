// Package host simulates the runtime a contract instance runs inside: a
// ledger that clocks the invocations, proves the identities that signed
// them, stages every execution so that a failure leaves no trace, and keeps
// the log of the events the committed invocations broadcast.
//
// The ledger is a single writer. Invocations are applied one at a time, each
// in its own staging layer over the committed state, and each one closes a
// ledger so that temporal checks observe a fresh sequence number.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/execution"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/store/kv"
	"github.com/custos-ledger/custos/core/store/mem"
	"github.com/custos-ledger/custos/core/txn"
	"github.com/custos-ledger/custos/core/txn/signed"
	"github.com/custos-ledger/custos/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// stateBucket is the name of the database bucket the committed state is
// flushed to.
const stateBucket = "custos:state"

// defines prometheus metrics
var (
	promAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custos_ledger_accepted_total",
		Help: "number of accepted invocations",
	})

	promRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custos_ledger_rejected_total",
		Help: "number of rejected invocations",
	})
)

func init() {
	custos.PromCollectors = append(custos.PromCollectors, promAccepted, promRejected)
}

// Signed is the transaction surface the ledger needs to prove the identities
// behind an invocation.
type Signed interface {
	txn.Transaction

	GetSignature() crypto.Signature
	GetCosignatures() []signed.Cosignature
}

// Ledger applies transactions to the contract state one at a time.
//
// - implements signed.Client
type Ledger struct {
	sync.Mutex

	logger zerolog.Logger
	exec   execution.Service
	clock  clock.Clock
	trie   *mem.Trie
	log    *event.Log
	nonces map[access.Account]uint64
	db     kv.DB
}

// LedgerOption is the type of options to create a ledger.
type LedgerOption func(*Ledger)

// WithDB is an option to flush the committed state to a database bucket, and
// to restore from it at startup.
func WithDB(db kv.DB) LedgerOption {
	return func(l *Ledger) {
		l.db = db
	}
}

// NewLedger creates a ledger that executes transactions with the given
// service and observes time through the given clock.
func NewLedger(exec execution.Service, c clock.Clock, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		logger: custos.Logger.With().Str("component", "ledger").Logger(),
		exec:   exec,
		clock:  c,
		trie:   mem.NewTrie(),
		log:    event.NewLog(),
		nonces: make(map[access.Account]uint64),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.db != nil {
		err := l.restore()
		if err != nil {
			return nil, xerrors.Errorf("failed to restore state: %v", err)
		}
	}

	return l, nil
}

// Invoke closes a ledger and applies the transaction to the committed state.
// The execution runs in a staging layer that is adopted only when the
// contract accepts the transaction, so that a rejection or an error leaves
// neither writes nor events behind.
func (l *Ledger) Invoke(tx txn.Transaction) (execution.Result, error) {
	l.Lock()
	defer l.Unlock()

	logger := l.logger.With().Str("invocation", xid.New().String()).Logger()

	if ticker, ok := l.clock.(clock.Ticker); ok {
		ticker.Tick()
	}

	stx, ok := tx.(Signed)
	if !ok {
		return l.reject(logger, "transaction is not signed")
	}

	account, err := access.NewAccount(tx.GetIdentity())
	if err != nil {
		return execution.Result{}, xerrors.Errorf("failed to resolve identity: %v", err)
	}

	expected := l.nonces[account]
	if tx.GetNonce() != expected {
		msg := fmt.Sprintf("nonce '%d' is invalid, expected '%d'",
			tx.GetNonce(), expected)

		return l.reject(logger, msg)
	}

	sig := stx.GetSignature()
	if sig == nil {
		return l.reject(logger, "transaction is not signed")
	}

	err = tx.GetIdentity().Verify(tx.GetID(), sig)
	if err != nil {
		return l.reject(logger, fmt.Sprintf("invalid signature: %v", err))
	}

	auth := authorizer{
		accounts: map[access.Account]struct{}{account: {}},
	}

	for _, cosig := range stx.GetCosignatures() {
		if cosig.Signature == nil {
			continue
		}

		err = cosig.Signer.Verify(tx.GetID(), cosig.Signature)
		if err != nil {
			return l.reject(logger, fmt.Sprintf("invalid cosignature: %v", err))
		}

		cosigner, err := access.NewAccount(cosig.Signer)
		if err != nil {
			return execution.Result{}, xerrors.Errorf("failed to resolve cosigner: %v", err)
		}

		auth.accounts[cosigner] = struct{}{}
	}

	buffer := &event.Buffer{}

	step := execution.Step{
		Current: tx,
		Auth:    auth,
		Events:  buffer,
	}

	var res execution.Result

	next, err := l.trie.Stage(func(snap store.Snapshot) error {
		res, err = l.exec.Execute(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to execute: %v", err)
		}

		return nil
	})
	if err != nil {
		return execution.Result{}, err
	}

	if !res.Accepted {
		return l.reject(logger, res.Message)
	}

	l.trie = next
	l.nonces[account] = expected + 1

	if l.db != nil {
		err = l.db.Update([]byte(stateBucket), func(b kv.Bucket) error {
			return next.Flush(b)
		})
		if err != nil {
			return execution.Result{}, xerrors.Errorf("failed to flush state: %v", err)
		}
	}

	for _, evt := range buffer.Events() {
		l.log.Append(evt)
	}

	promAccepted.Inc()

	logger.Info().
		Uint32("sequence", l.clock.Sequence()).
		Int("events", len(buffer.Events())).
		Msg("invocation accepted")

	return res, nil
}

// GetNonce implements signed.Client. It returns the nonce the ledger expects
// from the next transaction of the identity.
func (l *Ledger) GetNonce(pk crypto.PublicKey) (uint64, error) {
	l.Lock()
	defer l.Unlock()

	account, err := access.NewAccount(pk)
	if err != nil {
		return 0, xerrors.Errorf("failed to resolve identity: %v", err)
	}

	return l.nonces[account], nil
}

// Read returns the committed value of the key, bypassing any staging.
func (l *Ledger) Read(key []byte) ([]byte, error) {
	l.Lock()
	defer l.Unlock()

	return l.trie.Get(key)
}

// Watch returns a channel populated with the events of the invocations
// accepted after the call.
func (l *Ledger) Watch(ctx context.Context) <-chan event.Event {
	return l.log.Watch(ctx)
}

// Events returns the events of the accepted invocations in order of
// appearance.
func (l *Ledger) Events() []event.Event {
	return l.log.All()
}

func (l *Ledger) reject(logger zerolog.Logger, message string) (execution.Result, error) {
	promRejected.Inc()

	logger.Info().Str("reason", message).Msg("invocation rejected")

	return execution.Result{Message: message}, nil
}

func (l *Ledger) restore() error {
	return l.db.Update([]byte(stateBucket), func(b kv.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			// the slices are only valid during the transaction
			key := append([]byte{}, k...)
			value := append([]byte{}, v...)

			return l.trie.Set(key, value)
		})
	})
}

// authorizer holds the accounts proven by the signatures of the current
// invocation.
//
// - implements access.Authorizer
type authorizer struct {
	accounts map[access.Account]struct{}
}

// RequireAuth implements access.Authorizer. It returns an error unless the
// account signed the invocation.
func (a authorizer) RequireAuth(account access.Account) error {
	if _, ok := a.accounts[account]; !ok {
		return policy.NewErrorf(policy.SignatureRequired,
			"account '%s' did not sign the invocation", account)
	}

	return nil
}
