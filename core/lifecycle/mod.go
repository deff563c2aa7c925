// Package lifecycle implements the operational state machine gating the
// state-dependent actions of a contract instance.
//
// The state is recorded in the snapshot of the invocation so that a
// transition follows the commit or abort of the invocation that made it.
// An instance that never recorded a state reports Uninitialized and fails
// every gated action until an explicit transition to Active.
package lifecycle

import (
	"context"
	"sync"

	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// State is the type of the different possible operational states of a
// contract instance.
type State byte

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// defines prometheus metrics
var (
	promState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "custos_lifecycle_state",
		Help: "ordinal of the last operational state applied",
	})
)

const (
	// Uninitialized is the state of an instance before its first explicit
	// transition. Every gated action is denied.
	Uninitialized State = iota

	// Active is the only state in which gated actions may proceed.
	Active

	// Paused is a reversible halt of the instance.
	Paused

	// Frozen is a halt of the instance that only an explicit transition by
	// an administrator can lift.
	Frozen
)

// stateKey locates the operational state inside the instance namespace.
var stateKey = []byte("state")

func init() {
	custos.PromCollectors = append(custos.PromCollectors, promState)
}

// StateMachine is the interface to query and transition the operational
// state of a contract instance.
type StateMachine interface {
	// Current returns the state recorded in the snapshot, Uninitialized
	// when none is recorded.
	Current(snap store.Readable) (State, error)

	// Set unconditionally overwrites the recorded state. Gating who may
	// transition is the caller's concern.
	Set(snap store.Snapshot, next State) error

	// Require returns an error unless an action gated on the required
	// state may proceed.
	Require(snap store.Readable, required State) error

	// Watch returns a channel populated with the state changes applied by
	// the machine.
	Watch(ctx context.Context) <-chan State
}

// Machine is an implementation of a state machine gating contract actions.
// It reads and writes the state through the snapshot passed to each call,
// therefore a change is discarded alongside the staged writes when the
// invocation aborts.
//
// - implements lifecycle.StateMachine
type Machine struct {
	sync.Mutex

	logger  zerolog.Logger
	watcher core.Observable
}

// NewMachine creates a new state machine.
func NewMachine() *Machine {
	return &Machine{
		logger:  custos.Logger,
		watcher: core.NewWatcher(),
	}
}

// Current implements lifecycle.StateMachine. It returns the state recorded
// in the snapshot, Uninitialized when none is recorded.
func (m *Machine) Current(snap store.Readable) (State, error) {
	value, err := snap.Get(stateKey)
	if err != nil {
		return Uninitialized, xerrors.Errorf("failed to read state: %v", err)
	}

	if len(value) == 0 {
		return Uninitialized, nil
	}

	return State(value[0]), nil
}

// Set implements lifecycle.StateMachine. It unconditionally overwrites the
// recorded state and notifies the observers.
func (m *Machine) Set(snap store.Snapshot, next State) error {
	m.Lock()
	defer m.Unlock()

	err := snap.Set(stateKey, []byte{byte(next)})
	if err != nil {
		return xerrors.Errorf("failed to write state: %v", err)
	}

	promState.Set(float64(next))

	m.watcher.Notify(next)

	m.logger.Info().Stringer("state", next).Msg("operational state applied")

	return nil
}

// Require implements lifecycle.StateMachine. It returns an error unless an
// action gated on the required state may proceed: the instance must have
// been transitioned out of Uninitialized, must not be halted, and the
// required state must match the recorded one.
func (m *Machine) Require(snap store.Readable, required State) error {
	current, err := m.Current(snap)
	if err != nil {
		return err
	}

	switch current {
	case Uninitialized:
		return policy.NewError(policy.ContractNotInitialized)
	case Paused:
		return policy.NewError(policy.ContractPaused)
	case Frozen:
		return policy.NewError(policy.ContractFrozen)
	default:
		if required != current {
			return policy.NewErrorf(policy.InvalidStateTransition,
				"state is %v, need %v", current, required)
		}
	}

	return nil
}

// Watch implements lifecycle.StateMachine. It returns a channel populated
// with the state changes applied by the machine. The observer is
// unregistered when the context is done.
func (m *Machine) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 100)

	obs := observer{ch: ch}
	m.watcher.Add(obs)

	go func() {
		<-ctx.Done()
		m.watcher.Remove(obs)
		close(ch)
	}()

	return ch
}

// observer forwards the state changes to a watcher channel.
//
// - implements core.Observer
type observer struct {
	ch chan State
}

// NotifyCallback implements core.Observer. It pushes the state to the
// channel.
func (obs observer) NotifyCallback(event interface{}) {
	obs.ch <- event.(State)
}
