// Package eval implements the ordered evaluation of the policy checks
// gating an action: role, then operational state, then time lock, then
// cooldown. The first failing check denies the action and the later
// checks do not run.
//
// The identity proof of the caller is the host's concern. An evaluation
// assumes the host already verified that the caller authorized the
// invocation.
package eval

import (
	"github.com/custos-ledger/custos"
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/clock"
	"github.com/custos-ledger/custos/core/lifecycle"
	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/temporal"
	"github.com/prometheus/client_golang/prometheus"
)

// defines prometheus metrics
var (
	promAllowed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custos_policy_allowed_total",
		Help: "number of allowed evaluations",
	})

	promDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custos_policy_denied_total",
		Help: "number of denied evaluations by taxonomy class",
	}, []string{"class"})
)

func init() {
	custos.PromCollectors = append(custos.PromCollectors, promAllowed, promDenied)
}

// Rule describes the requirements gating one action.
type Rule struct {
	// MinRole is the hierarchy tier the caller must satisfy. The zero
	// value lets any caller through the role check.
	MinRole access.Role

	// AllowList is an exact set of roles allowed to perform the action.
	// When set it replaces the MinRole check.
	AllowList []access.Role

	// RequireActive demands the instance to be in the Active state.
	RequireActive bool

	// UseTimeLock denies the action while the global unlock timestamp
	// lies ahead.
	UseTimeLock bool

	// UseCooldown denies the action while the caller's cooldown window
	// is open, and consumes the window otherwise.
	UseCooldown bool
}

// Evaluator runs the policy checks of a rule in a fixed order.
type Evaluator struct {
	dir     access.Directory
	machine lifecycle.StateMachine
	gate    temporal.Gate
	clock   clock.Clock
}

// NewEvaluator creates an evaluator from the collaborators of the
// instance.
func NewEvaluator(dir access.Directory, machine lifecycle.StateMachine,
	gate temporal.Gate, c clock.Clock) *Evaluator {

	return &Evaluator{
		dir:     dir,
		machine: machine,
		gate:    gate,
		clock:   c,
	}
}

// Check runs the checks of the rule against the caller and returns the
// first failure verbatim. A blacklisted caller is denied even by the
// empty rule.
func (e *Evaluator) Check(snap store.Snapshot, caller access.Account, rule Rule) error {
	err := e.run(snap, caller, rule)
	if err != nil {
		reason, ok := policy.ReasonOf(err)
		if !ok {
			reason = policy.InvariantViolation
		}

		promDenied.WithLabelValues(reason.Class()).Inc()

		return err
	}

	promAllowed.Inc()

	return nil
}

// Evaluate runs the checks of the rule against the caller and returns the
// outcome as a decision.
func (e *Evaluator) Evaluate(snap store.Snapshot, caller access.Account, rule Rule) policy.Decision {
	return policy.DecisionOf(e.Check(snap, caller, rule))
}

func (e *Evaluator) run(snap store.Snapshot, caller access.Account, rule Rule) error {
	if len(rule.AllowList) > 0 {
		err := e.dir.RequireMember(snap, caller, rule.AllowList...)
		if err != nil {
			return err
		}
	} else {
		err := e.dir.Require(snap, caller, rule.MinRole)
		if err != nil {
			return err
		}
	}

	if rule.RequireActive {
		err := e.machine.Require(snap, lifecycle.Active)
		if err != nil {
			return err
		}
	}

	if rule.UseTimeLock {
		err := e.gate.CheckTimeLock(snap, e.clock.Timestamp())
		if err != nil {
			return err
		}
	}

	if rule.UseCooldown {
		err := e.gate.TouchCooldown(snap, string(caller), e.clock.Timestamp())
		if err != nil {
			return err
		}
	}

	return nil
}
