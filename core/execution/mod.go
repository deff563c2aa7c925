// Package execution defines the service to execute a transaction against a
// contract instance.
package execution

import (
	"github.com/custos-ledger/custos/core/access"
	"github.com/custos-ledger/custos/core/event"
	"github.com/custos-ledger/custos/core/store"
	"github.com/custos-ledger/custos/core/txn"
)

// Step is the smallest unit of execution. It contains the transaction being
// executed and the capabilities the host scoped to this invocation: the
// authorizer bound to the identities that signed the transaction, so that a
// contract can demand a proof of identity for the accounts it acts upon, and
// the emitter collecting the events of the invocation.
type Step struct {
	Current txn.Transaction
	Auth    access.Authorizer
	Events  event.Emitter
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a chance to the execution to explain why a transaction
	// has failed.
	Message string
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the
	// result of it.
	Execute(snap store.Snapshot, step Step) (Result, error)
}
