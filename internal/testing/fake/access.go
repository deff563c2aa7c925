package fake

import (
	"github.com/custos-ledger/custos/core/access"
)

// Authorizer is a fake implementation of an authorizer. It records the
// accounts it is asked about.
//
// - implements access.Authorizer
type Authorizer struct {
	err     error
	allowed map[access.Account]struct{}
	Call    *Call
}

// NewAuthorizer returns an authorizer that approves every account.
func NewAuthorizer() *Authorizer {
	return &Authorizer{Call: NewCall()}
}

// NewBadAuthorizer returns an authorizer that refuses every account.
func NewBadAuthorizer() *Authorizer {
	return &Authorizer{err: fakeErr, Call: NewCall()}
}

// NewSelectiveAuthorizer returns an authorizer that approves only the given
// accounts.
func NewSelectiveAuthorizer(accounts ...access.Account) *Authorizer {
	allowed := make(map[access.Account]struct{})
	for _, account := range accounts {
		allowed[account] = struct{}{}
	}

	return &Authorizer{allowed: allowed, Call: NewCall()}
}

// RequireAuth implements access.Authorizer.
func (a *Authorizer) RequireAuth(account access.Account) error {
	a.Call.Add(account)

	if a.allowed != nil {
		if _, ok := a.allowed[account]; !ok {
			return fakeErr
		}
	}

	return a.err
}
