// Package access implements the account directory and the role hierarchy
// deciding who may perform an action.
//
// Roles form a total order so that a higher tier satisfies every
// requirement of the tiers below it. Some operations instead require
// membership in an explicit set of roles. Both modes are exposed because
// they stop being equivalent as soon as the hierarchy is not linear.
package access

import (
	"strings"

	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/crypto"
	"golang.org/x/xerrors"
)

// Account is the opaque identity of an external caller. Accounts are
// compared by equality only.
type Account string

// NewAccount derives the account of a public key from its text form.
func NewAccount(pubkey crypto.PublicKey) (Account, error) {
	text, err := pubkey.MarshalText()
	if err != nil {
		return "", xerrors.Errorf("failed to marshal public key: %v", err)
	}

	return Account(text), nil
}

// Role is a tier in the total order used for authorization checks.
type Role uint32

func (r Role) String() string {
	switch r {
	case None:
		return "none"
	case User:
		return "user"
	case Moderator:
		return "moderator"
	case Admin:
		return "admin"
	case Owner:
		return "owner"
	default:
		return "unknown"
	}
}

const (
	// None is the tier of an account with no assignment.
	None Role = iota

	// User is the lowest assigned tier.
	User

	// Moderator sits between users and administrators.
	Moderator

	// Admin is the tier required to mutate the directory, the operational
	// state and the temporal constraints.
	Admin

	// Owner is the highest tier, held by the account that initialized the
	// instance.
	Owner
)

// Satisfies returns true when the held role meets the required tier. The
// order is defined by this function and nothing else relies on the integer
// representation of the roles.
func (r Role) Satisfies(required Role) bool {
	return r >= required
}

// Member returns true when the held role belongs to the allowed set.
// Membership is exact, a higher tier does not qualify.
func (r Role) Member(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}

	return false
}

// ParseRole returns the role named by the text.
func ParseRole(text string) (Role, error) {
	switch strings.ToLower(text) {
	case "none":
		return None, nil
	case "user":
		return User, nil
	case "moderator":
		return Moderator, nil
	case "admin":
		return Admin, nil
	case "owner":
		return Owner, nil
	default:
		return None, policy.NewErrorf(policy.InvalidEnum, "role '%s'", text)
	}
}

// Authorizer is the identity proof capability injected by the host. An
// implementation returns nil only when the account cryptographically
// authorized the current invocation.
type Authorizer interface {
	RequireAuth(account Account) error
}
