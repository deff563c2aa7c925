// Package policy defines the closed set of denial reasons shared by the
// authorization, lifecycle and temporal checks, the error type carrying
// them, and the pure parameter validators.
//
// Checks deny by returning an *Error so that callers can react to the kind
// of failure without parsing messages. The reason codes are grouped by
// hundreds: 1xx for parameter validation, 2xx for state validation and 3xx
// for authorization.
package policy

import (
	"errors"
	"fmt"
)

// DenyReason is the code of a denied policy check.
type DenyReason uint32

// Parameter validation failures.
const (
	InvalidAmount DenyReason = iota + 100
	AmountTooSmall
	AmountTooLarge
	InvalidAddress
	InvalidString
	StringTooShort
	StringTooLong
	InvalidEnum
	InvalidArray
	ArrayTooSmall
	ArrayTooLarge
	InvalidTimestamp
	TimestampInPast
	TimestampInDistantFuture
)

// State validation failures.
const (
	ContractNotInitialized DenyReason = iota + 200
	ContractPaused
	ContractFrozen
	InsufficientBalance
	InsufficientAllowance
	ResourceNotFound
	ResourceAlreadyExists
	InvalidStateTransition
	InvariantViolation
	RateLimitExceeded
	CooldownActive
	ActionTimeLocked
)

// Authorization failures.
const (
	Unauthorized DenyReason = iota + 300
	NotAdmin
	NotOwner
	InsufficientRole
	SignatureRequired
	MultiSigRequired
	InvalidSignature
	ExpiredSignature
	WrongContract
	Blacklisted
	InsufficientApprovals
)

func (r DenyReason) String() string {
	switch r {
	case InvalidAmount:
		return "invalid amount"
	case AmountTooSmall:
		return "amount too small"
	case AmountTooLarge:
		return "amount too large"
	case InvalidAddress:
		return "invalid address"
	case InvalidString:
		return "invalid string"
	case StringTooShort:
		return "string too short"
	case StringTooLong:
		return "string too long"
	case InvalidEnum:
		return "invalid enum"
	case InvalidArray:
		return "invalid array"
	case ArrayTooSmall:
		return "array too small"
	case ArrayTooLarge:
		return "array too large"
	case InvalidTimestamp:
		return "invalid timestamp"
	case TimestampInPast:
		return "timestamp in past"
	case TimestampInDistantFuture:
		return "timestamp in distant future"
	case ContractNotInitialized:
		return "contract not initialized"
	case ContractPaused:
		return "contract paused"
	case ContractFrozen:
		return "contract frozen"
	case InsufficientBalance:
		return "insufficient balance"
	case InsufficientAllowance:
		return "insufficient allowance"
	case ResourceNotFound:
		return "resource not found"
	case ResourceAlreadyExists:
		return "resource already exists"
	case InvalidStateTransition:
		return "invalid state transition"
	case InvariantViolation:
		return "invariant violation"
	case RateLimitExceeded:
		return "rate limit exceeded"
	case CooldownActive:
		return "cooldown active"
	case ActionTimeLocked:
		return "action time locked"
	case Unauthorized:
		return "unauthorized"
	case NotAdmin:
		return "not admin"
	case NotOwner:
		return "not owner"
	case InsufficientRole:
		return "insufficient role"
	case SignatureRequired:
		return "signature required"
	case MultiSigRequired:
		return "multisig required"
	case InvalidSignature:
		return "invalid signature"
	case ExpiredSignature:
		return "expired signature"
	case WrongContract:
		return "wrong contract"
	case Blacklisted:
		return "blacklisted"
	case InsufficientApprovals:
		return "insufficient approvals"
	default:
		return fmt.Sprintf("deny %d", uint32(r))
	}
}

// Class returns the taxonomy group of the reason. It is used to label the
// evaluation metrics.
func (r DenyReason) Class() string {
	switch {
	case r == Unauthorized:
		return "identity"
	case r == CooldownActive || r == ActionTimeLocked:
		return "temporal"
	case r >= 100 && r < 200:
		return "input"
	case r >= 200 && r < 300:
		return "state"
	case r >= 300 && r < 400:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a denial returned by a policy check.
//
// - implements error
type Error struct {
	reason DenyReason
	msg    string
}

// NewError creates an error carrying the deny reason.
func NewError(reason DenyReason) error {
	return &Error{reason: reason}
}

// NewErrorf creates an error carrying the deny reason and a detail message.
func NewErrorf(reason DenyReason, format string, args ...interface{}) error {
	return &Error{
		reason: reason,
		msg:    fmt.Sprintf(format, args...),
	}
}

// Error implements error.
func (e *Error) Error() string {
	if e.msg == "" {
		return e.reason.String()
	}

	return fmt.Sprintf("%v: %s", e.reason, e.msg)
}

// Reason returns the deny reason of the error.
func (e *Error) Reason() DenyReason {
	return e.reason
}

// ReasonOf returns the deny reason carried by the error, or false when the
// error does not come from a policy check.
func ReasonOf(err error) (DenyReason, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.reason, true
	}

	return 0, false
}

// Decision is the outcome of evaluating the policy checks for one requested
// action. It is computed per call and never persisted.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Message string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision carrying the reason.
func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// DecisionOf converts the outcome of a check into a decision. An error that
// does not carry a deny reason indicates a broken environment rather than a
// rule violation and is mapped to InvariantViolation.
func DecisionOf(err error) Decision {
	if err == nil {
		return Allow()
	}

	reason, ok := ReasonOf(err)
	if !ok {
		reason = InvariantViolation
	}

	return Decision{
		Reason:  reason,
		Message: err.Error(),
	}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}

	if d.Message != "" {
		return fmt.Sprintf("denied: %s", d.Message)
	}

	return fmt.Sprintf("denied: %v", d.Reason)
}
