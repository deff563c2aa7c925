package access

import (
	"encoding/binary"

	"github.com/custos-ledger/custos/core/policy"
	"github.com/custos-ledger/custos/core/store"
	"golang.org/x/xerrors"
)

// Storage keys of the directory inside the instance namespace.
var (
	ownerKey        = []byte("owner")
	rolePrefix      = "role:"
	blacklistPrefix = "bl:"
)

// Directory persists the role assignments of a contract instance through
// the snapshot passed to each call. Mutations are gated on the caller
// holding the Admin tier or above, except for Init which claims an
// unowned instance.
type Directory struct{}

// NewDirectory creates a new account directory.
func NewDirectory() Directory {
	return Directory{}
}

// Init records the owner of the instance and grants it the Owner role so
// that gated operations work right after deployment. It fails when the
// instance already has an owner.
func (d Directory) Init(snap store.Snapshot, owner Account) error {
	value, err := snap.Get(ownerKey)
	if err != nil {
		return xerrors.Errorf("failed to read owner: %v", err)
	}

	if len(value) > 0 {
		return policy.NewErrorf(policy.ResourceAlreadyExists, "instance already owned")
	}

	err = snap.Set(ownerKey, []byte(owner))
	if err != nil {
		return xerrors.Errorf("failed to write owner: %v", err)
	}

	return d.setRole(snap, owner, Owner)
}

// Owner returns the owner account, empty when the instance was never
// initialized.
func (d Directory) Owner(snap store.Readable) (Account, error) {
	value, err := snap.Get(ownerKey)
	if err != nil {
		return "", xerrors.Errorf("failed to read owner: %v", err)
	}

	return Account(value), nil
}

// RoleOf returns the role assigned to the account, None when unassigned.
// No authorization is required to read it.
func (d Directory) RoleOf(snap store.Readable, account Account) (Role, error) {
	value, err := snap.Get(roleKey(account))
	if err != nil {
		return None, xerrors.Errorf("failed to read role: %v", err)
	}

	if len(value) == 0 {
		return None, nil
	}

	if len(value) != 4 {
		return None, xerrors.Errorf("malformed role of %d bytes", len(value))
	}

	return Role(binary.BigEndian.Uint32(value)), nil
}

// HasRole returns true when the account holds exactly the given role.
func (d Directory) HasRole(snap store.Readable, account Account, role Role) (bool, error) {
	current, err := d.RoleOf(snap, account)
	if err != nil {
		return false, err
	}

	return current == role, nil
}

// Grant assigns the role to the account, overwriting any prior
// assignment. The caller must hold the Admin tier or above.
func (d Directory) Grant(snap store.Snapshot, caller, account Account, role Role) error {
	err := d.RequireAdmin(snap, caller)
	if err != nil {
		return err
	}

	return d.setRole(snap, account, role)
}

// Revoke removes the role assignment of the account. Revoking an account
// with no assignment is a no-op. The caller must hold the Admin tier or
// above.
func (d Directory) Revoke(snap store.Snapshot, caller, account Account) error {
	err := d.RequireAdmin(snap, caller)
	if err != nil {
		return err
	}

	err = snap.Delete(roleKey(account))
	if err != nil {
		return xerrors.Errorf("failed to delete role: %v", err)
	}

	return nil
}

// Require returns an error unless the account satisfies the required tier
// of the hierarchy.
func (d Directory) Require(snap store.Readable, account Account, required Role) error {
	err := d.checkBlacklist(snap, account)
	if err != nil {
		return err
	}

	role, err := d.RoleOf(snap, account)
	if err != nil {
		return err
	}

	if !role.Satisfies(required) {
		return policy.NewErrorf(policy.InsufficientRole, "have %v, need %v", role, required)
	}

	return nil
}

// RequireMember returns an error unless the role of the account belongs
// to the allowed set.
func (d Directory) RequireMember(snap store.Readable, account Account, allowed ...Role) error {
	err := d.checkBlacklist(snap, account)
	if err != nil {
		return err
	}

	role, err := d.RoleOf(snap, account)
	if err != nil {
		return err
	}

	if !role.Member(allowed...) {
		return policy.NewErrorf(policy.InsufficientRole, "%v is not an allowed role", role)
	}

	return nil
}

// RequireAdmin returns an error unless the account may administer the
// instance: the instance must be initialized and the account must hold
// the Admin tier or above.
func (d Directory) RequireAdmin(snap store.Readable, account Account) error {
	err := d.requireInit(snap)
	if err != nil {
		return err
	}

	err = d.checkBlacklist(snap, account)
	if err != nil {
		return err
	}

	role, err := d.RoleOf(snap, account)
	if err != nil {
		return err
	}

	if !role.Satisfies(Admin) {
		return policy.NewErrorf(policy.NotAdmin, "have %v", role)
	}

	return nil
}

// RequireOwner returns an error unless the account is the one that
// initialized the instance. The check compares accounts, not roles, so it
// keeps denying accounts that were granted the Owner role afterwards.
func (d Directory) RequireOwner(snap store.Readable, account Account) error {
	owner, err := d.Owner(snap)
	if err != nil {
		return err
	}

	if owner == "" {
		return policy.NewError(policy.ContractNotInitialized)
	}

	err = d.checkBlacklist(snap, account)
	if err != nil {
		return err
	}

	if account != owner {
		return policy.NewErrorf(policy.NotOwner, "account is not the owner")
	}

	return nil
}

// Blacklist bars the account from every check until the bar is lifted.
// The caller must hold the Admin tier or above.
func (d Directory) Blacklist(snap store.Snapshot, caller, account Account) error {
	err := d.RequireAdmin(snap, caller)
	if err != nil {
		return err
	}

	err = snap.Set(blacklistKey(account), []byte{1})
	if err != nil {
		return xerrors.Errorf("failed to write blacklist: %v", err)
	}

	return nil
}

// Lift removes the account from the blacklist. The caller must hold the
// Admin tier or above.
func (d Directory) Lift(snap store.Snapshot, caller, account Account) error {
	err := d.RequireAdmin(snap, caller)
	if err != nil {
		return err
	}

	err = snap.Delete(blacklistKey(account))
	if err != nil {
		return xerrors.Errorf("failed to delete blacklist: %v", err)
	}

	return nil
}

// IsBlacklisted returns true when the account is barred.
func (d Directory) IsBlacklisted(snap store.Readable, account Account) (bool, error) {
	value, err := snap.Get(blacklistKey(account))
	if err != nil {
		return false, xerrors.Errorf("failed to read blacklist: %v", err)
	}

	return len(value) > 0, nil
}

func (d Directory) checkBlacklist(snap store.Readable, account Account) error {
	listed, err := d.IsBlacklisted(snap, account)
	if err != nil {
		return err
	}

	if listed {
		return policy.NewErrorf(policy.Blacklisted, "account is barred")
	}

	return nil
}

func (d Directory) requireInit(snap store.Readable) error {
	owner, err := d.Owner(snap)
	if err != nil {
		return err
	}

	if owner == "" {
		return policy.NewError(policy.ContractNotInitialized)
	}

	return nil
}

func (d Directory) setRole(snap store.Snapshot, account Account, role Role) error {
	buffer := make([]byte, 4)
	binary.BigEndian.PutUint32(buffer, uint32(role))

	err := snap.Set(roleKey(account), buffer)
	if err != nil {
		return xerrors.Errorf("failed to write role: %v", err)
	}

	return nil
}

func roleKey(account Account) []byte {
	return []byte(rolePrefix + string(account))
}

func blacklistKey(account Account) []byte {
	return []byte(blacklistPrefix + string(account))
}
