package core

// Account (C7) implements multi-role accounts: a pluggable feature set
// (AccountLedger, Multisig, AccountKvStore, TokenAccountLedger) and a
// role-based ACL enforced per account. Grounded on this file's original
// AccountManager (mutex-guarded, address-keyed state) generalised from a
// single coin-balance map into a full account record store.

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Role is a single permission grantable to an identity on an account.
type Role string

const (
	RoleOwner                Role = "owner"
	RoleCanLedgerTransact    Role = "can_ledger_transact"
	RoleCanKvStorePut        Role = "can_kv_store_put"
	RoleCanKvStoreDisable    Role = "can_kv_store_disable"
	RoleCanKvStoreTransfer   Role = "can_kv_store_transfer"
	RoleCanMultisigSubmit    Role = "can_multisig_submit"
	RoleCanMultisigApprove   Role = "can_multisig_approve"
	RoleCanTokensCreate      Role = "can_tokens_create"
	RoleCanTokensMint        Role = "can_tokens_mint"
	RoleCanTokensBurn        Role = "can_tokens_burn"
	RoleCanTokensUpdate      Role = "can_tokens_update"
	RoleCanTokensAddExtInfo  Role = "can_tokens_add_ext_info"
	RoleCanTokensDropExtInfo Role = "can_tokens_remove_ext_info"
)

// Feature names a capability an account exposes; each maps to a subset of
// the operations other core/*.go modules provide.
type Feature string

const (
	FeatureAccountLedger      Feature = "account.ledger"
	FeatureMultisig           Feature = "account.multisig"
	FeatureAccountKvStore     Feature = "account.kvstore"
	FeatureTokenAccountLedger Feature = "account.tokenledger"
)

// Account is the durable record for one multi-role account.
type Account struct {
	Address     Address            `cbor:"0,keyasint"`
	Description string             `cbor:"1,keyasint,omitempty"`
	Roles       map[string][]Role  `cbor:"2,keyasint"` // identity.String() -> roles
	Features    map[Feature]bool   `cbor:"3,keyasint"`
}

func accountKey(addr Address) []byte { return []byte("/accounts/" + addr.String()) }

// AccountManager creates and administers accounts backed by a Ledger's
// storage.
type AccountManager struct {
	ledger *Ledger
	mu     sync.RWMutex
}

func NewAccountManager(l *Ledger) *AccountManager { return &AccountManager{ledger: l} }

// CreateAccount registers a new account owned by owner. Both owner and the
// account's own address are granted RoleOwner (spec §4.5's self-Owner
// invariant).
func (am *AccountManager) CreateAccount(addr, owner Address, description string, features ...Feature) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	if _, err := am.ledger.GetState(accountKey(addr)); err == nil {
		return NewReason(CodeInvalidSender, "account {addr} already exists", map[string]string{"addr": addr.String()})
	}
	featSet := make(map[Feature]bool, len(features))
	for _, f := range features {
		featSet[f] = true
	}
	acct := Account{
		Address:     addr,
		Description: description,
		Roles:       map[string][]Role{owner.String(): {RoleOwner}},
		Features:    featSet,
	}
	acct.Roles[addr.String()] = []Role{RoleOwner}
	return am.put(acct)
}

func (am *AccountManager) put(acct Account) error {
	b, err := ledgerCBOR.Marshal(acct)
	if err != nil {
		return err
	}
	return am.ledger.SetState(accountKey(acct.Address), b)
}

// Get loads the account record for addr.
func (am *AccountManager) Get(addr Address) (Account, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	v, err := am.ledger.GetState(accountKey(addr))
	if err != nil {
		return Account{}, NewReason(CodeInvalidSender, "account {addr} not found", map[string]string{"addr": addr.String()})
	}
	var acct Account
	if err := cbor.Unmarshal(v, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// DeleteAccount removes addr's account record entirely.
func (am *AccountManager) DeleteAccount(addr Address) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	if _, err := am.ledger.GetState(accountKey(addr)); err != nil {
		return NewReason(CodeInvalidSender, "account {addr} not found", map[string]string{"addr": addr.String()})
	}
	return am.ledger.DeleteState(accountKey(addr))
}

// AddRoles grants roles to identity on addr's account. Only an existing
// Owner may call this in practice; callers enforce that via VerifyACL
// before mutating.
func (am *AccountManager) AddRoles(addr, identity Address, roles ...Role) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	acct, err := am.getLocked(addr)
	if err != nil {
		return err
	}
	existing := acct.Roles[identity.String()]
	for _, r := range roles {
		if !hasRole(existing, r) {
			existing = append(existing, r)
		}
	}
	acct.Roles[identity.String()] = existing
	return am.put(acct)
}

// RemoveRoles revokes roles from identity on addr's account. An account
// always retains Owner on its own self-binding (spec §3): removing
// RoleOwner from the identity == addr binding is rejected when it is the
// account's last remaining Owner grant.
func (am *AccountManager) RemoveRoles(addr, identity Address, roles ...Role) error {
	am.mu.Lock()
	defer am.mu.Unlock()
	acct, err := am.getLocked(addr)
	if err != nil {
		return err
	}
	if identity == addr && hasRole(roles, RoleOwner) && isLastOwner(acct, identity) {
		return NewReason(CodeOwnerOnly, "account {addr} must keep Owner on its own self-binding",
			map[string]string{"addr": addr.String()})
	}
	existing := acct.Roles[identity.String()]
	out := existing[:0]
	for _, have := range existing {
		if !hasRole(roles, have) {
			out = append(out, have)
		}
	}
	if len(out) == 0 {
		delete(acct.Roles, identity.String())
	} else {
		acct.Roles[identity.String()] = out
	}
	return am.put(acct)
}

func (am *AccountManager) getLocked(addr Address) (Account, error) {
	v, err := am.ledger.GetState(accountKey(addr))
	if err != nil {
		return Account{}, NewReason(CodeInvalidSender, "account {addr} not found", map[string]string{"addr": addr.String()})
	}
	var acct Account
	if err := cbor.Unmarshal(v, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// isLastOwner reports whether identity is the only identity holding
// RoleOwner on acct.
func isLastOwner(acct Account, identity Address) bool {
	for id, roles := range acct.Roles {
		if id == identity.String() {
			continue
		}
		if hasRole(roles, RoleOwner) {
			return false
		}
	}
	return true
}

func hasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// VerifyACL checks that identity holds role on addr's account, Owner
// implicitly satisfying every role (spec §4.5).
func (am *AccountManager) VerifyACL(addr, identity Address, role Role) error {
	acct, err := am.Get(addr)
	if err != nil {
		return err
	}
	roles := acct.Roles[identity.String()]
	if hasRole(roles, RoleOwner) || hasRole(roles, role) {
		return nil
	}
	return ErrRoleMissing(identity, string(role))
}

// RequireFeature checks that addr's account exposes feature.
func (am *AccountManager) RequireFeature(addr Address, feature Feature) error {
	acct, err := am.Get(addr)
	if err != nil {
		return err
	}
	if !acct.Features[feature] {
		return ErrFeatureMissing(addr, string(feature))
	}
	return nil
}
