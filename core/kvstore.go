package core

// KVStore (C9) is the general-purpose key/value facility with per-key
// owner ACL, a disable-with-reason state, and ownership transfer (spec
// §4.7). Grounded on storage.go's authenticated KV layer and
// access_control.go's owner/role-checking idiom.

import (
	"github.com/fxamacker/cbor/v2"
)

const (
	maxKVKeySize   = 248
	maxKVValueSize = 64000
)

// KVEntry is the durable record for one user key: its value, owner, and
// (if disabled) the reason given.
type KVEntry struct {
	Key      []byte  `cbor:"0,keyasint"`
	Value    []byte  `cbor:"1,keyasint"`
	Owner    Address `cbor:"2,keyasint"`
	Disabled bool    `cbor:"3,keyasint"`
	Reason   string  `cbor:"4,keyasint,omitempty"`
}

func kvEntryKey(key []byte) []byte { return append([]byte("/kvstore/"), key...) }

// KVStore administers user keys backed by a Ledger's storage.
type KVStore struct {
	ledger *Ledger
}

func NewKVStore(l *Ledger) *KVStore { return &KVStore{ledger: l} }

// Put creates or overwrites key, owned by owner. Overwriting requires
// owner to match the existing entry's owner (or an alternate owner with
// RoleCanKvStorePut, checked by the caller via AccountManager.VerifyACL in
// account_and_balance_operations.go before calling Put).
func (s *KVStore) Put(key, value []byte, owner Address) error {
	if len(key) == 0 || len(key) > maxKVKeySize {
		return NewReason(CodeKeyTooLarge, "key length {len} exceeds the {max}-byte limit",
			map[string]string{"len": itoa(len(key)), "max": itoa(maxKVKeySize)})
	}
	if len(value) > maxKVValueSize {
		return NewReason(CodeValueTooLarge, "value length {len} exceeds the {max}-byte limit",
			map[string]string{"len": itoa(len(value)), "max": itoa(maxKVValueSize)})
	}
	existing, err := s.get(key)
	if err == nil {
		if existing.Disabled {
			return ErrKeyDisabled(key)
		}
		if !existing.Owner.Matches(owner) {
			return NewReason(CodeKVPermissionDenied, "key {key} is owned by another identity", map[string]string{"key": string(key)})
		}
	}
	entry := KVEntry{Key: key, Value: value, Owner: owner}
	return s.put(entry)
}

func (s *KVStore) put(e KVEntry) error {
	b, err := ledgerCBOR.Marshal(e)
	if err != nil {
		return err
	}
	return s.ledger.SetState(kvEntryKey(e.Key), b)
}

func (s *KVStore) get(key []byte) (KVEntry, error) {
	v, err := s.ledger.GetState(kvEntryKey(key))
	if err != nil {
		return KVEntry{}, ErrKeyNotFound(key)
	}
	var e KVEntry
	if err := cbor.Unmarshal(v, &e); err != nil {
		return KVEntry{}, err
	}
	return e, nil
}

// Get reads key's value. Disabled keys return CodeKeyDisabled.
func (s *KVStore) Get(key []byte) ([]byte, error) {
	e, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if e.Disabled {
		return nil, ErrKeyDisabled(key)
	}
	return e.Value, nil
}

// Query returns the full entry (including disabled/owner state) without
// the disabled-read restriction Get applies.
func (s *KVStore) Query(key []byte) (KVEntry, error) { return s.get(key) }

// Disable marks key unusable with reason. Only the owning identity may
// disable an already-enabled key, and an empty key cannot be disabled.
func (s *KVStore) Disable(key []byte, caller Address, reason string) error {
	if len(key) == 0 {
		return NewReason(CodeCannotDisableEmpty, "cannot disable an empty key", nil)
	}
	e, err := s.get(key)
	if err != nil {
		return err
	}
	if !e.Owner.Matches(caller) {
		return NewReason(CodeKVPermissionDenied, "only the owner may disable key {key}", map[string]string{"key": string(key)})
	}
	e.Disabled = true
	e.Reason = reason
	return s.put(e)
}

// TransferOwnership reassigns key's owner. The caller must be the current
// owner.
func (s *KVStore) TransferOwnership(key []byte, caller, newOwner Address) error {
	e, err := s.get(key)
	if err != nil {
		return err
	}
	if !e.Owner.Matches(caller) {
		return NewReason(CodeKVPermissionDenied, "only the owner may transfer key {key}", map[string]string{"key": string(key)})
	}
	e.Owner = newOwner
	return s.put(e)
}
