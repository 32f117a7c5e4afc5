package core

// Multisig (C8) implements the submit/approve/revoke/execute/withdraw
// transaction state machine of spec §4.6: a token identifies a pending
// transaction, accumulates approvals against a threshold, and either
// auto-executes once satisfied or waits for an explicit execute call,
// subject to a timeout. Grounded on the same mutex-guarded,
// Ledger-backed-map idiom as account_and_balance_operations.go and
// event_management.go, generalised to a keyed state-machine record.

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MultisigState is the transaction's current lifecycle position.
type MultisigState int

const (
	MultisigPending MultisigState = iota
	MultisigExecutedAutomatically
	MultisigExecutedManually
	MultisigWithdrawn
	MultisigExpired
)

// MultisigToken uniquely identifies a pending transaction: 32 bytes derived
// from (height, event-counter, submitter) in blockchain mode so it is
// reproducible across replays.
type MultisigToken [32]byte

func NewMultisigToken(height uint64, counter uint32, submitter Address) MultisigToken {
	buf := make([]byte, 8+4+len(submitter))
	binary.BigEndian.PutUint64(buf[0:8], height)
	binary.BigEndian.PutUint32(buf[8:12], counter)
	copy(buf[12:], submitter[:])
	return MultisigToken(sha256.Sum256(buf))
}

func (t MultisigToken) Bytes() []byte { return t[:] }

// MultisigTx is the durable record for one pending/resolved transaction.
type MultisigTx struct {
	Token      MultisigToken     `cbor:"0,keyasint"`
	Account    Address           `cbor:"1,keyasint"`
	Submitter  Address           `cbor:"2,keyasint"`
	Method     string            `cbor:"3,keyasint"`
	Data       []byte            `cbor:"4,keyasint"`
	Threshold  uint32            `cbor:"5,keyasint"`
	AutoExec   bool              `cbor:"6,keyasint"`
	ExpiresAt  time.Time         `cbor:"7,keyasint"`
	Approvers  map[string]bool   `cbor:"8,keyasint"`
	State      MultisigState     `cbor:"9,keyasint"`
	ExecResult []byte            `cbor:"10,keyasint,omitempty"`
}

func multisigKey(tok MultisigToken) []byte { return append([]byte("/multisig/"), tok.Bytes()...) }

// MultisigManager administers pending transactions for accounts whose
// Features include FeatureMultisig.
type MultisigManager struct {
	mu      sync.Mutex
	ledger  *Ledger
	account *AccountManager
}

func NewMultisigManager(l *Ledger, am *AccountManager) *MultisigManager {
	return &MultisigManager{ledger: l, account: am}
}

// Submit creates a new pending transaction on account, submitted by
// submitter, which must hold RoleCanMultisigSubmit.
func (m *MultisigManager) Submit(account, submitter Address, method string, data []byte, threshold uint32, autoExec bool, timeout time.Duration, height uint64, counter uint32) (MultisigToken, error) {
	if err := m.account.RequireFeature(account, FeatureMultisig); err != nil {
		return MultisigToken{}, err
	}
	if err := m.account.VerifyACL(account, submitter, RoleCanMultisigSubmit); err != nil {
		return MultisigToken{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tok := NewMultisigToken(height, counter, submitter)
	tx := MultisigTx{
		Token:     tok,
		Account:   account,
		Submitter: submitter,
		Method:    method,
		Data:      data,
		Threshold: threshold,
		AutoExec:  autoExec,
		ExpiresAt: time.Now().UTC().Add(timeout),
		Approvers: map[string]bool{},
		State:     MultisigPending,
	}
	if err := m.put(tx); err != nil {
		return MultisigToken{}, err
	}
	return tok, nil
}

func (m *MultisigManager) put(tx MultisigTx) error {
	b, err := ledgerCBOR.Marshal(tx)
	if err != nil {
		return err
	}
	return m.ledger.SetState(multisigKey(tx.Token), b)
}

// Get loads a pending/resolved transaction by token.
func (m *MultisigManager) Get(tok MultisigToken) (MultisigTx, error) {
	v, err := m.ledger.GetState(multisigKey(tok))
	if err != nil {
		return MultisigTx{}, NewReason(CodeTokenNotFound, "multisig transaction not found", nil)
	}
	var tx MultisigTx
	if err := cbor.Unmarshal(v, &tx); err != nil {
		return MultisigTx{}, err
	}
	return tx, nil
}

// Approve records approver's vote, executing automatically once threshold
// is reached and AutoExec is set.
func (m *MultisigManager) Approve(tok MultisigToken, approver Address, now time.Time, exec func(tx MultisigTx) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.getLocked(tok)
	if err != nil {
		return err
	}
	if err := m.checkOpenLocked(&tx, now); err != nil {
		return err
	}
	if err := m.account.VerifyACL(tx.Account, approver, RoleCanMultisigApprove); err != nil {
		return err
	}
	tx.Approvers[approver.String()] = true
	if uint32(len(tx.Approvers)) >= tx.Threshold && tx.AutoExec {
		result, err := exec(tx)
		if err != nil {
			return err
		}
		tx.State = MultisigExecutedAutomatically
		tx.ExecResult = result
	}
	return m.put(tx)
}

// Execute manually runs a transaction that met its threshold without
// auto-executing.
func (m *MultisigManager) Execute(tok MultisigToken, caller Address, now time.Time, exec func(tx MultisigTx) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.getLocked(tok)
	if err != nil {
		return err
	}
	if err := m.checkOpenLocked(&tx, now); err != nil {
		return err
	}
	if uint32(len(tx.Approvers)) < tx.Threshold {
		return NewReason(CodeThresholdNotMet, "multisig transaction has not met its approval threshold", nil)
	}
	result, err := exec(tx)
	if err != nil {
		return err
	}
	tx.State = MultisigExecutedManually
	tx.ExecResult = result
	return m.put(tx)
}

// Revoke removes approver's vote from a still-pending transaction.
func (m *MultisigManager) Revoke(tok MultisigToken, approver Address, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.getLocked(tok)
	if err != nil {
		return err
	}
	if err := m.checkOpenLocked(&tx, now); err != nil {
		return err
	}
	delete(tx.Approvers, approver.String())
	return m.put(tx)
}

// Withdraw cancels a pending transaction; only the original submitter (or
// the account Owner) may withdraw.
func (m *MultisigManager) Withdraw(tok MultisigToken, caller Address, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.getLocked(tok)
	if err != nil {
		return err
	}
	if err := m.checkOpenLocked(&tx, now); err != nil {
		return err
	}
	if !caller.Matches(tx.Submitter) {
		if err := m.account.VerifyACL(tx.Account, caller, RoleOwner); err != nil {
			return NewReason(CodeOwnerOnly, "only the submitter or account owner may withdraw", nil)
		}
	}
	tx.State = MultisigWithdrawn
	return m.put(tx)
}

func (m *MultisigManager) getLocked(tok MultisigToken) (MultisigTx, error) {
	v, err := m.ledger.GetState(multisigKey(tok))
	if err != nil {
		return MultisigTx{}, NewReason(CodeTokenNotFound, "multisig transaction not found", nil)
	}
	var tx MultisigTx
	if err := cbor.Unmarshal(v, &tx); err != nil {
		return MultisigTx{}, err
	}
	return tx, nil
}

func (m *MultisigManager) checkOpenLocked(tx *MultisigTx, now time.Time) error {
	if tx.State != MultisigPending {
		return NewReason(CodeAlreadyExecuted, "multisig transaction is no longer pending", nil)
	}
	if now.After(tx.ExpiresAt) {
		tx.State = MultisigExpired
		_ = m.put(*tx)
		return NewReason(CodeMultisigTimedOut, "multisig transaction has expired", nil)
	}
	return nil
}

// ExpireStale scans every pending transaction and marks those past their
// ExpiresAt as MultisigExpired, called from the ABCI adapter's FinalizeBlock
// (spec §4.6).
func (m *MultisigManager) ExpireStale(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.ledger.PrefixIterator([]byte("/multisig/"))
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		var tx MultisigTx
		if err := cbor.Unmarshal(it.Value(), &tx); err != nil {
			continue
		}
		if tx.State == MultisigPending && now.After(tx.ExpiresAt) {
			tx.State = MultisigExpired
			if err := m.put(tx); err != nil {
				return err
			}
		}
	}
	return nil
}
