package core

import (
	"testing"
	"time"
)

func newMultisigFixture(t *testing.T) (*MultisigManager, Address, Address, Address) {
	t.Helper()
	led := testLedger(t)
	am := NewAccountManager(led)
	mm := NewMultisigManager(led, am)

	account := NewPublicKeyAddress([]byte("ms-account"))
	owner := NewPublicKeyAddress([]byte("ms-owner"))
	approver := NewPublicKeyAddress([]byte("ms-approver"))

	if err := am.CreateAccount(account, owner, "multisig account", FeatureMultisig); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := am.AddRoles(account, owner, RoleCanMultisigSubmit); err != nil {
		t.Fatalf("AddRoles submit: %v", err)
	}
	if err := am.AddRoles(account, approver, RoleCanMultisigApprove); err != nil {
		t.Fatalf("AddRoles approve: %v", err)
	}
	return mm, account, owner, approver
}

func TestMultisigSubmitApproveAutoExecute(t *testing.T) {
	mm, account, owner, approver := newMultisigFixture(t)

	tok, err := mm.Submit(account, owner, "ledger.send", []byte("data"), 2, true, time.Hour, 1, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	executed := false
	exec := func(tx MultisigTx) ([]byte, error) {
		executed = true
		return []byte("result"), nil
	}

	now := time.Now().UTC()
	if err := mm.Approve(tok, owner, now, exec); err != nil {
		t.Fatalf("Approve 1: %v", err)
	}
	if executed {
		t.Fatalf("should not execute before threshold reached")
	}
	if err := mm.Approve(tok, approver, now, exec); err != nil {
		t.Fatalf("Approve 2: %v", err)
	}
	if !executed {
		t.Fatalf("expected auto-execution once threshold reached")
	}

	tx, err := mm.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tx.State != MultisigExecutedAutomatically {
		t.Fatalf("unexpected state: %v", tx.State)
	}
	if string(tx.ExecResult) != "result" {
		t.Fatalf("unexpected exec result: %q", tx.ExecResult)
	}
}

func TestMultisigManualExecute(t *testing.T) {
	mm, account, owner, approver := newMultisigFixture(t)

	tok, err := mm.Submit(account, owner, "ledger.send", nil, 2, false, time.Hour, 1, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	now := time.Now().UTC()
	if err := mm.Approve(tok, owner, now, nil); err != nil {
		t.Fatalf("Approve 1: %v", err)
	}

	exec := func(tx MultisigTx) ([]byte, error) { return []byte("manual"), nil }
	if err := mm.Execute(tok, owner, now, exec); err == nil {
		t.Fatalf("expected error executing before threshold met")
	}
	if err := mm.Approve(tok, approver, now, nil); err != nil {
		t.Fatalf("Approve 2: %v", err)
	}
	if err := mm.Execute(tok, owner, now, exec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	tx, err := mm.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tx.State != MultisigExecutedManually {
		t.Fatalf("unexpected state: %v", tx.State)
	}
}

func TestMultisigRevokeAndWithdraw(t *testing.T) {
	mm, account, owner, approver := newMultisigFixture(t)

	tok, err := mm.Submit(account, owner, "ledger.send", nil, 2, false, time.Hour, 1, 2)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	now := time.Now().UTC()
	if err := mm.Approve(tok, approver, now, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := mm.Revoke(tok, approver, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	tx, err := mm.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tx.Approvers) != 0 {
		t.Fatalf("expected approvers cleared after revoke, got %v", tx.Approvers)
	}

	if err := mm.Withdraw(tok, approver, now); err == nil {
		t.Fatalf("expected error withdrawing as non-submitter/non-owner")
	}
	if err := mm.Withdraw(tok, owner, now); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	tx, err = mm.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tx.State != MultisigWithdrawn {
		t.Fatalf("unexpected state after withdraw: %v", tx.State)
	}
	if err := mm.Approve(tok, approver, now, nil); err == nil {
		t.Fatalf("expected error approving a withdrawn transaction")
	}
}

func TestMultisigExpireStale(t *testing.T) {
	mm, account, owner, _ := newMultisigFixture(t)

	tok, err := mm.Submit(account, owner, "ledger.send", nil, 2, false, time.Millisecond, 1, 3)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := mm.ExpireStale(time.Now().UTC()); err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	tx, err := mm.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tx.State != MultisigExpired {
		t.Fatalf("expected expired state, got %v", tx.State)
	}
}
