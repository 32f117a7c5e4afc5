package core

import "testing"

func TestWalletFromMnemonicDeterministic(t *testing.T) {
	_, mnemonic, err := NewRandomWallet(128)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}

	w1, err := WalletFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("WalletFromMnemonic: %v", err)
	}
	w2, err := WalletFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("WalletFromMnemonic: %v", err)
	}

	addr1, err := w1.Address(0, 0)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	addr2, err := w2.Address(0, 0)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if addr1 != addr2 {
		t.Fatalf("expected identical addresses from the same mnemonic, got %s vs %s", addr1, addr2)
	}

	other, err := w1.Address(0, 1)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if other == addr1 {
		t.Fatalf("expected different addresses for different derivation indices")
	}
}

func TestWalletFromMnemonicRejectsInvalidChecksum(t *testing.T) {
	if _, err := WalletFromMnemonic("not a real mnemonic phrase at all", ""); err == nil {
		t.Fatalf("expected error for an invalid mnemonic")
	}
}

func TestWalletIdentitySignsVerifiably(t *testing.T) {
	_, mnemonic, err := NewRandomWallet(256)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}
	w, err := WalletFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("WalletFromMnemonic: %v", err)
	}
	id, err := w.Identity(0, 0)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	addr, err := w.Address(0, 0)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if id.Address() != addr {
		t.Fatalf("expected identity address to match derived address")
	}

	env, err := id.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := Ed25519Verifier{}.Verify(env)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != addr {
		t.Fatalf("unexpected verified address: %s", got)
	}
}
