package core

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func newIDStore(t *testing.T, seed uint64) *IDStore {
	t.Helper()
	led := testLedger(t)
	return &IDStore{led: led, logger: logrus.New(), seed: seed}
}

func TestIDStoreStoreAndRecall(t *testing.T) {
	s := newIDStore(t, 42)
	addr := NewPublicKeyAddress([]byte("idstore-addr"))

	phrase, err := s.Store(addr, []byte("cred-1"), []byte("pub-1"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if phrase == "" {
		t.Fatalf("expected non-empty recall phrase")
	}

	rec, err := s.Recall(phrase)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if rec.Address != addr || string(rec.CredentialID) != "cred-1" || string(rec.PublicKey) != "pub-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := s.PhraseFor(addr)
	if err != nil {
		t.Fatalf("PhraseFor: %v", err)
	}
	if got != phrase {
		t.Fatalf("expected PhraseFor to return the stored phrase, got %q", got)
	}
	if !s.IsRegistered(addr) {
		t.Fatalf("expected address to be registered")
	}
}

func TestIDStoreRecallUnknownPhrase(t *testing.T) {
	s := newIDStore(t, 7)
	if _, err := s.Recall("never issued phrase"); err == nil {
		t.Fatalf("expected error recalling an unknown phrase")
	}
	other := NewPublicKeyAddress([]byte("never-registered"))
	if s.IsRegistered(other) {
		t.Fatalf("expected unregistered address to report false")
	}
}

func TestIDStoreDeterministicAcrossSameSeedAndCounter(t *testing.T) {
	addr := NewPublicKeyAddress([]byte("deterministic-addr"))

	s1 := newIDStore(t, 99)
	p1, err := s1.Store(addr, []byte("cred"), []byte("pub"))
	if err != nil {
		t.Fatalf("Store (1): %v", err)
	}

	s2 := newIDStore(t, 99)
	p2, err := s2.Store(addr, []byte("cred"), []byte("pub"))
	if err != nil {
		t.Fatalf("Store (2): %v", err)
	}

	if p1 != p2 {
		t.Fatalf("expected identical phrases for identical (seed, counter) replay, got %q vs %q", p1, p2)
	}
}
