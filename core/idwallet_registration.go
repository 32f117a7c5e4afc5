package core

// IDStore (C12) is the recall-phrase directory: a BIP-39 mnemonic maps to
// an (address, credential-id, public-key) triple, generated from a
// persisted PRNG seed so every validator derives the same phrase for the
// same deliver_tx (determinism, spec §5). Grounded on this file's original
// IDRegistry (sync.Once global, ledger-backed, logrus-logged), replacing
// its JSON registration record and incidental SYN-ID mint with the spec's
// append-only phrase↔identity directory.

import (
	"math/rand"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
)

// IdentityRecord is the directory entry a recall phrase resolves to.
type IdentityRecord struct {
	Address      Address `cbor:"0,keyasint"`
	CredentialID []byte  `cbor:"1,keyasint"`
	PublicKey    []byte  `cbor:"2,keyasint"`
}

// IDStore is the phrase/identity directory, backed by a Ledger's storage.
type IDStore struct {
	mu      sync.Mutex
	led     *Ledger
	logger  *logrus.Logger
	seed    uint64
	counter uint64
}

var (
	idStoreOnce sync.Once
	idStore     *IDStore
)

var keyIdstoreCounter = []byte("/config/idstore_seed")

// InitIDStore wires the ledger and logger, restoring the PRNG counter from
// storage. seed is the base entropy source (e.g. a deploy-time constant or
// the genesis hash); it must be identical across every validator.
func InitIDStore(lg *logrus.Logger, led *Ledger, seed uint64) {
	idStoreOnce.Do(func() {
		idStore = &IDStore{led: led, logger: lg, seed: seed}
		if v, err := led.GetState(keyIdstoreCounter); err == nil && len(v) == 8 {
			idStore.counter = beUint64(v)
		}
	})
}

// IDStoreInstance returns the active global store.
func IDStoreInstance() *IDStore { return idStore }

func idstorePhraseKey(phrase string) []byte { return []byte("/idstore/phrase/" + phrase) }
func idstoreAddrKey(addr Address) []byte    { return []byte("/idstore/addr/" + addr.String()) }

// nextEntropyLocked derives 16 bytes of entropy from (seed, counter),
// advancing counter. Deterministic across replays given the same seed.
func (s *IDStore) nextEntropyLocked() [16]byte {
	s.counter++
	src := rand.NewSource(int64(s.seed) ^ int64(s.counter))
	r := rand.New(src)
	var e [16]byte
	_, _ = r.Read(e[:])
	return e
}

func (s *IDStore) persistCounterLocked() error {
	var buf [8]byte
	putBeUint64(buf[:], s.counter)
	return s.led.SetState(keyIdstoreCounter, buf[:])
}

// Store mints a fresh recall phrase for (addr, credentialID, publicKey) and
// persists the mapping both ways.
func (s *IDStore) Store(addr Address, credentialID, publicKey []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var phrase string
	for {
		entropy := s.nextEntropyLocked()
		m, err := bip39.NewMnemonic(entropy[:])
		if err != nil {
			return "", err
		}
		if _, err := s.led.GetState(idstorePhraseKey(m)); err != nil {
			phrase = m
			break
		}
		// Extremely unlikely collision; draw again.
	}

	rec := IdentityRecord{Address: addr, CredentialID: credentialID, PublicKey: publicKey}
	blob, err := ledgerCBOR.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.led.SetState(idstorePhraseKey(phrase), blob); err != nil {
		return "", err
	}
	if err := s.led.SetState(idstoreAddrKey(addr), []byte(phrase)); err != nil {
		return "", err
	}
	if err := s.persistCounterLocked(); err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.WithField("addr", addr.String()).Info("idstore: identity stored")
	}
	return phrase, nil
}

// Recall resolves a recall phrase to its identity record.
func (s *IDStore) Recall(phrase string) (IdentityRecord, error) {
	v, err := s.led.GetState(idstorePhraseKey(phrase))
	if err != nil {
		return IdentityRecord{}, NewReason(CodeKeyNotFound, "recall phrase not found", nil)
	}
	var rec IdentityRecord
	if err := cbor.Unmarshal(v, &rec); err != nil {
		return IdentityRecord{}, err
	}
	return rec, nil
}

// PhraseFor returns the recall phrase previously issued for addr, if any.
func (s *IDStore) PhraseFor(addr Address) (string, error) {
	v, err := s.led.GetState(idstoreAddrKey(addr))
	if err != nil {
		return "", NewReason(CodeKeyNotFound, "address {addr} not registered", map[string]string{"addr": addr.String()})
	}
	return string(v), nil
}

// IsRegistered reports whether addr already has a recall phrase.
func (s *IDStore) IsRegistered(addr Address) bool {
	_, err := s.led.GetState(idstoreAddrKey(addr))
	return err == nil
}
