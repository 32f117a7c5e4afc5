package core

// Storage (C4) is the authenticated ordered key/value layer every other
// module is built on: batched writes, a Merkle root hash over the commited
// key set, and range/proof operations. Grounded on the cosmos-db wiring in
// other_examples/…chaincert-cert-blockchain__app-app.go (dbm.DB as the
// storage interface) and on the teacher's merkle_tree_operations.go for the
// hashing primitives, generalised from a one-shot block-Merkle-root helper
// into a persistent, incrementally-updated store.

import (
	"bytes"
	"sync"

	dbm "github.com/cosmos/cosmos-db"
)

// CommitMode controls commit discipline. In blockchain mode writes stay
// pending until Commit, which bumps the block-height counter; in standalone
// mode (spec §4.2) every SetState/DeleteState commits at once and the height
// counter is left untouched.
type CommitMode int

const (
	ModeBlockchain CommitMode = iota
	ModeStandalone
)

var (
	keyHeight = []byte("/height")
	keyRoot   = []byte("/root_hash")
)

// CommitInfo is returned by Commit: the retained height and the resulting
// Merkle root hash.
type CommitInfo struct {
	RetainHeight uint64
	Hash         Hash
}

// Iterator walks a key range in ascending lexicographic order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// ProofOpKind discriminates the operations in a Merkle proof path.
type ProofOpKind int

const (
	ProofChild ProofOpKind = iota
	ProofParent
	ProofKeyValuePair
	ProofKeyValueHash
	ProofNodeHash
)

// ProofOp is one step in a key's inclusion proof.
type ProofOp struct {
	Kind ProofOpKind
	Data []byte
}

// Storage is the authenticated KV store. A single Storage instance backs
// exactly one module's state; the blockchain driver owns height/commit
// discipline, everything else just Gets/Puts.
type Storage struct {
	mu   sync.RWMutex
	db   dbm.DB
	mode CommitMode

	batch   dbm.Batch
	pending map[string][]byte // nil value means pending delete
	height  uint64
	root    Hash
}

// OpenMemory opens an in-memory store, used for standalone mode and tests.
func OpenMemory(mode CommitMode) (*Storage, error) {
	return openWith(dbm.NewMemDB(), mode)
}

// OpenDisk opens a durable goleveldb-backed store rooted at dir/name.
func OpenDisk(name, dir string, mode CommitMode) (*Storage, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, &Reason{Code: CodeOpenFailed, Message: err.Error()}
	}
	return openWith(db, mode)
}

func openWith(db dbm.DB, mode CommitMode) (*Storage, error) {
	s := &Storage{db: db, mode: mode, pending: make(map[string][]byte)}
	if v, err := db.Get(keyHeight); err == nil && len(v) == 8 {
		s.height = beUint64(v)
	}
	if v, err := db.Get(keyRoot); err == nil && len(v) == 32 {
		s.root = HashFromBytes(v)
	}
	return s, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *Storage) RootHash() Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// HasState reports whether k is present, consulting the pending batch first.
func (s *Storage) HasState(k []byte) (bool, error) {
	_, err := s.GetState(k)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetState reads a committed or batched-but-uncommitted value.
func (s *Storage) GetState(k []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.pending[string(k)]; ok {
		if v == nil {
			return nil, &Reason{Code: CodeKeyNotFound, Message: "key not found"}
		}
		return v, nil
	}
	v, err := s.db.Get(k)
	if err != nil {
		return nil, &Reason{Code: CodeGetFailed, Message: err.Error()}
	}
	if v == nil {
		return nil, &Reason{Code: CodeKeyNotFound, Message: "key not found"}
	}
	return v, nil
}

// SetState stages a write, applied at the next Commit (immediately in
// standalone mode).
func (s *Storage) SetState(k, v []byte) error {
	s.mu.Lock()
	cp := make([]byte, len(v))
	copy(cp, v)
	s.pending[string(k)] = cp
	s.mu.Unlock()
	if s.mode == ModeStandalone {
		_, err := s.Commit()
		return err
	}
	return nil
}

// DeleteState stages a deletion, applied at the next Commit (immediately in
// standalone mode).
func (s *Storage) DeleteState(k []byte) error {
	s.mu.Lock()
	s.pending[string(k)] = nil
	s.mu.Unlock()
	if s.mode == ModeStandalone {
		_, err := s.Commit()
		return err
	}
	return nil
}

// Commit flushes the pending batch to the database, recomputes the Merkle
// root over the full committed key set, and (in blockchain mode) advances
// the height counter.
func (s *Storage) Commit() (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range s.pending {
		if v == nil {
			if err := batch.Delete([]byte(k)); err != nil {
				return CommitInfo{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
			}
			continue
		}
		if err := batch.Set([]byte(k), v); err != nil {
			return CommitInfo{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
		}
	}
	s.pending = make(map[string][]byte)

	if s.mode == ModeBlockchain {
		s.height++
	}
	var heightBuf [8]byte
	putBeUint64(heightBuf[:], s.height)
	if err := batch.Set(keyHeight, heightBuf[:]); err != nil {
		return CommitInfo{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
	}
	if err := batch.Write(); err != nil {
		return CommitInfo{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
	}

	root, err := s.computeRootLocked()
	if err != nil {
		return CommitInfo{}, err
	}
	s.root = root
	if err := s.db.SetSync(keyRoot, root.Bytes()); err != nil {
		return CommitInfo{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
	}
	return CommitInfo{RetainHeight: s.height, Hash: s.root}, nil
}

// computeRootLocked rebuilds the Merkle tree from every non-metadata key in
// the store, in sorted order, hashing leaf = sha256(key || value).
func (s *Storage) computeRootLocked() (Hash, error) {
	var leaves [][]byte
	var keys [][]byte
	it, err := s.db.Iterator(nil, nil)
	if err != nil {
		return Hash{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if bytes.Equal(k, keyHeight) || bytes.Equal(k, keyRoot) {
			continue
		}
		keys = append(keys, append([]byte{}, k...))
		leaves = append(leaves, append(append([]byte{}, k...), it.Value()...))
	}
	if len(leaves) == 0 {
		return Hash{}, nil
	}
	levels, err := BuildMerkleTree(leaves)
	if err != nil {
		return Hash{}, &Reason{Code: CodeCommitFailed, Message: err.Error()}
	}
	top := levels[len(levels)-1]
	return Hash(top[0]), nil
}

// IterRange returns an iterator over [start, end) of committed state. end
// may be nil for an open-ended scan.
func (s *Storage) IterRange(start, end []byte) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, &Reason{Code: CodeGetFailed, Message: err.Error()}
	}
	return dbIterator{it}, nil
}

type dbIterator struct{ it dbm.Iterator }

func (d dbIterator) Valid() bool   { return d.it.Valid() }
func (d dbIterator) Next()         { d.it.Next() }
func (d dbIterator) Key() []byte   { return d.it.Key() }
func (d dbIterator) Value() []byte { return d.it.Value() }
func (d dbIterator) Close() error  { return d.it.Close() }

// PrefixIterator walks every committed key sharing prefix, in ascending
// order. Grounded on the teacher's access_control.go PrefixIterator call
// site.
func (s *Storage) PrefixIterator(prefix []byte) (Iterator, error) {
	return s.IterRange(prefix, prefixUpperBound(prefix))
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Prove returns the inclusion proof for key against the current root: the
// sibling hashes along its Merkle path plus the key/value pair itself.
func (s *Storage) Prove(key []byte) ([]ProofOp, Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, err := s.db.Iterator(nil, nil)
	if err != nil {
		return nil, Hash{}, &Reason{Code: CodeGetFailed, Message: err.Error()}
	}
	defer it.Close()

	var leaves [][]byte
	var keys [][]byte
	idx := -1
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if bytes.Equal(k, keyHeight) || bytes.Equal(k, keyRoot) {
			continue
		}
		if bytes.Equal(k, key) {
			idx = len(leaves)
		}
		keys = append(keys, append([]byte{}, k...))
		leaves = append(leaves, append(append([]byte{}, k...), it.Value()...))
	}
	if idx < 0 {
		return nil, s.root, &Reason{Code: CodeKeyNotFound, Message: "key not found"}
	}
	siblings, _, err := MerkleProof(leaves, uint32(idx))
	if err != nil {
		return nil, Hash{}, &Reason{Code: CodeGetFailed, Message: err.Error()}
	}
	ops := []ProofOp{{Kind: ProofKeyValuePair, Data: leaves[idx]}}
	for _, sib := range siblings {
		ops = append(ops, ProofOp{Kind: ProofChild, Data: sib})
	}
	return ops, s.root, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
