package core

import "testing"

func TestStorageSetGetCommit(t *testing.T) {
	s, err := OpenMemory(ModeBlockchain)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if _, err := s.GetState([]byte("missing")); err == nil {
		t.Fatalf("expected error reading missing key")
	}

	if err := s.SetState([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	v, err := s.GetState([]byte("a"))
	if err != nil {
		t.Fatalf("GetState before commit: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("unexpected pending value: %q", v)
	}

	if s.Height() != 0 {
		t.Fatalf("expected height 0 before first commit, got %d", s.Height())
	}
	info, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if info.RetainHeight != 1 {
		t.Fatalf("expected retain height 1, got %d", info.RetainHeight)
	}
	if s.Height() != 1 {
		t.Fatalf("expected height 1 after commit, got %d", s.Height())
	}
	if s.RootHash() == (Hash{}) {
		t.Fatalf("expected non-zero root hash after commit with state")
	}

	v, err = s.GetState([]byte("a"))
	if err != nil {
		t.Fatalf("GetState after commit: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("unexpected committed value: %q", v)
	}
}

func TestStorageStandaloneModeHeightUnchanged(t *testing.T) {
	s, err := OpenMemory(ModeStandalone)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := s.SetState([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.Height() != 0 {
		t.Fatalf("expected height to stay 0 in standalone mode, got %d", s.Height())
	}
}

func TestStorageDelete(t *testing.T) {
	s, err := OpenMemory(ModeStandalone)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	if err := s.SetState([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.DeleteState([]byte("k")); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, err := s.GetState([]byte("k")); err == nil {
		t.Fatalf("expected key to read as missing after DeleteState")
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if has, _ := s.HasState([]byte("k")); has {
		t.Fatalf("expected key absent after committed deletion")
	}
}

func TestStoragePrefixIterator(t *testing.T) {
	s, err := OpenMemory(ModeStandalone)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"/a/1", "/a/2", "/b/1"} {
		if err := s.SetState([]byte(k), []byte("v")); err != nil {
			t.Fatalf("SetState(%q): %v", k, err)
		}
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	it, err := s.PrefixIterator([]byte("/a/"))
	if err != nil {
		t.Fatalf("PrefixIterator: %v", err)
	}
	defer it.Close()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys under /a/, got %v", got)
	}
}

func TestStorageProve(t *testing.T) {
	s, err := OpenMemory(ModeStandalone)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"x", "y", "z"} {
		if err := s.SetState([]byte(k), []byte(k+"-value")); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ops, root, err := s.Prove([]byte("y"))
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if root != s.RootHash() {
		t.Fatalf("proof root mismatch")
	}
	if len(ops) == 0 || ops[0].Kind != ProofKeyValuePair {
		t.Fatalf("expected leading key/value proof op, got %+v", ops)
	}

	if _, _, err := s.Prove([]byte("missing")); err == nil {
		t.Fatalf("expected error proving missing key")
	}
}
