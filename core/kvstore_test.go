package core

import "testing"

func TestKVStorePutGet(t *testing.T) {
	led := testLedger(t)
	kv := NewKVStore(led)
	owner := NewPublicKeyAddress([]byte("kv-owner"))
	other := NewPublicKeyAddress([]byte("kv-other"))

	if err := kv.Put([]byte("k1"), []byte("v1"), owner); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := kv.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("unexpected value: %q", v)
	}

	if err := kv.Put([]byte("k1"), []byte("v2"), other); err == nil {
		t.Fatalf("expected error overwriting with non-owner identity")
	}
	if err := kv.Put([]byte("k1"), []byte("v2"), owner); err != nil {
		t.Fatalf("owner overwrite: %v", err)
	}
}

func TestKVStoreSizeLimits(t *testing.T) {
	led := testLedger(t)
	kv := NewKVStore(led)
	owner := NewPublicKeyAddress([]byte("kv-owner2"))

	big := make([]byte, maxKVKeySize+1)
	if err := kv.Put(big, []byte("v"), owner); err == nil {
		t.Fatalf("expected error for oversized key")
	}
	bigVal := make([]byte, maxKVValueSize+1)
	if err := kv.Put([]byte("k"), bigVal, owner); err == nil {
		t.Fatalf("expected error for oversized value")
	}
	if err := kv.Put(nil, []byte("v"), owner); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestKVStoreDisable(t *testing.T) {
	led := testLedger(t)
	kv := NewKVStore(led)
	owner := NewPublicKeyAddress([]byte("kv-owner3"))
	other := NewPublicKeyAddress([]byte("kv-other3"))

	if err := kv.Put([]byte("dk"), []byte("v"), owner); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.Disable([]byte("dk"), other, "not yours"); err == nil {
		t.Fatalf("expected error disabling as non-owner")
	}
	if err := kv.Disable([]byte("dk"), owner, "retiring key"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := kv.Get([]byte("dk")); err == nil {
		t.Fatalf("expected error reading disabled key via Get")
	}
	entry, err := kv.Query([]byte("dk"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !entry.Disabled || entry.Reason != "retiring key" {
		t.Fatalf("unexpected entry after disable: %+v", entry)
	}
	if err := kv.Put([]byte("dk"), []byte("v2"), owner); err == nil {
		t.Fatalf("expected error writing to disabled key")
	}
	if err := kv.Disable(nil, owner, "x"); err == nil {
		t.Fatalf("expected error disabling empty key")
	}
}

func TestKVStoreTransferOwnership(t *testing.T) {
	led := testLedger(t)
	kv := NewKVStore(led)
	owner := NewPublicKeyAddress([]byte("kv-owner4"))
	newOwner := NewPublicKeyAddress([]byte("kv-newowner4"))

	if err := kv.Put([]byte("tk"), []byte("v"), owner); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.TransferOwnership([]byte("tk"), newOwner, newOwner); err == nil {
		t.Fatalf("expected error transferring as non-owner")
	}
	if err := kv.TransferOwnership([]byte("tk"), owner, newOwner); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if err := kv.Put([]byte("tk"), []byte("v2"), owner); err == nil {
		t.Fatalf("expected error writing as previous owner")
	}
	if err := kv.Put([]byte("tk"), []byte("v2"), newOwner); err != nil {
		t.Fatalf("new owner write: %v", err)
	}
}
