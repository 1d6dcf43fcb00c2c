package primitives

import (
	"bytes"
	"testing"
)

func TestPBKDF2Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	k1 := PBKDF2([]byte("hunter2"), salt, 10_000, 32)
	k2 := PBKDF2([]byte("hunter2"), salt, 10_000, 32)
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic derivation")
	}
	k3 := PBKDF2([]byte("other"), salt, 10_000, 32)
	if bytes.Equal(k1, k3) {
		t.Fatalf("different passwords must derive different keys")
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	hash, err := Argon2Hash([]byte("correct horse battery staple"), DefaultArgon2Params())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := Argon2Verify([]byte("correct horse battery staple"), hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected verification success")
	}
	ok, err = Argon2Verify([]byte("wrong password"), hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification failure for wrong password")
	}
}

func TestHKDFPurposeSeparation(t *testing.T) {
	master := []byte("0123456789abcdef0123456789abcdef")
	salt := []byte("salt")
	k1, err := HKDF(master, salt, []byte("purpose-a"), 32)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	k2, err := HKDF(master, salt, []byte("purpose-b"), 32)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Fatalf("expected distinct subkeys for distinct info labels")
	}
}

func TestDeriveMultipleKeys(t *testing.T) {
	master := []byte("0123456789abcdef0123456789abcdef")
	salt := []byte("salt")
	keys, err := DeriveMultipleKeys(master, salt, []string{"replica", "sync", "masking"}, 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[string(k)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", len(seen))
	}
}
