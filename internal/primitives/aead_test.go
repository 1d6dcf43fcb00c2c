package primitives

import (
	"errors"
	"strings"
	"testing"

	"phicore/internal/pkgerr"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateSalt(32)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(testKey(t), 1)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	plaintext := []byte("PHI")
	ct, err := env.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(ct, "v1:") {
		t.Fatalf("expected v1 prefix, got %s", ct)
	}
	got, err := env.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q", got)
	}
}

func TestEnvelopeDistinctNonces(t *testing.T) {
	env, err := NewEnvelope(testKey(t), 1)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	ct1, _ := env.Encrypt([]byte("same"))
	ct2, _ := env.Encrypt([]byte("same"))
	if ct1 == ct2 {
		t.Fatalf("expected distinct ciphertexts from distinct nonces")
	}
}

func TestEnvelopeTamperFails(t *testing.T) {
	env, err := NewEnvelope(testKey(t), 1)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	ct, _ := env.Encrypt([]byte("authenticated"))
	tampered := ct + "X"
	if _, err := env.Decrypt(tampered); err == nil {
		t.Fatalf("expected decryption failure on tampered envelope")
	} else {
		var pe *pkgerr.Error
		if !errors.As(err, &pe) || pe.Kind != pkgerr.DecryptionFailed {
			t.Fatalf("expected DecryptionFailed, got %v", err)
		}
	}
}

// S2 — envelope rotation scenario: encrypt under v1, decrypt with a v2
// engine, expect UnsupportedKeyVersion{version:1, supported:2}.
func TestEnvelopeVersionMismatch(t *testing.T) {
	key := testKey(t)
	v1, _ := NewEnvelope(key, 1)
	v2, _ := NewEnvelope(key, 2)

	ct, err := v1.Encrypt([]byte("PHI"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(ct, "v1:") {
		t.Fatalf("expected v1 prefix")
	}
	_, err = v2.Decrypt(ct)
	var pe *pkgerr.Error
	if !errors.As(err, &pe) || pe.Kind != pkgerr.UnsupportedKeyVer {
		t.Fatalf("expected UnsupportedKeyVersion, got %v", err)
	}
	if !strings.Contains(pe.Msg, "version:1") || !strings.Contains(pe.Msg, "supported:2") {
		t.Fatalf("expected version details in message, got %q", pe.Msg)
	}
}

func TestEnvelopeWrongKeyLength(t *testing.T) {
	if _, err := NewEnvelope([]byte("short"), 1); err == nil {
		t.Fatalf("expected error for short key")
	}
}
