package syncproto

import (
	"bytes"
	"context"
	"testing"

	"phicore/internal/kmsenvelope"
)

// fakeKMSProvider is a minimal in-memory kmsenvelope.Provider double, local
// to this package since kmsenvelope's own fake is test-private there.
type fakeKMSProvider struct {
	wrapped map[string][]byte
}

func newFakeKMSProvider() *fakeKMSProvider {
	return &fakeKMSProvider{wrapped: map[string][]byte{}}
}

func (f *fakeKMSProvider) Tag() string { return "fake" }

func (f *fakeKMSProvider) GenerateDataKey(_ context.Context, _ string, _ kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext := bytes.Repeat([]byte{0x42}, 32)
	wrapped := append([]byte("wrapped:"), plaintext...)
	f.wrapped[string(wrapped)] = plaintext
	return plaintext, wrapped, nil
}

func (f *fakeKMSProvider) DecryptDataKey(_ context.Context, _ string, wrapped []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, ok := f.wrapped[string(wrapped)]
	if !ok {
		return nil, &kmsenvelope.NotFoundErr{}
	}
	return plaintext, nil
}

func (f *fakeKMSProvider) ReEncrypt(_ context.Context, wrapped []byte, _, _ string, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	return wrapped, nil
}

func (f *fakeKMSProvider) HealthCheck(_ context.Context) error { return nil }

func TestPayloadCipherEncryptDecryptRoundTrip(t *testing.T) {
	orchestrator := kmsenvelope.NewOrchestrator(newFakeKMSProvider(), "tenant-key-1")
	cipher := NewPayloadCipher(orchestrator)

	plaintext := []byte(`{"diagnosis":"example"}`)
	envelope, meta, err := cipher.Encrypt(context.Background(), "patient:p1", plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if envelope == "" {
		t.Fatalf("expected a non-empty sealed envelope")
	}

	got, err := cipher.Decrypt(context.Background(), "patient:p1", meta, envelope)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected decrypted payload %q, got %q", plaintext, got)
	}
}

func TestPayloadCipherDecryptFailsWithWrongObjectKey(t *testing.T) {
	orchestrator := kmsenvelope.NewOrchestrator(newFakeKMSProvider(), "tenant-key-1")
	cipher := NewPayloadCipher(orchestrator)

	envelope, meta, err := cipher.Encrypt(context.Background(), "patient:p1", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := cipher.Decrypt(context.Background(), "patient:p1", meta, envelope+"tampered"); err == nil {
		t.Fatalf("expected decryption of a tampered envelope to fail")
	}
}
