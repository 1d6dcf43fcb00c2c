// Package providers implements the concrete KMS variants behind
// kmsenvelope.Provider: AWS KMS, Vault KV-v2, Azure Key Vault, GCP Secret
// Manager, Kubernetes Secrets, and an environment/local fallback.
package providers

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
)

// EnvProvider is the "local" KMS variant from spec.md §4.2: it wraps data
// keys with a single master key read from the environment rather than
// calling out to a managed service. It is intentionally stdlib-only — there
// is nothing for a third-party SDK to do here, see DESIGN.md.
type EnvProvider struct {
	mu        sync.RWMutex
	masterKey []byte // 32 bytes, AES-256-GCM key-wrapping key
}

// NewEnvProvider builds a local provider from a 32-byte master key,
// typically sourced from the PHICORE_MASTER_KEY environment variable by the
// caller.
func NewEnvProvider(masterKey []byte) (*EnvProvider, error) {
	if len(masterKey) != 32 {
		return nil, pkgerr.New(pkgerr.ValidationError, "env kms provider requires a 32-byte master key")
	}
	key := make([]byte, 32)
	copy(key, masterKey)
	return &EnvProvider{masterKey: key}, nil
}

func (p *EnvProvider) Tag() string { return "env" }

func (p *EnvProvider) wrapKey() (cipher.AEAD, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	block, err := aes.NewCipher(p.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (p *EnvProvider) GenerateDataKey(_ context.Context, _ string, _ kmsenvelope.EncryptionContext) ([]byte, []byte, error) {
	plaintext := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, plaintext); err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.Internal, "generate local data key", err)
	}
	wrapped, err := p.seal(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, wrapped, nil
}

func (p *EnvProvider) DecryptDataKey(_ context.Context, _ string, wrapped []byte, _ kmsenvelope.EncryptionContext) ([]byte, error) {
	aead, err := p.wrapKey()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "construct local wrap cipher", err)
	}
	if len(wrapped) < aead.NonceSize() {
		return nil, pkgerr.New(pkgerr.ValidationError, "wrapped key too short")
	}
	nonce, ct := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "unwrap local data key failed")
	}
	return plaintext, nil
}

func (p *EnvProvider) ReEncrypt(ctx context.Context, wrapped []byte, _, _ string, encCtx kmsenvelope.EncryptionContext) ([]byte, error) {
	plaintext, err := p.DecryptDataKey(ctx, "", wrapped, encCtx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range plaintext {
			plaintext[i] = 0
		}
	}()
	return p.seal(plaintext)
}

func (p *EnvProvider) HealthCheck(_ context.Context) error {
	if len(p.masterKey) != 32 {
		return pkgerr.New(pkgerr.Internal, "local master key missing")
	}
	return nil
}

func (p *EnvProvider) seal(plaintext []byte) ([]byte, error) {
	aead, err := p.wrapKey()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "construct local wrap cipher", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "generate wrap nonce", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}
