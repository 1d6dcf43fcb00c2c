// Package kmsenvelope implements the KMS envelope layer (C2): it generates
// and decrypts Data Encryption Keys (DEKs) through a pluggable KMS, caches
// plaintext DEKs with TTL+LRU, and binds each DEK to an encryption context.
package kmsenvelope

import (
	"context"
	"time"
)

// EncryptionContext binds a DEK to the object family and key version it was
// generated for, per spec.md §3.2.
type EncryptionContext struct {
	ObjectKey string `json:"object_key"`
	KeyVersion uint32 `json:"key_version"`
}

// Metadata is the wrapped-DEK sidecar stored alongside ciphertext, matching
// spec.md §3.2 / §6 verbatim.
type Metadata struct {
	ProviderTag       string            `json:"provider_tag"`
	KMSKeyID          string            `json:"kms_key_id"`
	EncryptedDEK      []byte            `json:"encrypted_dek"`
	EncryptionContext EncryptionContext `json:"encryption_context"`
	Algorithm         string            `json:"algorithm"`
	KeyVersion        uint32            `json:"key_version"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Provider is the capability set every KMS variant must implement:
// generate_data_key, decrypt_data_key, re_encrypt, health_check.
type Provider interface {
	// Tag identifies the provider in Metadata.ProviderTag (e.g. "aws-kms",
	// "vault", "azure-keyvault", "gcp-secretmanager", "kubernetes", "env").
	Tag() string

	// GenerateDataKey asks the KMS for a fresh 256-bit data key under
	// keyID, bound to encCtx. Returns the plaintext key and the
	// provider's wrapped (encrypted) form.
	GenerateDataKey(ctx context.Context, keyID string, encCtx EncryptionContext) (plaintext, wrapped []byte, err error)

	// DecryptDataKey unwraps a previously wrapped key, verifying it
	// against encCtx.
	DecryptDataKey(ctx context.Context, keyID string, wrapped []byte, encCtx EncryptionContext) (plaintext []byte, err error)

	// ReEncrypt re-wraps a data key under newKeyID without ever exposing
	// the plaintext to the caller, when the backing KMS supports it
	// natively; providers that cannot re-wrap without unwrapping fall
	// back to decrypt-then-generate internally.
	ReEncrypt(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx EncryptionContext) (rewrapped []byte, err error)

	// HealthCheck reports whether the provider is currently reachable.
	HealthCheck(ctx context.Context) error
}

// NotFoundErr is returned by a Provider when the requested key id does not
// exist, the one condition under which the orchestrator tries the next
// provider in its fallback chain.
type NotFoundErr struct{ KeyID string }

func (e *NotFoundErr) Error() string { return "kms: key not found: " + e.KeyID }
