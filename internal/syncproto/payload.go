package syncproto

import (
	"context"

	"phicore/internal/kmsenvelope"
	"phicore/internal/pkgerr"
	"phicore/internal/primitives"
)

// PayloadCipher AEAD-encrypts operation payloads under a DEK wrapped by
// the tenant's KMS key, per spec.md §4.9's "operation payloads are
// themselves AEAD-encrypted under a DEK wrapped by the tenant's KMS key
// before leaving the device."
type PayloadCipher struct {
	orchestrator *kmsenvelope.Orchestrator
}

func NewPayloadCipher(orchestrator *kmsenvelope.Orchestrator) *PayloadCipher {
	return &PayloadCipher{orchestrator: orchestrator}
}

// Encrypt wraps a fresh DEK for objectKey and seals plaintext under it,
// returning the sealed envelope text and the DEK metadata sidecar needed
// to unwrap it again (the server/peer unwraps with its own KMS access).
func (c *PayloadCipher) Encrypt(ctx context.Context, objectKey string, plaintext []byte) (envelope string, meta kmsenvelope.Metadata, err error) {
	holder, _, meta, err := c.orchestrator.GenerateDEK(ctx, objectKey)
	if err != nil {
		return "", kmsenvelope.Metadata{}, pkgerr.Wrap(pkgerr.EncryptionFailed, "generate payload dek", err)
	}
	defer holder.Destroy()

	env, err := primitives.NewEnvelope(holder.AsSlice(), 1)
	if err != nil {
		return "", kmsenvelope.Metadata{}, pkgerr.Wrap(pkgerr.EncryptionFailed, "construct payload envelope", err)
	}
	sealed, err := env.Encrypt(plaintext)
	if err != nil {
		return "", kmsenvelope.Metadata{}, pkgerr.Wrap(pkgerr.EncryptionFailed, "seal operation payload", err)
	}
	return sealed, meta, nil
}

// Decrypt unwraps the DEK described by meta and opens envelope.
func (c *PayloadCipher) Decrypt(ctx context.Context, objectKey string, meta kmsenvelope.Metadata, envelope string) ([]byte, error) {
	holder, err := c.orchestrator.DecryptDEK(ctx, objectKey, meta.EncryptedDEK, meta)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "unwrap payload dek", err)
	}
	defer holder.Destroy()

	env, err := primitives.NewEnvelope(holder.AsSlice(), 1)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "construct payload envelope", err)
	}
	plaintext, err := env.Decrypt(envelope)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "open operation payload", err)
	}
	return plaintext, nil
}
