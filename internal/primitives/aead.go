// Package primitives implements the cryptographic building blocks (C1):
// AES-256-GCM envelopes, KDFs, secure-memory holders, and constant-time
// comparisons. Nothing above this package ever handles raw key bytes
// outside of a Holder.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"phicore/internal/pkgerr"
)

const nonceSize = 12 // 96-bit nonce, as mandated by spec.md §4.1

// Envelope is an AES-256-GCM encryptor/decryptor bound to one key version.
// Keys never leave a Holder; Envelope takes only already-unwrapped bytes
// from the caller (typically C2's plaintext DEK) and does not retain a
// reference to the source Holder.
type Envelope struct {
	aead    cipher.AEAD
	version uint32
}

// NewEnvelope builds an Envelope from a 32-byte AES-256 key at the given
// version. Version exists purely so ciphertexts carry a decryptor
// compatibility marker; it does not affect key derivation.
func NewEnvelope(key []byte, version uint32) (*Envelope, error) {
	if len(key) != 32 {
		return nil, pkgerr.New(pkgerr.ValidationError,
			fmt.Sprintf("invalid key length: expected 32, got %d", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.EncryptionFailed, "construct aes cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.EncryptionFailed, "construct gcm aead", err)
	}
	return &Envelope{aead: aead, version: version}, nil
}

// Version reports the key version this Envelope encrypts under and accepts
// on decrypt.
func (e *Envelope) Version() uint32 { return e.version }

// Encrypt returns the textual envelope "v{version}:{nonce_b64}:{ct_b64}".
// A fresh random nonce is drawn on every call (testable property #4: two
// calls with the same key and plaintext never produce the same ciphertext).
func (e *Envelope) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", pkgerr.Wrap(pkgerr.EncryptionFailed, "generate nonce", err)
	}
	ciphertext := e.aead.Seal(nil, nonce, plaintext, nil)
	return fmt.Sprintf("v%d:%s:%s",
		e.version,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ciphertext),
	), nil
}

// Decrypt parses and verifies a textual envelope. Tampering anywhere in the
// envelope fails with DecryptionFailed (testable property #3); a version
// mismatch fails with UnsupportedKeyVersion before any AEAD work happens.
func (e *Envelope) Decrypt(envelope string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 {
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "malformed envelope: expected 3 colon-separated parts")
	}
	if !strings.HasPrefix(parts[0], "v") {
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "malformed envelope: missing version prefix")
	}
	version, err := strconv.ParseUint(parts[0][1:], 10, 32)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "malformed envelope version", err)
	}
	if uint32(version) != e.version {
		return nil, pkgerr.New(pkgerr.UnsupportedKeyVer,
			fmt.Sprintf("version:%d, supported:%d", version, e.version))
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode nonce", err)
	}
	if len(nonce) != nonceSize {
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "invalid nonce length")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decode ciphertext", err)
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// never echo the cause: it may leak tag/ciphertext material.
		return nil, pkgerr.New(pkgerr.DecryptionFailed, "authentication failed")
	}
	return plaintext, nil
}

// ParseEnvelopeVersion extracts the version prefix from an envelope string
// without attempting to decrypt it, so a caller holding many key versions
// can route to the right Envelope.
func ParseEnvelopeVersion(envelope string) (uint32, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") {
		return 0, pkgerr.New(pkgerr.ValidationError, "malformed envelope")
	}
	version, err := strconv.ParseUint(parts[0][1:], 10, 32)
	if err != nil {
		return 0, pkgerr.Wrap(pkgerr.ValidationError, "malformed envelope version", err)
	}
	return uint32(version), nil
}
