package primitives

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"phicore/internal/pkgerr"
)

// Pbkdf2MinIterations is the production floor from spec.md §4.1 (OWASP
// 2023 recommendation).
const Pbkdf2MinIterations = 600_000

// Pbkdf2SaltLength is the minimum salt length for production use.
const Pbkdf2SaltLength = 32

// Argon2Params holds the Argon2id cost parameters; the zero value is
// invalid — use DefaultArgon2Params.
type Argon2Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2Params returns the floor mandated by spec.md §4.1: memory
// >= 19456 KiB, time >= 2, parallelism >= 1.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 19456, Time: 2, Parallelism: 1, KeyLength: 32}
}

// GenerateSalt returns n cryptographically random bytes.
func GenerateSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "generate salt", err)
	}
	return salt, nil
}

// PBKDF2 derives a key of length bytes from password and salt using
// PBKDF2-HMAC-SHA256. Callers must pass iterations >= Pbkdf2MinIterations
// and a salt of at least Pbkdf2SaltLength bytes for production use; this
// function does not enforce the floor itself so tests can exercise smaller
// parameters cheaply.
func PBKDF2(password, salt []byte, iterations, length int) []byte {
	return pbkdf2.Key(password, salt, iterations, length, sha256.New)
}

// Argon2Hash returns a PHC-encoded Argon2id hash of password, embedding the
// salt and parameters so Argon2Verify needs no side-channel state.
func Argon2Hash(password []byte, params Argon2Params) (string, error) {
	salt, err := GenerateSalt(16)
	if err != nil {
		return "", err
	}
	hash := argon2.IDKey(password, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		b64RawEncode(salt), b64RawEncode(hash)), nil
}

// Argon2Verify reports whether password matches a PHC-encoded hash produced
// by Argon2Hash.
func Argon2Verify(password []byte, encoded string) (bool, error) {
	// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[1] != "argon2id" {
		return false, pkgerr.New(pkgerr.ValidationError, "malformed argon2 hash")
	}
	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return false, pkgerr.Wrap(pkgerr.ValidationError, "parse argon2 params", err)
	}
	salt, err := b64RawDecode(fields[4])
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.ValidationError, "decode salt", err)
	}
	want, err := b64RawDecode(fields[5])
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.ValidationError, "decode hash", err)
	}
	got := argon2.IDKey(password, salt, timeCost, memory, parallelism, uint32(len(want)))
	return ConstantTimeEqual(got, want), nil
}

// HKDF derives a single purpose-separated subkey of length bytes from ikm,
// salt, and an info label.
func HKDF(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "derive hkdf output", err)
	}
	return out, nil
}

// DeriveMultipleKeys derives one HKDF subkey per context label, each with a
// distinct "info" parameter so the keys are cryptographically independent
// even though they share one master secret and salt.
func DeriveMultipleKeys(master, salt []byte, contexts []string, length int) (map[string][]byte, error) {
	out := make(map[string][]byte, len(contexts))
	for _, ctx := range contexts {
		key, err := HKDF(master, salt, []byte(ctx), length)
		if err != nil {
			return nil, err
		}
		out[ctx] = key
	}
	return out, nil
}

func b64RawEncode(b []byte) string { return base64.RawStdEncoding.EncodeToString(b) }

func b64RawDecode(s string) ([]byte, error) { return base64.RawStdEncoding.DecodeString(s) }
