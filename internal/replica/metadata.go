// Package replica implements the local encrypted replica (C6): entity
// records and a pending-operation queue held on disk as envelope-encrypted
// JSON, keyed by a file-level key derived from the process master key via
// PBKDF2, with a sidecar metadata file carrying the KDF parameters.
package replica

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"phicore/internal/pkgerr"
)

// PBKDF2Params mirrors the sidecar's pbkdf2_params object from spec.md §6.
type PBKDF2Params struct {
	Iterations int `json:"iterations"`
	SaltLength int `json:"salt_length"`
}

// Metadata is the replica's sidecar JSON document, stored at mode 0600 on
// POSIX, per spec.md §6.
type Metadata struct {
	DatabaseID   uuid.UUID    `json:"database_id"`
	Salt         []byte       `json:"salt"`
	PBKDF2Params PBKDF2Params `json:"pbkdf2_params"`
	CreatedAt    time.Time    `json:"created_at"`
	LastRotated  *time.Time   `json:"last_rotated,omitempty"`
}

const metadataFileMode = 0o600

func loadMetadata(path string) (Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, pkgerr.Wrap(pkgerr.StorageError, "read replica metadata", err)
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, pkgerr.Wrap(pkgerr.StorageError, "parse replica metadata", err)
	}
	return m, nil
}

func saveMetadata(path string, m Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return pkgerr.Wrap(pkgerr.Internal, "marshal replica metadata", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "create replica directory", err)
	}
	if err := os.WriteFile(path, b, metadataFileMode); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "write replica metadata", err)
	}
	return nil
}
