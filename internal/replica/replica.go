package replica

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"phicore/internal/crdt"
	"phicore/internal/pkgerr"
	"phicore/internal/primitives"
)

const defaultPBKDF2Iterations = 600_000
const defaultSaltLength = 32

// QueueEntry is a queued Operation plus its sync status, per spec.md §3.3.
type QueueEntry struct {
	Op         crdt.Operation `json:"op"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
	Synced     bool           `json:"synced"`
}

// Replica is the local encrypted replica: current entity state plus a
// pending-operation queue, both held on disk as envelope-encrypted JSON
// under dir, encrypted with a key derived from masterKey and the replica's
// own salt. The replica never writes plaintext to disk.
type Replica struct {
	dir      string
	meta     Metadata
	envelope *primitives.Envelope
	nodeID   uint64

	mu        sync.Mutex
	queue     []*QueueEntry
	queueByID map[string]*QueueEntry
	counter   uint64
}

const metadataFileName = "replica.meta.json"
const stateFileName = "replica.state.enc"
const queueFileName = "replica.queue.enc"

// Open opens (or initializes, if absent) the replica rooted at dir, deriving
// the file-level key from masterKey via PBKDF2 using the sidecar's stored
// (or freshly generated) salt and iteration count.
func Open(dir string, masterKey []byte, nodeID uint64) (*Replica, error) {
	metaPath := filepath.Join(dir, metadataFileName)
	var meta Metadata
	if _, err := os.Stat(metaPath); err == nil {
		meta, err = loadMetadata(metaPath)
		if err != nil {
			return nil, err
		}
	} else {
		salt := make([]byte, defaultSaltLength)
		if _, genErr := io.ReadFull(rand.Reader, salt); genErr != nil {
			return nil, pkgerr.Wrap(pkgerr.Internal, "generate replica salt", genErr)
		}
		meta = Metadata{
			DatabaseID: uuid.New(),
			Salt:       salt,
			PBKDF2Params: PBKDF2Params{
				Iterations: defaultPBKDF2Iterations,
				SaltLength: defaultSaltLength,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := saveMetadata(metaPath, meta); err != nil {
			return nil, err
		}
	}

	fileKey := primitives.PBKDF2(masterKey, meta.Salt, meta.PBKDF2Params.Iterations, 32)
	env, err := primitives.NewEnvelope(fileKey, 1)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "construct replica envelope", err)
	}

	r := &Replica{
		dir:       dir,
		meta:      meta,
		envelope:  env,
		nodeID:    nodeID,
		queueByID: make(map[string]*QueueEntry),
	}
	if err := r.loadQueue(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Replica) queuePath() string { return filepath.Join(r.dir, queueFileName) }
func (r *Replica) statePath() string { return filepath.Join(r.dir, stateFileName) }

func (r *Replica) loadQueue() error {
	b, err := os.ReadFile(r.queuePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "read replica queue", err)
	}
	plaintext, err := r.envelope.Decrypt(string(b))
	if err != nil {
		return pkgerr.Wrap(pkgerr.DecryptionFailed, "decrypt replica queue", err)
	}
	var entries []*QueueEntry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "parse replica queue", err)
	}
	r.queue = entries
	for _, e := range entries {
		r.queueByID[e.Op.ID] = e
		if e.Op.Clock != nil {
			if c := e.Op.Clock[r.nodeID]; c > r.counter {
				r.counter = c
			}
		}
	}
	return nil
}

func (r *Replica) persistQueueLocked() error {
	b, err := json.Marshal(r.queue)
	if err != nil {
		return pkgerr.Wrap(pkgerr.Internal, "marshal replica queue", err)
	}
	ciphertext, err := r.envelope.Encrypt(b)
	if err != nil {
		return pkgerr.Wrap(pkgerr.EncryptionFailed, "encrypt replica queue", err)
	}
	if err := os.WriteFile(r.queuePath(), []byte(ciphertext), 0o600); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "write replica queue", err)
	}
	return nil
}

// Queue appends op to the pending queue, assigning it the replica's node
// id as origin if unset, and persists the queue to disk.
func (r *Replica) Queue(_ context.Context, op crdt.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.OriginNode == 0 {
		op.OriginNode = r.nodeID
	}
	r.counter++
	entry := &QueueEntry{Op: op}
	r.queue = append(r.queue, entry)
	r.queueByID[op.ID] = entry
	return r.persistQueueLocked()
}

// Pending returns up to limit not-yet-synced entries ordered by insertion.
func (r *Replica) Pending(_ context.Context, limit int) ([]QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []QueueEntry
	for _, e := range r.queue {
		if e.Synced {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSynced flags the operation id as synced.
func (r *Replica) MarkSynced(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.queueByID[id]
	if !ok {
		return pkgerr.New(pkgerr.NotFound, "no such queued operation: "+id)
	}
	e.Synced = true
	e.LastError = ""
	return r.persistQueueLocked()
}

// MarkFailed increments the entry's retry count and records reason.
func (r *Replica) MarkFailed(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.queueByID[id]
	if !ok {
		return pkgerr.New(pkgerr.NotFound, "no such queued operation: "+id)
	}
	e.RetryCount++
	e.LastError = reason
	return r.persistQueueLocked()
}

// CurrentCounter returns this node's vector-clock counter.
func (r *Replica) CurrentCounter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// entityRecord is one envelope-encrypted row in the state store.
type entityRecord struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Envelope   string `json:"envelope"`
}

// PutEntity serializes, encrypts, and stores value under
// (entityType, entityID), overwriting any prior record.
func (r *Replica) PutEntity(_ context.Context, entityType, entityID string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadStateLocked()
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(value)
	if err != nil {
		return pkgerr.Wrap(pkgerr.Internal, "marshal entity value", err)
	}
	envelope, err := r.envelope.Encrypt(plaintext)
	if err != nil {
		return pkgerr.Wrap(pkgerr.EncryptionFailed, "encrypt entity record", err)
	}
	key := entityType + ":" + entityID
	records[key] = entityRecord{EntityType: entityType, EntityID: entityID, Envelope: envelope}
	return r.persistStateLocked(records)
}

// GetEntity decrypts and unmarshals the stored record for
// (entityType, entityID) into out.
func (r *Replica) GetEntity(_ context.Context, entityType, entityID string, out interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadStateLocked()
	if err != nil {
		return err
	}
	key := entityType + ":" + entityID
	rec, ok := records[key]
	if !ok {
		return pkgerr.New(pkgerr.NotFound, "no such entity: "+key)
	}
	plaintext, err := r.envelope.Decrypt(rec.Envelope)
	if err != nil {
		return pkgerr.Wrap(pkgerr.DecryptionFailed, "decrypt entity record", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "unmarshal entity record", err)
	}
	return nil
}

func (r *Replica) loadStateLocked() (map[string]entityRecord, error) {
	b, err := os.ReadFile(r.statePath())
	if os.IsNotExist(err) {
		return make(map[string]entityRecord), nil
	}
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "read replica state", err)
	}
	plaintext, err := r.envelope.Decrypt(string(b))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecryptionFailed, "decrypt replica state", err)
	}
	var records map[string]entityRecord
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "parse replica state", err)
	}
	return records, nil
}

func (r *Replica) persistStateLocked(records map[string]entityRecord) error {
	b, err := json.Marshal(records)
	if err != nil {
		return pkgerr.Wrap(pkgerr.Internal, "marshal replica state", err)
	}
	ciphertext, err := r.envelope.Encrypt(b)
	if err != nil {
		return pkgerr.Wrap(pkgerr.EncryptionFailed, "encrypt replica state", err)
	}
	if err := os.WriteFile(r.statePath(), []byte(ciphertext), 0o600); err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "write replica state", err)
	}
	return nil
}
