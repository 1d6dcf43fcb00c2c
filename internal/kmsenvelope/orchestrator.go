package kmsenvelope

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"phicore/internal/auditlog"
	"phicore/internal/pkgerr"
	"phicore/internal/primitives"
)

const aeadAlgorithm = "AES-256-GCM"

// Orchestrator composes a primary KMS provider with ordered fallbacks,
// backed by one DEK cache and one audit sink (spec.md §4.2, §9 Design
// Notes).
type Orchestrator struct {
	providers []Provider // providers[0] is primary
	keyID     string
	cache     *dekCache
	audit     auditlog.Sink
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithFallback appends an additional provider tried only when an earlier
// provider returns NotFoundErr.
func WithFallback(p Provider) Option {
	return func(o *Orchestrator) { o.providers = append(o.providers, p) }
}

// WithCache overrides the default cache size/TTL.
func WithCache(maxSize int, ttl time.Duration) Option {
	return func(o *Orchestrator) { o.cache = newDEKCache(maxSize, ttl) }
}

// WithAuditSink installs a sink receiving one record per DEK generate,
// decrypt, and rotate operation.
func WithAuditSink(sink auditlog.Sink) Option {
	return func(o *Orchestrator) { o.audit = sink }
}

// NewOrchestrator builds an Orchestrator around a primary provider bound to
// keyID, with a default 5-minute TTL, 1024-entry cache, and a no-op audit
// sink unless overridden.
func NewOrchestrator(primary Provider, keyID string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: []Provider{primary},
		keyID:     keyID,
		cache:     newDEKCache(1024, 5*time.Minute),
		audit:     auditlog.NewLogrusSink(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateDEK builds an encryption context for objectKey, asks the primary
// provider (falling back on NotFoundErr) for a fresh 256-bit data key,
// caches the plaintext, and returns both forms plus metadata.
func (o *Orchestrator) GenerateDEK(ctx context.Context, objectKey string) (holder *primitives.Holder, wrapped []byte, meta Metadata, err error) {
	encCtx := EncryptionContext{ObjectKey: objectKey, KeyVersion: 1}

	var plaintext []byte
	var usedTag, usedKeyID string
	for i, p := range o.providers {
		plaintext, wrapped, err = p.GenerateDataKey(ctx, o.keyID, encCtx)
		if err == nil {
			usedTag, usedKeyID = p.Tag(), o.keyID
			break
		}
		var nf *NotFoundErr
		if !errors.As(err, &nf) || i == len(o.providers)-1 {
			o.recordAudit(ctx, auditlog.Create, objectKey, false, err)
			return nil, nil, Metadata{}, pkgerr.Wrap(pkgerr.StorageError, "generate data key", err)
		}
	}

	holder = o.cache.put(objectKey, wrapped, plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}

	meta = Metadata{
		ProviderTag:       usedTag,
		KMSKeyID:          usedKeyID,
		EncryptedDEK:      wrapped,
		EncryptionContext: encCtx,
		Algorithm:         aeadAlgorithm,
		KeyVersion:        encCtx.KeyVersion,
		CreatedAt:         time.Now().UTC(),
	}
	o.recordAudit(ctx, auditlog.Create, objectKey, true, nil)
	return holder, wrapped, meta, nil
}

// DecryptDEK looks up objectKey/wrapped in the cache first; on miss it asks
// the KMS to unwrap using the original encryption context and populates the
// cache.
func (o *Orchestrator) DecryptDEK(ctx context.Context, objectKey string, wrapped []byte, meta Metadata) (*primitives.Holder, error) {
	if holder, ok := o.cache.get(objectKey, wrapped); ok {
		o.recordAudit(ctx, auditlog.Access, objectKey, true, nil)
		return holder, nil
	}

	var plaintext []byte
	var err error
	for i, p := range o.providers {
		plaintext, err = p.DecryptDataKey(ctx, meta.KMSKeyID, wrapped, meta.EncryptionContext)
		if err == nil {
			break
		}
		var nf *NotFoundErr
		if !errors.As(err, &nf) || i == len(o.providers)-1 {
			o.recordAudit(ctx, auditlog.Access, objectKey, false, err)
			return nil, pkgerr.Wrap(pkgerr.StorageError, "decrypt data key", err)
		}
	}

	holder := o.cache.put(objectKey, wrapped, plaintext)
	for i := range plaintext {
		plaintext[i] = 0
	}
	o.recordAudit(ctx, auditlog.Access, objectKey, true, nil)
	return holder, nil
}

// RotateDEK re-wraps wrapped via the KMS under newKeyID, and unconditionally
// invalidates the whole DEK cache (spec.md §4.2: rotation always invalidates,
// never just the touched entry, since key ids shift underneath callers).
func (o *Orchestrator) RotateDEK(ctx context.Context, wrapped []byte, oldKeyID, newKeyID string, encCtx EncryptionContext) ([]byte, error) {
	rewrapped, err := o.providers[0].ReEncrypt(ctx, wrapped, oldKeyID, newKeyID, encCtx)
	o.cache.invalidate()
	if err != nil {
		o.recordAudit(ctx, auditlog.Rotate, encCtx.ObjectKey, false, err)
		return nil, pkgerr.Wrap(pkgerr.StorageError, "rotate data key", err)
	}
	o.recordAudit(ctx, auditlog.Rotate, encCtx.ObjectKey, true, nil)
	return rewrapped, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, evType auditlog.EventType, resource string, success bool, err error) {
	ev := auditlog.Event{
		Timestamp:      time.Now().UTC(),
		EventType:      evType,
		SecretOrResKey: resource,
		User:           "system",
		Success:        success,
	}
	if err != nil {
		ev.ErrorMessage = sanitizeErr(err)
	}
	o.audit.Record(ctx, ev)
}

// sanitizeErr strips any error down to its pkgerr.Kind plus message,
// guaranteeing key material or ciphertext never reaches a log line even if
// an underlying provider's error happened to embed it.
func sanitizeErr(err error) string {
	var pe *pkgerr.Error
	if errors.As(err, &pe) {
		return string(pe.Kind) + ": " + pe.Msg
	}
	return "kms operation failed"
}

// NewEncryptionContextID returns a fresh random identifier suitable for use
// as an object_key when the caller has no natural business key to bind to.
func NewEncryptionContextID() string { return uuid.NewString() }
