package tuplestore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"phicore/internal/pkgerr"
)

const shardCount = 32

// MemoryStore is the in-memory reference Store implementation: a sharded
// map keyed by tenant+natural-key, plus forward (subject) and reverse
// (object) secondary indexes per shard. Safe for concurrent use.
type MemoryStore struct {
	schema *Schema
	shards [shardCount]*memShard
}

type memShard struct {
	mu      sync.RWMutex
	byKey   map[string]Tuple
	bySubj  map[string]map[string]struct{} // tenant|subjectKey -> set of natural keys
	byObj   map[string]map[string]struct{} // tenant|objectKey -> set of natural keys
}

// NewMemoryStore builds an empty store validating writes against schema.
func NewMemoryStore(schema *Schema) *MemoryStore {
	m := &MemoryStore{schema: schema}
	for i := range m.shards {
		m.shards[i] = &memShard{
			byKey:  make(map[string]Tuple),
			bySubj: make(map[string]map[string]struct{}),
			byObj:  make(map[string]map[string]struct{}),
		}
	}
	return m
}

func (m *MemoryStore) shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % shardCount
}

func (m *MemoryStore) shard(key string) *memShard {
	idx := m.shardIndex(key)
	if idx < 0 {
		idx += shardCount
	}
	return m.shards[idx]
}

func (m *MemoryStore) WriteTuple(_ context.Context, t Tuple) error {
	if err := m.schema.Validate(t); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	sh := m.shard(t.Tenant + "|" + t.NaturalKey())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.insertLocked(t)
	return nil
}

func (sh *memShard) insertLocked(t Tuple) {
	nk := t.Tenant + "|" + t.NaturalKey()
	if _, exists := sh.byKey[nk]; exists {
		return // idempotent no-op on natural-key conflict
	}
	sh.byKey[nk] = t
	subjK := t.Tenant + "|" + subjectKey(t.Subject)
	objK := t.Tenant + "|" + objectKey(t.Object)
	if sh.bySubj[subjK] == nil {
		sh.bySubj[subjK] = make(map[string]struct{})
	}
	sh.bySubj[subjK][nk] = struct{}{}
	if sh.byObj[objK] == nil {
		sh.byObj[objK] = make(map[string]struct{})
	}
	sh.byObj[objK][nk] = struct{}{}
}

func (sh *memShard) deleteLocked(t Tuple) {
	nk := t.Tenant + "|" + t.NaturalKey()
	if _, exists := sh.byKey[nk]; !exists {
		return
	}
	delete(sh.byKey, nk)
	subjK := t.Tenant + "|" + subjectKey(t.Subject)
	objK := t.Tenant + "|" + objectKey(t.Object)
	delete(sh.bySubj[subjK], nk)
	delete(sh.byObj[objK], nk)
}

func (m *MemoryStore) DeleteTuple(_ context.Context, t Tuple) error {
	sh := m.shard(t.Tenant + "|" + t.NaturalKey())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.deleteLocked(t)
	return nil
}

// BatchWrite applies writes and deletes grouped by shard, holding each
// touched shard's lock only while it mutates that shard. The in-memory
// store has no partial-failure mode (schema validation happens up front),
// so "atomic over the whole batch" reduces to validate-then-apply.
func (m *MemoryStore) BatchWrite(_ context.Context, b BatchWrite) error {
	for _, t := range b.Writes {
		if err := m.schema.Validate(t); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	for _, t := range b.Writes {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		sh := m.shard(t.Tenant + "|" + t.NaturalKey())
		sh.mu.Lock()
		sh.insertLocked(t)
		sh.mu.Unlock()
	}
	for _, t := range b.Deletes {
		sh := m.shard(t.Tenant + "|" + t.NaturalKey())
		sh.mu.Lock()
		sh.deleteLocked(t)
		sh.mu.Unlock()
	}
	return nil
}

func (m *MemoryStore) ReadTuples(_ context.Context, filter ReadFilter) ([]Tuple, error) {
	if filter.Tenant == "" {
		return nil, pkgerr.New(pkgerr.ValidationError, "read_tuples requires a tenant to prevent cross-tenant leakage")
	}
	now := time.Now().UTC()
	candidateKeys := make(map[string]struct{})

	// A tuple's index entries live in the shard owning its natural key, so
	// every shard's index is consulted.
	for _, sh := range m.shards {
		var keys map[string]struct{}
		switch {
		case filter.Subject != nil:
			keys = sh.snapshotSubj(filter.Tenant, *filter.Subject)
		case filter.Object != nil:
			keys = sh.snapshotObj(filter.Tenant, *filter.Object)
		default:
			return m.scanAll(filter, now), nil
		}
		for k := range keys {
			candidateKeys[k] = struct{}{}
		}
	}

	var out []Tuple
	for _, sh := range m.shards {
		sh.mu.RLock()
		for nk := range candidateKeys {
			t, ok := sh.byKey[nk]
			if !ok {
				continue
			}
			if matches(t, filter, now) {
				out = append(out, t)
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (sh *memShard) snapshotSubj(tenant string, s Subject) map[string]struct{} {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	src := sh.bySubj[tenant+"|"+subjectKey(s)]
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func (sh *memShard) snapshotObj(tenant string, o Object) map[string]struct{} {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	src := sh.byObj[tenant+"|"+objectKey(o)]
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func (m *MemoryStore) scanAll(filter ReadFilter, now time.Time) []Tuple {
	var out []Tuple
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, t := range sh.byKey {
			if matches(t, filter, now) {
				out = append(out, t)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

func matches(t Tuple, filter ReadFilter, now time.Time) bool {
	if t.Tenant != filter.Tenant {
		return false
	}
	if t.Expired(now) {
		return false
	}
	if filter.Subject != nil && subjectKey(*filter.Subject) != subjectKey(t.Subject) {
		return false
	}
	if filter.Relation != "" && filter.Relation != t.Relation {
		return false
	}
	if filter.Object != nil && objectKey(*filter.Object) != objectKey(t.Object) {
		return false
	}
	return true
}

func (m *MemoryStore) TupleExists(_ context.Context, t Tuple) (bool, error) {
	sh := m.shard(t.Tenant + "|" + t.NaturalKey())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	got, ok := sh.byKey[t.Tenant+"|"+t.NaturalKey()]
	if !ok {
		return false, nil
	}
	return !got.Expired(time.Now().UTC()), nil
}
