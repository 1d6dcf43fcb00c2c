// Package authz implements the Zanzibar-style authorization engine (C4):
// check, expand, list_objects, and batch_check over a tuplestore.Store and
// tuplestore.Schema, with per-call memoization and a process-wide check
// cache invalidated on any tuple or schema mutation.
package authz

import (
	"context"
	"fmt"
	"sync"

	"phicore/internal/cachekit"
	"phicore/internal/pkgerr"
	"phicore/internal/tuplestore"
)

const defaultMaxDepth = 25
const defaultCacheSize = 4096

// Engine evaluates permission rewrites from a Schema over tuples read from
// a Store, caching check results until the next mutation invalidates them.
type Engine struct {
	store    tuplestore.Store
	schema   *tuplestore.Schema
	cache    *cachekit.InvalidateAllCache[string, bool]
	maxDepth int
	mu       sync.Mutex // serializes InvalidateCache purges; Check's cache reads and writes do not take it
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxDepth overrides the default rewrite-evaluation depth bound.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

// WithCacheSize overrides the default 4096-entry check cache.
func WithCacheSize(size int) Option {
	return func(e *Engine) {
		e.cache = cachekit.NewInvalidateAllCache[string, bool](size)
	}
}

// NewEngine builds an Engine over store/schema with a default 4096-entry
// check cache and depth bound of 25.
func NewEngine(store tuplestore.Store, schema *tuplestore.Schema, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		schema:   schema,
		cache:    cachekit.NewInvalidateAllCache[string, bool](defaultCacheSize),
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidateCache wholesale-clears the check cache. Callers must invoke
// this after any tuple mutation or schema update (spec.md §4.4 step 4 and
// §5: "invalidation clears the whole map on any tuple/schema mutation").
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Purge()
}

func cacheKey(tenant string, s tuplestore.Subject, relation string, o tuplestore.Object) string {
	return fmt.Sprintf("%s|%s#%s|%s|%s:%s:%s", tenant, s.Object.Namespace+":"+s.Object.Type+":"+s.Object.ID, s.Relation, relation, o.Namespace, o.Type, o.ID)
}

// Check reports whether subject holds relation on object within tenant.
// Storage errors surface as pkgerr.StorageError; absence is never
// interpreted as presence.
func (e *Engine) Check(ctx context.Context, tenant string, subject tuplestore.Subject, relation string, object tuplestore.Object) (bool, error) {
	key := cacheKey(tenant, subject, relation, object)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	visited := make(map[string]bool)
	result, err := e.evalCheck(ctx, tenant, subject, relation, object, visited, 0)
	if err != nil {
		return false, err
	}
	e.cache.Add(key, result)
	return result, nil
}

func (e *Engine) evalCheck(ctx context.Context, tenant string, subject tuplestore.Subject, relation string, object tuplestore.Object, visited map[string]bool, depth int) (bool, error) {
	if depth > e.maxDepth {
		return false, nil // cycle/overdepth short-circuits to false, never an error
	}
	memoKey := cacheKey(tenant, subject, relation, object)
	if v, ok := visited[memoKey]; ok {
		return v, nil
	}
	visited[memoKey] = false // mark in-progress to break cycles on revisit

	rw, declared := e.schema.Relation(object.Type, relation)
	if !declared {
		visited[memoKey] = false
		return false, nil
	}

	result, err := e.evalRewrite(ctx, tenant, subject, relation, object, rw, visited, depth)
	if err != nil {
		return false, err
	}
	visited[memoKey] = result
	return result, nil
}

func (e *Engine) evalRewrite(ctx context.Context, tenant string, subject tuplestore.Subject, relation string, object tuplestore.Object, rw tuplestore.Rewrite, visited map[string]bool, depth int) (bool, error) {
	switch rw.Kind {
	case tuplestore.This:
		return e.directMatch(ctx, tenant, subject, relation, object, visited, depth)

	case tuplestore.ComputedUserset:
		return e.evalCheck(ctx, tenant, subject, rw.Relation, object, visited, depth+1)

	case tuplestore.TupleToUserset:
		related, err := e.store.ReadTuples(ctx, tuplestore.ReadFilter{Tenant: tenant, Relation: rw.TuplesetRelation, Object: &object})
		if err != nil {
			return false, pkgerr.Wrap(pkgerr.StorageError, "read tupleset for tuple-to-userset", err)
		}
		for _, t := range related {
			ok, err := e.evalCheck(ctx, tenant, subject, rw.ComputedRelation, t.Subject.Object, visited, depth+1)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case tuplestore.Union:
		for _, child := range rw.Children {
			ok, err := e.evalRewrite(ctx, tenant, subject, relation, object, child, visited, depth)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case tuplestore.Intersection:
		for _, child := range rw.Children {
			ok, err := e.evalRewrite(ctx, tenant, subject, relation, object, child, visited, depth)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case tuplestore.Exclusion:
		if len(rw.Children) != 2 {
			return false, pkgerr.New(pkgerr.Internal, "exclusion rewrite requires exactly base and subtracted branches")
		}
		base, err := e.evalRewrite(ctx, tenant, subject, relation, object, rw.Children[0], visited, depth)
		if err != nil || !base {
			return false, err
		}
		excluded, err := e.evalRewrite(ctx, tenant, subject, relation, object, rw.Children[1], visited, depth)
		if err != nil {
			return false, err
		}
		return !excluded, nil

	default:
		return false, pkgerr.New(pkgerr.Internal, "unknown rewrite kind")
	}
}

// directMatch checks for a literal (subject, relation, object) tuple, or a
// userset subject on that tuple whose membership further resolves to
// subject.
func (e *Engine) directMatch(ctx context.Context, tenant string, subject tuplestore.Subject, relation string, object tuplestore.Object, visited map[string]bool, depth int) (bool, error) {
	tuples, err := e.store.ReadTuples(ctx, tuplestore.ReadFilter{Tenant: tenant, Relation: relation, Object: &object})
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.StorageError, "read tuples for direct match", err)
	}
	for _, t := range tuples {
		if !t.Subject.IsUserset() && sameObject(t.Subject.Object, subject.Object) && t.Subject.Relation == subject.Relation {
			return true, nil
		}
		if t.Subject.IsUserset() {
			member, err := e.evalCheck(ctx, tenant, subject, t.Subject.Relation, t.Subject.Object, visited, depth+1)
			if err != nil {
				return false, err
			}
			if member {
				return true, nil
			}
		}
	}
	return false, nil
}

func sameObject(a, b tuplestore.Object) bool {
	return a.Namespace == b.Namespace && a.Type == b.Type && a.ID == b.ID
}
