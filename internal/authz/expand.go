package authz

import (
	"context"

	"phicore/internal/pkgerr"
	"phicore/internal/tuplestore"
)

// SubjectTree is the materialized rewrite tree returned by Expand, used by
// admin UIs and debugging rather than by Check.
type SubjectTree struct {
	Kind     tuplestore.RewriteKind `json:"kind"`
	Relation string                 `json:"relation,omitempty"`
	Subjects []tuplestore.Subject   `json:"subjects,omitempty"`
	Children []SubjectTree          `json:"children,omitempty"`
}

// Expand returns the rewrite tree for (relation, object) with leaf subjects
// materialized from the current tuple set, bounded by maxDepth.
func (e *Engine) Expand(ctx context.Context, tenant, relation string, object tuplestore.Object, maxDepth int) (SubjectTree, error) {
	rw, declared := e.schema.Relation(object.Type, relation)
	if !declared {
		return SubjectTree{}, pkgerr.New(pkgerr.ValidationError, "object type "+object.Type+" does not declare relation "+relation)
	}
	return e.expandRewrite(ctx, tenant, object, rw, maxDepth, 0)
}

func (e *Engine) expandRewrite(ctx context.Context, tenant string, object tuplestore.Object, rw tuplestore.Rewrite, maxDepth, depth int) (SubjectTree, error) {
	if depth > maxDepth {
		return SubjectTree{Kind: rw.Kind}, nil
	}

	switch rw.Kind {
	case tuplestore.This:
		tuples, err := e.store.ReadTuples(ctx, tuplestore.ReadFilter{Tenant: tenant, Object: &object})
		if err != nil {
			return SubjectTree{}, pkgerr.Wrap(pkgerr.StorageError, "read tuples for expand", err)
		}
		tree := SubjectTree{Kind: tuplestore.This}
		for _, t := range tuples {
			tree.Subjects = append(tree.Subjects, t.Subject)
		}
		return tree, nil

	case tuplestore.ComputedUserset:
		childRW, declared := e.schema.Relation(object.Type, rw.Relation)
		tree := SubjectTree{Kind: tuplestore.ComputedUserset, Relation: rw.Relation}
		if !declared {
			return tree, nil
		}
		child, err := e.expandRewrite(ctx, tenant, object, childRW, maxDepth, depth+1)
		if err != nil {
			return SubjectTree{}, err
		}
		tree.Children = []SubjectTree{child}
		return tree, nil

	case tuplestore.TupleToUserset:
		related, err := e.store.ReadTuples(ctx, tuplestore.ReadFilter{Tenant: tenant, Relation: rw.TuplesetRelation, Object: &object})
		if err != nil {
			return SubjectTree{}, pkgerr.Wrap(pkgerr.StorageError, "read tupleset for expand", err)
		}
		tree := SubjectTree{Kind: tuplestore.TupleToUserset, Relation: rw.ComputedRelation}
		for _, t := range related {
			childRW, declared := e.schema.Relation(t.Subject.Object.Type, rw.ComputedRelation)
			if !declared {
				continue
			}
			child, err := e.expandRewrite(ctx, tenant, t.Subject.Object, childRW, maxDepth, depth+1)
			if err != nil {
				return SubjectTree{}, err
			}
			tree.Children = append(tree.Children, child)
		}
		return tree, nil

	case tuplestore.Union, tuplestore.Intersection, tuplestore.Exclusion:
		tree := SubjectTree{Kind: rw.Kind}
		for _, child := range rw.Children {
			sub, err := e.expandRewrite(ctx, tenant, object, child, maxDepth, depth+1)
			if err != nil {
				return SubjectTree{}, err
			}
			tree.Children = append(tree.Children, sub)
		}
		return tree, nil

	default:
		return SubjectTree{}, pkgerr.New(pkgerr.Internal, "unknown rewrite kind")
	}
}

// ListObjects performs a reverse query: every object of objectType that
// subject holds relation on. This conservatively scans direct tuples on
// that relation plus the standard Check evaluator per candidate, since the
// rewrite graph can grant access without a direct tuple to the object.
func (e *Engine) ListObjects(ctx context.Context, tenant string, subject tuplestore.Subject, relation, objectType string) ([]tuplestore.Object, error) {
	tuples, err := e.store.ReadTuples(ctx, tuplestore.ReadFilter{Tenant: tenant})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.StorageError, "read tuples for list_objects", err)
	}

	seen := make(map[string]struct{})
	var out []tuplestore.Object
	for _, t := range tuples {
		if t.Object.Type != objectType {
			continue
		}
		key := objectKey(t.Object)
		if _, ok := seen[key]; ok {
			continue
		}
		ok, err := e.Check(ctx, tenant, subject, relation, t.Object)
		if err != nil {
			return nil, err
		}
		if ok {
			seen[key] = struct{}{}
			out = append(out, t.Object)
		}
	}
	return out, nil
}

func objectKey(o tuplestore.Object) string { return o.Namespace + ":" + o.Type + ":" + o.ID }

// CheckRequest is one entry of a BatchCheck call.
type CheckRequest struct {
	Tenant   string
	Subject  tuplestore.Subject
	Relation string
	Object   tuplestore.Object
}

// CheckResult pairs a CheckRequest's outcome with its input, preserving
// input order; Trace is populated only when debug is true.
type CheckResult struct {
	Allowed bool
	Err     error
	Trace   string
}

// BatchCheck evaluates each request independently, preserving input order.
// When debug is true, Trace carries a one-line human-readable summary per
// result.
func (e *Engine) BatchCheck(ctx context.Context, requests []CheckRequest, debug bool) []CheckResult {
	results := make([]CheckResult, len(requests))
	for i, req := range requests {
		allowed, err := e.Check(ctx, req.Tenant, req.Subject, req.Relation, req.Object)
		results[i] = CheckResult{Allowed: allowed, Err: err}
		if debug {
			results[i].Trace = traceLine(req, allowed, err)
		}
	}
	return results
}

func traceLine(req CheckRequest, allowed bool, err error) string {
	if err != nil {
		return "check(" + req.Relation + ") errored: " + err.Error()
	}
	if allowed {
		return "check(" + req.Relation + ") allowed"
	}
	return "check(" + req.Relation + ") denied"
}
