package tuplestore

import "context"

// Store is the storage-agnostic tuple store contract from spec.md §4.3.
// Implementations must provide a composite unique constraint on the
// natural key, indexes for forward (subject → objects) and reverse
// (object → subjects) lookups, tenant isolation, and at-least-once
// idempotent write semantics (a natural-key conflict is a no-op).
type Store interface {
	// WriteTuple validates t against schema and inserts it. A conflict on
	// the natural key is a no-op, not an error.
	WriteTuple(ctx context.Context, t Tuple) error

	// DeleteTuple removes t if present; absence is not an error.
	DeleteTuple(ctx context.Context, t Tuple) error

	// BatchWrite applies every write and delete atomically: either all
	// apply or none do.
	BatchWrite(ctx context.Context, b BatchWrite) error

	// ReadTuples returns tuples matching the AND of filter's set fields,
	// excluding expired tuples.
	ReadTuples(ctx context.Context, filter ReadFilter) ([]Tuple, error)

	// TupleExists reports whether a non-expired tuple matching t's natural
	// key is present.
	TupleExists(ctx context.Context, t Tuple) (bool, error)
}
