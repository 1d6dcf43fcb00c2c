package tuplestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"phicore/internal/pkgerr"
)

func testSchema() *Schema {
	s := NewSchema()
	s.PutType(ObjectTypeSchema{
		Type: "patient_record",
		Relations: map[string]Rewrite{
			"owner":  {Kind: This},
			"editor": {Kind: Union, Children: []Rewrite{{Kind: This}, {Kind: ComputedUserset, Relation: "owner"}}},
			"viewer": {Kind: Union, Children: []Rewrite{
				{Kind: This},
				{Kind: ComputedUserset, Relation: "editor"},
				{Kind: TupleToUserset, TuplesetRelation: "parent", ComputedRelation: "viewer"},
			}},
		},
	})
	return s
}

func doctorSubject(id string) Subject {
	return Subject{Object: Object{Namespace: "default", Type: "user", ID: id}}
}

func recordObject(id string) Object {
	return Object{Namespace: "default", Type: "patient_record", ID: id}
}

func TestWriteThenDeleteTupleNotExists(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	tup := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r1")}

	if err := store.WriteTuple(ctx, tup); err != nil {
		t.Fatalf("WriteTuple: %v", err)
	}
	exists, err := store.TupleExists(ctx, tup)
	if err != nil || !exists {
		t.Fatalf("expected tuple to exist after write, exists=%v err=%v", exists, err)
	}

	if err := store.DeleteTuple(ctx, tup); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	exists, err = store.TupleExists(ctx, tup)
	if err != nil || exists {
		t.Fatalf("expected tuple to not exist after delete, exists=%v err=%v", exists, err)
	}
}

func TestWriteTupleIdempotentOnNaturalKeyConflict(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	tup := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r1")}

	if err := store.WriteTuple(ctx, tup); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.WriteTuple(ctx, tup); err != nil {
		t.Fatalf("second write should be a no-op, not an error: %v", err)
	}

	got, err := store.ReadTuples(ctx, ReadFilter{Tenant: "tenant-a", Object: &tup.Object})
	if err != nil {
		t.Fatalf("ReadTuples: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one tuple after duplicate write, got %d", len(got))
	}
}

func TestWriteTupleRejectsUndeclaredRelation(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	tup := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "not_a_relation", Object: recordObject("r1")}

	err := store.WriteTuple(ctx, tup)
	if err == nil {
		t.Fatalf("expected ValidationError for undeclared relation")
	}
	var pe *pkgerr.Error
	if !errors.As(err, &pe) || pe.Kind != pkgerr.ValidationError {
		t.Fatalf("expected pkgerr.ValidationError, got %v", err)
	}
}

func TestReadTuplesExcludesExpired(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	tup := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r2"), ExpiresAt: &past}

	if err := store.WriteTuple(ctx, tup); err != nil {
		t.Fatalf("WriteTuple: %v", err)
	}
	got, err := store.ReadTuples(ctx, ReadFilter{Tenant: "tenant-a", Object: &tup.Object})
	if err != nil {
		t.Fatalf("ReadTuples: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected expired tuple to be excluded, got %d results", len(got))
	}
}

func TestReadTuplesTenantIsolation(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	tupA := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r3")}
	tupB := Tuple{Tenant: "tenant-b", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r3")}

	if err := store.WriteTuple(ctx, tupA); err != nil {
		t.Fatalf("write tenant-a: %v", err)
	}
	if err := store.WriteTuple(ctx, tupB); err != nil {
		t.Fatalf("write tenant-b: %v", err)
	}

	got, err := store.ReadTuples(ctx, ReadFilter{Tenant: "tenant-a", Object: &tupA.Object})
	if err != nil {
		t.Fatalf("ReadTuples: %v", err)
	}
	if len(got) != 1 || got[0].Tenant != "tenant-a" {
		t.Fatalf("expected exactly one tenant-a tuple, got %v", got)
	}
}

func TestBatchWriteAtomicAppliesAll(t *testing.T) {
	store := NewMemoryStore(testSchema())
	ctx := context.Background()
	t1 := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u1"), Relation: "viewer", Object: recordObject("r4")}
	t2 := Tuple{Tenant: "tenant-a", Subject: doctorSubject("u2"), Relation: "editor", Object: recordObject("r4")}

	if err := store.BatchWrite(ctx, BatchWrite{Writes: []Tuple{t1, t2}}); err != nil {
		t.Fatalf("BatchWrite: %v", err)
	}
	got, err := store.ReadTuples(ctx, ReadFilter{Tenant: "tenant-a", Object: &t1.Object})
	if err != nil {
		t.Fatalf("ReadTuples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tuples from batch write, got %d", len(got))
	}
}
