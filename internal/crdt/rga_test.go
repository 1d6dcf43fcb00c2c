package crdt

import (
	"reflect"
	"testing"
)

// TestRGAConcurrentInsertTieBreak implements scenario S4: both replicas
// start with ["A"]; A inserts "B" after index 0 with HLC (101,0,1); B
// inserts "C" after index 0 with HLC (101,0,2); after merge both replicas
// show ["A","B","C"] (tie-break by HLC node id ascending).
func TestRGAConcurrentInsertTieBreak(t *testing.T) {
	base := NewRGA[string]()
	base.Insert("A", nil, HybridTimestamp{Physical: 100, Logical: 0, NodeID: 1}, 1)

	replicaA := base.Clone()
	replicaB := base.Clone()

	zero := 0
	replicaA.Insert("B", &zero, HybridTimestamp{Physical: 101, Logical: 0, NodeID: 1}, 1)
	replicaB.Insert("C", &zero, HybridTimestamp{Physical: 101, Logical: 0, NodeID: 2}, 2)

	replicaA.Merge(replicaB)
	replicaB.Merge(replicaA)

	want := []string{"A", "B", "C"}
	if !reflect.DeepEqual(replicaA.ToSlice(), want) {
		t.Fatalf("replica A converged to %v, want %v", replicaA.ToSlice(), want)
	}
	if !reflect.DeepEqual(replicaB.ToSlice(), want) {
		t.Fatalf("replica B converged to %v, want %v", replicaB.ToSlice(), want)
	}
}

func TestRGAInsertAndDelete(t *testing.T) {
	r := NewRGA[string]()
	r.Insert("first", nil, HybridTimestamp{Physical: 1, NodeID: 1}, 1)
	if r.Len() != 1 {
		t.Fatalf("expected length 1, got %d", r.Len())
	}
	v, ok := r.Get(0)
	if !ok || v != "first" {
		t.Fatalf("expected Get(0) = first, got %v ok=%v", v, ok)
	}

	r.Delete(0)
	if r.Len() != 0 {
		t.Fatalf("expected length 0 after delete, got %d", r.Len())
	}
}

func TestRGAMergeCommutative(t *testing.T) {
	base := NewRGA[string]()
	base.Insert("A", nil, HybridTimestamp{Physical: 1, NodeID: 1}, 1)

	a := base.Clone()
	zero := 0
	a.Insert("B", &zero, HybridTimestamp{Physical: 2, NodeID: 1}, 1)

	b := base.Clone()
	b.Insert("C", &zero, HybridTimestamp{Physical: 2, NodeID: 2}, 2)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if !reflect.DeepEqual(ab.ToSlice(), ba.ToSlice()) {
		t.Fatalf("merge(a,b) != merge(b,a): %v vs %v", ab.ToSlice(), ba.ToSlice())
	}
}

func TestRGAMergeIdempotent(t *testing.T) {
	r := NewRGA[string]()
	r.Insert("A", nil, HybridTimestamp{Physical: 1, NodeID: 1}, 1)

	once := r.Clone()
	once.Merge(r)
	twice := once.Clone()
	twice.Merge(r)

	if !reflect.DeepEqual(once.ToSlice(), twice.ToSlice()) {
		t.Fatalf("merge(a,a) changed state across repeated application")
	}
}

func TestRGADeletePropagatesOnMergeNeverResurrects(t *testing.T) {
	r := NewRGA[string]()
	r.Insert("A", nil, HybridTimestamp{Physical: 1, NodeID: 1}, 1)

	replicaA := r.Clone()
	replicaA.Delete(0)

	replicaB := r.Clone() // never saw the delete

	replicaB.Merge(replicaA)
	if replicaB.Len() != 0 {
		t.Fatalf("expected tombstone to propagate and suppress the element, got %v", replicaB.ToSlice())
	}
}
