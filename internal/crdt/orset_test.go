package crdt

import (
	"reflect"
	"sort"
	"testing"
)

func sortedStrings(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	return out
}

// TestORSetAddWinsOverConcurrentRemove implements scenario S3: two
// replicas start with {"Alice"}; replica A removes "Alice", replica B
// adds "Alice" with a fresh tag; after bi-directional merge both
// replicas have {"Alice"}.
func TestORSetAddWinsOverConcurrentRemove(t *testing.T) {
	shared := HybridTimestamp{Physical: 100, Logical: 0, NodeID: 1}

	replicaA := NewORSet[string]()
	replicaA.Add("Alice", shared, 1)
	replicaB := replicaA.Clone()

	replicaA.Remove("Alice")

	replicaB.Add("Alice", HybridTimestamp{Physical: 101, Logical: 0, NodeID: 2}, 2)

	replicaA.Merge(replicaB)
	replicaB.Merge(replicaA)

	if !replicaA.Contains("Alice") {
		t.Fatalf("expected add-wins: replica A must still contain Alice after merge")
	}
	if !replicaB.Contains("Alice") {
		t.Fatalf("expected add-wins: replica B must still contain Alice after merge")
	}
}

func TestORSetMergeCommutative(t *testing.T) {
	ts := func(p uint64, n uint64) HybridTimestamp { return HybridTimestamp{Physical: p, NodeID: n} }

	a := NewORSet[string]()
	a.Add("x", ts(1, 1), 1)
	a.Add("y", ts(2, 1), 1)

	b := NewORSet[string]()
	b.Add("y", ts(3, 2), 2)
	b.Add("z", ts(4, 2), 2)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if !reflect.DeepEqual(sortedStrings(ab.Elements()), sortedStrings(ba.Elements())) {
		t.Fatalf("merge(a,b) != merge(b,a): %v vs %v", ab.Elements(), ba.Elements())
	}
}

func TestORSetMergeAssociative(t *testing.T) {
	ts := func(p uint64, n uint64) HybridTimestamp { return HybridTimestamp{Physical: p, NodeID: n} }

	a := NewORSet[string]()
	a.Add("x", ts(1, 1), 1)
	b := NewORSet[string]()
	b.Add("y", ts(2, 2), 2)
	c := NewORSet[string]()
	c.Add("z", ts(3, 3), 3)

	abThenC := a.Clone()
	abThenC.Merge(b)
	abThenC.Merge(c)

	bcFirst := b.Clone()
	bcFirst.Merge(c)
	aThenBC := a.Clone()
	aThenBC.Merge(bcFirst)

	if !reflect.DeepEqual(sortedStrings(abThenC.Elements()), sortedStrings(aThenBC.Elements())) {
		t.Fatalf("merge(merge(a,b),c) != merge(a,merge(b,c)): %v vs %v", abThenC.Elements(), aThenBC.Elements())
	}
}

func TestORSetMergeIdempotent(t *testing.T) {
	a := NewORSet[string]()
	a.Add("x", HybridTimestamp{Physical: 1, NodeID: 1}, 1)

	once := a.Clone()
	once.Merge(a)
	twice := once.Clone()
	twice.Merge(a)

	if !reflect.DeepEqual(sortedStrings(once.Elements()), sortedStrings(twice.Elements())) {
		t.Fatalf("merge(a,a) changed state across repeated application")
	}
}

func TestORSetRemoveOnlyTombstonesObservedTags(t *testing.T) {
	s := NewORSet[string]()
	s.Add("x", HybridTimestamp{Physical: 1, NodeID: 1}, 1)
	s.Remove("x")
	if s.Contains("x") {
		t.Fatalf("expected x removed after observing its only tag")
	}

	other := NewORSet[string]()
	other.Add("x", HybridTimestamp{Physical: 2, NodeID: 2}, 2)
	s.Merge(other)
	if !s.Contains("x") {
		t.Fatalf("expected x to reappear: the remove never observed other's tag, so add wins")
	}
}
