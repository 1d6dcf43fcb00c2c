package crdt

import "testing"

func TestLWWRegisterLaterTimestampWins(t *testing.T) {
	r := NewLWWRegister[string]()
	r.Set("first", HybridTimestamp{Physical: 1, NodeID: 1})
	r.Set("second", HybridTimestamp{Physical: 2, NodeID: 1})
	r.Set("stale", HybridTimestamp{Physical: 1, NodeID: 1})

	got, ok := r.Get()
	if !ok || got != "second" {
		t.Fatalf("expected second to win (later timestamp), got %v", got)
	}
}

func TestLWWRegisterMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewLWWRegister[string]()
	a.Set("a-value", HybridTimestamp{Physical: 5, NodeID: 1})
	b := NewLWWRegister[string]()
	b.Set("b-value", HybridTimestamp{Physical: 7, NodeID: 2})

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	abVal, _ := ab.Get()
	baVal, _ := ba.Get()
	if abVal != baVal {
		t.Fatalf("merge(a,b) != merge(b,a): %v vs %v", abVal, baVal)
	}

	once := a.Clone()
	once.Merge(a)
	onceVal, _ := once.Get()
	if onceVal != "a-value" {
		t.Fatalf("merge(a,a) should be idempotent, got %v", onceVal)
	}
}
