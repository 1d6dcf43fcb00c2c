package crdt

import "testing"

func TestHLCOrderingByPhysicalThenLogicalThenNode(t *testing.T) {
	ts1 := HybridTimestamp{Physical: 100, Logical: 0, NodeID: 1}
	ts2 := HybridTimestamp{Physical: 200, Logical: 0, NodeID: 1}
	ts3 := HybridTimestamp{Physical: 100, Logical: 1, NodeID: 1}
	ts4 := HybridTimestamp{Physical: 100, Logical: 0, NodeID: 2}

	if !ts1.Less(ts2) {
		t.Fatalf("expected ts1 < ts2 on physical time")
	}
	if !ts1.Less(ts3) {
		t.Fatalf("expected ts1 < ts3 on logical counter")
	}
	if !ts1.Less(ts4) {
		t.Fatalf("expected ts1 < ts4 on node id")
	}
}

func TestHLCTickAdvancesMonotonically(t *testing.T) {
	c := NewClock(1)
	var physical uint64 = 1000
	c.nowMS = func() uint64 { return physical }
	c.last = HybridTimestamp{Physical: physical, Logical: 0, NodeID: 1}

	first := c.Tick()
	second := c.Tick() // same physical time -> logical increments
	if !first.Less(second) {
		t.Fatalf("expected successive ticks at the same physical time to strictly increase")
	}
	if second.Logical != first.Logical+1 {
		t.Fatalf("expected logical counter to increment by 1, got %d -> %d", first.Logical, second.Logical)
	}

	physical = 1001
	third := c.Tick()
	if third.Logical != 0 {
		t.Fatalf("expected logical counter to reset to 0 when physical time advances, got %d", third.Logical)
	}
	if !second.Less(third) {
		t.Fatalf("expected tick after physical advance to be strictly greater")
	}
}

func TestHLCUpdateTakesMaxAndIncrementsLogical(t *testing.T) {
	c := NewClock(1)
	c.nowMS = func() uint64 { return 500 }
	c.last = HybridTimestamp{Physical: 500, Logical: 2, NodeID: 1}

	remote := HybridTimestamp{Physical: 500, Logical: 5, NodeID: 2}
	next := c.Update(remote)

	if next.Physical != 500 {
		t.Fatalf("expected max physical time 500, got %d", next.Physical)
	}
	if next.Logical != 6 {
		t.Fatalf("expected logical = max(2,5)+1 = 6, got %d", next.Logical)
	}
	if next.NodeID != 1 {
		t.Fatalf("expected update to stamp the local node id, got %d", next.NodeID)
	}
}

func TestHLCUpdateRemotePhysicalAhead(t *testing.T) {
	c := NewClock(1)
	c.nowMS = func() uint64 { return 100 }
	c.last = HybridTimestamp{Physical: 100, Logical: 0, NodeID: 1}

	remote := HybridTimestamp{Physical: 200, Logical: 3, NodeID: 2}
	next := c.Update(remote)

	if next.Physical != 200 || next.Logical != 4 {
		t.Fatalf("expected (200,4), got (%d,%d)", next.Physical, next.Logical)
	}
}

func TestHybridTimestampStringRoundTrip(t *testing.T) {
	ts := HybridTimestamp{Physical: 101, Logical: 7, NodeID: 3}
	parsed, err := ParseHybridTimestamp(ts.String())
	if err != nil {
		t.Fatalf("ParseHybridTimestamp: %v", err)
	}
	if parsed != ts {
		t.Fatalf("expected round trip to preserve timestamp, got %+v", parsed)
	}
}

func TestVectorClockConcurrentDetection(t *testing.T) {
	a := VectorClock{1: 2, 2: 1}
	b := VectorClock{1: 1, 2: 2}
	if !a.Concurrent(b) {
		t.Fatalf("expected a and b to be concurrent (neither dominates)")
	}

	c := VectorClock{1: 2, 2: 1}
	d := VectorClock{1: 3, 2: 1}
	if c.Concurrent(d) {
		t.Fatalf("expected c <= d, not concurrent")
	}
	if !c.LessEqual(d) {
		t.Fatalf("expected c.LessEqual(d)")
	}
}

func TestVectorClockMergeIsComponentwiseMax(t *testing.T) {
	a := VectorClock{1: 2, 2: 5}
	b := VectorClock{1: 4, 3: 1}
	merged := a.Merge(b)
	if merged[1] != 4 || merged[2] != 5 || merged[3] != 1 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}
