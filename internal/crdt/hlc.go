// Package crdt implements the causality and CRDT core (C5): a Hybrid
// Logical Clock, vector clocks, and three convergent replicated data types
// (OR-Set, RGA, LWW register), grounded on the original HLC/CRDT
// implementation's tie-break rules.
package crdt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HybridTimestamp is (physical_ms, logical_counter, node_id), totally
// ordered lexicographically in that order.
type HybridTimestamp struct {
	Physical uint64 `json:"physical"`
	Logical  uint64 `json:"logical"`
	NodeID   uint64 `json:"node_id"`
}

// Compare returns -1, 0, or 1 as t orders before, equal to, or after other.
func (t HybridTimestamp) Compare(other HybridTimestamp) int {
	if t.Physical != other.Physical {
		if t.Physical < other.Physical {
			return -1
		}
		return 1
	}
	if t.Logical != other.Logical {
		if t.Logical < other.Logical {
			return -1
		}
		return 1
	}
	if t.NodeID != other.NodeID {
		if t.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether t happens-before other.
func (t HybridTimestamp) Less(other HybridTimestamp) bool { return t.Compare(other) < 0 }

// HappensBefore is a synonym for Less matching spec.md's vocabulary.
func (t HybridTimestamp) HappensBefore(other HybridTimestamp) bool { return t.Less(other) }

// Max returns the larger of t and other under Compare.
func (t HybridTimestamp) Max(other HybridTimestamp) HybridTimestamp {
	if t.Compare(other) >= 0 {
		return t
	}
	return other
}

// String renders "physical:logical:node" per spec.md §6.
func (t HybridTimestamp) String() string {
	return fmt.Sprintf("%d:%d:%d", t.Physical, t.Logical, t.NodeID)
}

// ParseHybridTimestamp parses the "physical:logical:node" wire form.
func ParseHybridTimestamp(s string) (HybridTimestamp, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return HybridTimestamp{}, fmt.Errorf("invalid hlc timestamp format: %s", s)
	}
	physical, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return HybridTimestamp{}, fmt.Errorf("invalid physical time: %w", err)
	}
	logical, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return HybridTimestamp{}, fmt.Errorf("invalid logical counter: %w", err)
	}
	nodeID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return HybridTimestamp{}, fmt.Errorf("invalid node id: %w", err)
	}
	return HybridTimestamp{Physical: physical, Logical: logical, NodeID: nodeID}, nil
}

// Clock is a per-node Hybrid Logical Clock. Safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	nodeID uint64
	last   HybridTimestamp
	nowMS  func() uint64
}

// NewClock builds a clock for nodeID, seeded at the current wall time.
func NewClock(nodeID uint64) *Clock {
	c := &Clock{nodeID: nodeID, nowMS: defaultNowMS}
	c.last = HybridTimestamp{Physical: c.nowMS(), Logical: 0, NodeID: nodeID}
	return c
}

func defaultNowMS() uint64 { return uint64(time.Now().UnixMilli()) }

// Tick generates a new timestamp for a local event: if physical time has
// advanced, the logical counter resets to 0; otherwise it increments.
func (c *Clock) Tick() HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	physicalNow := c.nowMS()
	if physicalNow > c.last.Physical {
		c.last = HybridTimestamp{Physical: physicalNow, Logical: 0, NodeID: c.nodeID}
	} else {
		c.last.Logical++
	}
	return c.last
}

// Update advances the clock on receipt of a remote timestamp, taking the
// max of local, remote, and wall-clock physical time, per the original
// implementation's exact tie-break rule.
func (c *Clock) Update(remote HybridTimestamp) HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	physicalNow := c.nowMS()
	maxPhysical := physicalNow
	if c.last.Physical > maxPhysical {
		maxPhysical = c.last.Physical
	}
	if remote.Physical > maxPhysical {
		maxPhysical = remote.Physical
	}

	var next HybridTimestamp
	switch {
	case maxPhysical == c.last.Physical && maxPhysical == remote.Physical:
		maxLogical := c.last.Logical
		if remote.Logical > maxLogical {
			maxLogical = remote.Logical
		}
		next = HybridTimestamp{Physical: maxPhysical, Logical: maxLogical + 1, NodeID: c.nodeID}
	case maxPhysical == c.last.Physical:
		next = HybridTimestamp{Physical: maxPhysical, Logical: c.last.Logical + 1, NodeID: c.nodeID}
	case maxPhysical == remote.Physical:
		next = HybridTimestamp{Physical: maxPhysical, Logical: remote.Logical + 1, NodeID: c.nodeID}
	default:
		next = HybridTimestamp{Physical: maxPhysical, Logical: 0, NodeID: c.nodeID}
	}
	c.last = next
	return next
}

// Peek returns the current timestamp without advancing the clock.
func (c *Clock) Peek() HybridTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// NodeID returns the node this clock was constructed for.
func (c *Clock) NodeID() uint64 { return c.nodeID }
