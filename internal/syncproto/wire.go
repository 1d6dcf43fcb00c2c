// Package syncproto implements the sync protocol (C9): Pull/Push over an
// HTTP transport built on go-chi, encrypted operation payloads (AEAD via
// the crypto primitives layer, DEK wrapped by the KMS envelope layer),
// per-user rate limiting, batching, and exponential-backoff retries.
package syncproto

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"phicore/internal/crdt"
	"phicore/internal/pkgerr"
)

// OperationWire is the wire form of crdt.Operation, following spec.md §6:
// vector_clock serialized as "n1:c1,n2:c2,...", HLC as "physical:logical:node".
type OperationWire struct {
	ID          string `json:"id"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Kind        string `json:"kind"`
	Payload     []byte `json:"payload"`
	HLCTimestamp string `json:"hlc_timestamp"`
	VectorClock  string `json:"vector_clock"`
	OriginNode   uint64 `json:"origin_node"`
}

// ToWire renders op's HLC/vector-clock fields in the spec's colon/comma
// textual forms.
func ToWire(op crdt.Operation) OperationWire {
	return OperationWire{
		ID:           op.ID,
		EntityType:   op.EntityType,
		EntityID:     op.EntityID,
		Kind:         string(op.Kind),
		Payload:      op.Payload,
		HLCTimestamp: op.Timestamp.String(),
		VectorClock:  vectorClockString(op.Clock),
		OriginNode:   op.OriginNode,
	}
}

// FromWire parses an OperationWire back into a crdt.Operation.
func FromWire(w OperationWire) (crdt.Operation, error) {
	ts, err := crdt.ParseHybridTimestamp(w.HLCTimestamp)
	if err != nil {
		return crdt.Operation{}, pkgerr.Wrap(pkgerr.ValidationError, "parse hlc_timestamp", err)
	}
	vc, err := parseVectorClock(w.VectorClock)
	if err != nil {
		return crdt.Operation{}, pkgerr.Wrap(pkgerr.ValidationError, "parse vector_clock", err)
	}
	return crdt.Operation{
		ID:         w.ID,
		EntityType: w.EntityType,
		EntityID:   w.EntityID,
		Kind:       crdt.OperationKind(w.Kind),
		Payload:    w.Payload,
		Timestamp:  ts,
		Clock:      vc,
		OriginNode: w.OriginNode,
	}, nil
}

func vectorClockString(vc crdt.VectorClock) string {
	if len(vc) == 0 {
		return ""
	}
	nodes := make([]uint64, 0, len(vc))
	for n := range vc {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, fmt.Sprintf("%d:%d", n, vc[n]))
	}
	return strings.Join(parts, ",")
}

func parseVectorClock(s string) (crdt.VectorClock, error) {
	vc := crdt.VectorClock{}
	if s == "" {
		return vc, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, pkgerr.New(pkgerr.ValidationError, "malformed vector clock entry: "+entry)
		}
		node, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.ValidationError, "parse vector clock node id", err)
		}
		counter, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.ValidationError, "parse vector clock counter", err)
		}
		vc[node] = counter
	}
	return vc, nil
}

// PullRequest asks the server for operations the caller hasn't seen yet.
type PullRequest struct {
	NodeID      uint64  `json:"node_id"`
	SinceHLC    *string `json:"since_hlc,omitempty"`
	VectorClock string  `json:"vector_clock"`
}

// PullResponse returns the server's view of new operations plus its own
// vector clock, so the client can detect what it's still missing.
type PullResponse struct {
	Operations        []OperationWire `json:"operations"`
	ServerVectorClock string          `json:"server_vector_clock"`
}

// PushRequest submits locally queued operations for server-side merge.
type PushRequest struct {
	NodeID     uint64          `json:"node_id"`
	Operations []OperationWire `json:"operations"`
}

// PushResponse reports per-operation outcomes. Conflicts are already
// resolved by CRDT semantics server-side; they are reported only for
// observability.
type PushResponse struct {
	Accepted  []string          `json:"accepted"`
	Rejected  map[string]string `json:"rejected"`
	Conflicts []string          `json:"conflicts"`
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "marshal sync payload", err)
	}
	return b, nil
}

func unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return pkgerr.Wrap(pkgerr.ValidationError, "unmarshal sync payload", err)
	}
	return nil
}
