package replica

import (
	"context"
	"testing"

	"phicore/internal/crdt"
)

func testMasterKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestOpenInitializesSidecarOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.meta.DatabaseID.String() == "" {
		t.Fatalf("expected a generated database id")
	}

	reopened, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.meta.DatabaseID != r.meta.DatabaseID {
		t.Fatalf("expected reopen to reuse the same database id")
	}
}

func TestQueuePendingMarkSyncedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	op := crdt.Operation{EntityType: "patient", EntityID: "p1", Kind: crdt.OpCreate}
	if err := r.Queue(ctx, op); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	pending, err := r.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}
	id := pending[0].Op.ID
	if id == "" {
		t.Fatalf("expected a generated operation id")
	}
	if pending[0].Op.OriginNode != 1 {
		t.Fatalf("expected origin node defaulted to replica node id, got %d", pending[0].Op.OriginNode)
	}

	if err := r.MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	pending, err = r.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending after sync: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries after sync, got %d", len(pending))
	}
}

func TestMarkFailedRecordsRetryAndReason(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	op := crdt.Operation{EntityType: "patient", EntityID: "p2", Kind: crdt.OpUpdate}
	if err := r.Queue(ctx, op); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	pending, _ := r.Pending(ctx, 0)
	id := pending[0].Op.ID

	if err := r.MarkFailed(ctx, id, "connection refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	pending, _ = r.Pending(ctx, 0)
	if len(pending) != 1 {
		t.Fatalf("failed entries remain pending, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 || pending[0].LastError != "connection refused" {
		t.Fatalf("expected retry count 1 and recorded reason, got %+v", pending[0])
	}
}

func TestQueuePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r, err := Open(dir, testMasterKey(), 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Queue(ctx, crdt.Operation{EntityType: "encounter", EntityID: "e1", Kind: crdt.OpCreate}); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	reopened, err := Open(dir, testMasterKey(), 7)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pending, err := reopened.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Op.EntityID != "e1" {
		t.Fatalf("expected queue to survive reopen, got %+v", pending)
	}
}

func TestEntityPutGetRoundTripsThroughEncryptedDisk(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	type patient struct {
		Name string `json:"name"`
		MRN  string `json:"mrn"`
	}
	in := patient{Name: "Jane Doe", MRN: "12345"}
	if err := r.PutEntity(ctx, "patient", "p1", in); err != nil {
		t.Fatalf("PutEntity: %v", err)
	}

	var out patient
	if err := r.GetEntity(ctx, "patient", "p1", &out); err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if out != in {
		t.Fatalf("expected round-tripped record %+v, got %+v", in, out)
	}

	reopened, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var afterReopen patient
	if err := reopened.GetEntity(ctx, "patient", "p1", &afterReopen); err != nil {
		t.Fatalf("GetEntity after reopen: %v", err)
	}
	if afterReopen != in {
		t.Fatalf("expected record to survive reopen, got %+v", afterReopen)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var out struct{}
	if err := r.GetEntity(context.Background(), "patient", "missing", &out); err == nil {
		t.Fatalf("expected an error for a missing entity")
	}
}

func TestCurrentCounterAdvancesPerQueuedOperation(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, testMasterKey(), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if r.CurrentCounter() != 0 {
		t.Fatalf("expected a fresh replica to start at counter 0")
	}
	_ = r.Queue(ctx, crdt.Operation{EntityType: "x", EntityID: "1", Kind: crdt.OpCreate})
	_ = r.Queue(ctx, crdt.Operation{EntityType: "x", EntityID: "2", Kind: crdt.OpCreate})
	if r.CurrentCounter() != 2 {
		t.Fatalf("expected counter 2 after two queued operations, got %d", r.CurrentCounter())
	}
}
