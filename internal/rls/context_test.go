package rls

import (
	"context"
	"testing"
	"time"

	"phicore/internal/auditlog"
	"phicore/internal/authz"
	"phicore/internal/tuplestore"
)

func testSchema() *tuplestore.Schema {
	s := tuplestore.NewSchema()
	s.PutType(tuplestore.ObjectTypeSchema{
		Type: "role",
		Relations: map[string]tuplestore.Rewrite{
			"can_elevate": {Kind: tuplestore.This},
		},
	})
	s.PutType(tuplestore.ObjectTypeSchema{
		Type: "patient_record",
		Relations: map[string]tuplestore.Rewrite{
			"viewer": {Kind: tuplestore.This},
		},
	})
	return s
}

func newBridge(t *testing.T, store tuplestore.Store, schema *tuplestore.Schema, audit auditlog.Sink) *Bridge {
	t.Helper()
	engine := authz.NewEngine(store, schema)
	return NewBridge(engine, store, audit)
}

func user(id string) tuplestore.Subject {
	return tuplestore.Subject{Object: tuplestore.Object{Type: "user", ID: id}}
}

func roleObject(id string) tuplestore.Object { return tuplestore.Object{Type: "role", ID: id} }

// TestGenerateContextNonElevatedListsAllowedResources covers the ordinary
// (non-elevated) path: role resolved, allowed_resources populated from
// viewer tuples, no elevation audit emitted.
func TestGenerateContextNonElevatedListsAllowedResources(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	store := tuplestore.NewMemoryStore(schema)

	if err := store.WriteTuple(ctx, tuplestore.Tuple{
		Tenant: "t1", Subject: user("alice"), Relation: "member", Object: roleObject("doctor"),
	}); err != nil {
		t.Fatalf("write role tuple: %v", err)
	}
	if err := store.WriteTuple(ctx, tuplestore.Tuple{
		Tenant: "t1", Subject: user("alice"), Relation: "viewer",
		Object: tuplestore.Object{Type: "patient_record", ID: "rec1"},
	}); err != nil {
		t.Fatalf("write viewer tuple: %v", err)
	}

	audit := auditlog.NewMemorySink()
	b := newBridge(t, store, schema, audit)

	got, err := b.GenerateContext(ctx, "t1", "alice", "org1", "patient_record", false)
	if err != nil {
		t.Fatalf("GenerateContext: %v", err)
	}
	if got.Role != "doctor" {
		t.Fatalf("expected role doctor, got %q", got.Role)
	}
	if got.Elevated {
		t.Fatalf("did not request elevation, got elevated=true")
	}
	if len(got.AllowedResources) != 1 || got.AllowedResources[0] != "rec1" {
		t.Fatalf("expected allowed_resources=[rec1], got %v", got.AllowedResources)
	}
	if got.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}

	events := audit.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly one audit event for a non-elevated request, got %d", len(events))
	}
}

// TestGenerateContextElevatedEmitsWarningAndEmptyAllowedResources
// implements scenario S6.
func TestGenerateContextElevatedEmitsWarningAndEmptyAllowedResources(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	store := tuplestore.NewMemoryStore(schema)

	if err := store.WriteTuple(ctx, tuplestore.Tuple{
		Tenant: "t1", Subject: user("u"), Relation: "member", Object: roleObject("doctor"),
	}); err != nil {
		t.Fatalf("write role tuple: %v", err)
	}
	if err := store.WriteTuple(ctx, tuplestore.Tuple{
		Tenant: "t1", Subject: user("u"), Relation: "can_elevate", Object: roleObject("doctor"),
	}); err != nil {
		t.Fatalf("write elevate tuple: %v", err)
	}

	audit := auditlog.NewMemorySink()
	b := newBridge(t, store, schema, audit)

	got, err := b.GenerateContext(ctx, "t1", "u", "org1", "patient_record", true)
	if err != nil {
		t.Fatalf("GenerateContext: %v", err)
	}
	if !got.Elevated {
		t.Fatalf("expected elevated=true")
	}
	if len(got.AllowedResources) != 0 {
		t.Fatalf("expected empty allowed_resources under elevation, got %v", got.AllowedResources)
	}

	events := audit.Events()
	if len(events) != 2 {
		t.Fatalf("expected an access record plus a warning elevation record, got %d", len(events))
	}
	var sawWarning, sawAccess bool
	for _, ev := range events {
		if ev.EventType != auditlog.Access || !ev.Success {
			t.Fatalf("expected both records to be Access/success, got %+v", ev)
		}
		if ev.Warning {
			sawWarning = true
		} else {
			sawAccess = true
		}
	}
	if !sawWarning || !sawAccess {
		t.Fatalf("expected one warning and one plain access record, got %+v", events)
	}
}

func TestGenerateContextUnknownUserErrors(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	store := tuplestore.NewMemoryStore(schema)
	b := newBridge(t, store, schema, nil)

	if _, err := b.GenerateContext(ctx, "t1", "ghost", "org1", "patient_record", false); err == nil {
		t.Fatalf("expected an error for a user with no role membership")
	}
}

func TestSessionVariablesIncludeAccessUntilWhenSet(t *testing.T) {
	until := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := Context{
		UserID: "u", OrganizationID: "org1", Role: "doctor",
		AllowedResources: []string{"a", "b"}, SessionID: "s1", AccessUntil: &until,
	}
	vars := c.sessionVariables()
	if vars["app.allowed_resources"] != "a,b" {
		t.Fatalf("expected comma-joined allowed resources, got %q", vars["app.allowed_resources"])
	}
	if vars["app.access_until"] != "2026-08-01T00:00:00Z" {
		t.Fatalf("expected RFC3339 access_until, got %q", vars["app.access_until"])
	}
	if vars["app.elevated"] != "false" {
		t.Fatalf("expected elevated=false, got %q", vars["app.elevated"])
	}
}
