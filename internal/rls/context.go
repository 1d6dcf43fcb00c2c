// Package rls implements the row-level-security context bridge (C7): it
// derives a per-request RLS context from the authorization engine (roles,
// allowed resource ids, elevation flag) and applies it to a relational
// connection as session variables scoped to one transaction.
package rls

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"phicore/internal/auditlog"
	"phicore/internal/authz"
	"phicore/internal/pkgerr"
	"phicore/internal/tuplestore"
)

// Context is the per-transaction RLS context from spec.md §3.4.
type Context struct {
	UserID           string
	OrganizationID   string
	Role             string
	Elevated         bool
	AllowedResources []string
	AccessUntil      *time.Time
	SessionID        string
}

// Bridge builds and applies RLS contexts from an authorization engine,
// a raw tuple store (for role lookups that bypass the rewrite engine),
// and an audit sink.
type Bridge struct {
	engine *authz.Engine
	store  tuplestore.Store
	audit  auditlog.Sink
}

// NewBridge constructs a Bridge. audit may be nil, in which case a
// discarding logrus sink is used.
func NewBridge(engine *authz.Engine, store tuplestore.Store, audit auditlog.Sink) *Bridge {
	if audit == nil {
		audit = auditlog.NewLogrusSink(nil)
	}
	return &Bridge{engine: engine, store: store, audit: audit}
}

func userSubject(userID string) tuplestore.Subject {
	return tuplestore.Subject{Object: tuplestore.Object{Type: "user", ID: userID}}
}

// GenerateContext implements spec.md §4.7's generate_context: resolves the
// caller's role, evaluates any requested elevation, and computes the
// allowed-resource set for resourceType.
func (b *Bridge) GenerateContext(ctx context.Context, tenant, userID, organizationID, resourceType string, requestedElevated bool) (Context, error) {
	subject := userSubject(userID)

	roleTuples, err := b.store.ReadTuples(ctx, tuplestore.ReadFilter{
		Tenant:   tenant,
		Subject:  &subject,
		Relation: "member",
	})
	if err != nil {
		return Context{}, pkgerr.Wrap(pkgerr.StorageError, "resolve role for rls context", err)
	}
	var role string
	var accessUntil *time.Time
	for _, t := range roleTuples {
		if t.Object.Type != "role" {
			continue
		}
		role = t.Object.ID
		accessUntil = t.ExpiresAt
		break
	}
	if role == "" {
		return Context{}, pkgerr.New(pkgerr.NotFound, "no role membership found for user "+userID)
	}

	rlsCtx := Context{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           role,
		SessionID:      uuid.NewString(),
		AccessUntil:    accessUntil,
	}

	if requestedElevated {
		granted, err := b.engine.Check(ctx, tenant, subject, "can_elevate", tuplestore.Object{Type: "role", ID: role})
		if err != nil {
			return Context{}, pkgerr.Wrap(pkgerr.Internal, "evaluate elevation grant", err)
		}
		rlsCtx.Elevated = granted
		if granted {
			b.audit.Record(ctx, auditlog.Event{
				Timestamp:      time.Now().UTC(),
				EventType:      auditlog.Access,
				SecretOrResKey: resourceType,
				User:           userID,
				Success:        true,
				Warning:        true,
				AdditionalField: map[string]any{
					"message": "elevated access requested",
				},
			})
		}
	}

	if rlsCtx.Elevated {
		rlsCtx.AllowedResources = nil
	} else {
		objects, err := b.engine.ListObjects(ctx, tenant, subject, "viewer", resourceType)
		if err != nil {
			return Context{}, pkgerr.Wrap(pkgerr.Internal, "list allowed resources", err)
		}
		ids := make([]string, 0, len(objects))
		for _, o := range objects {
			ids = append(ids, o.ID)
		}
		rlsCtx.AllowedResources = ids
	}

	b.audit.Record(ctx, auditlog.Event{
		Timestamp:      time.Now().UTC(),
		EventType:      auditlog.Access,
		SecretOrResKey: resourceType,
		User:           userID,
		Success:        true,
	})

	return rlsCtx, nil
}

// sessionVariables builds the app.* SET LOCAL assignments from spec.md §6.
func (c Context) sessionVariables() map[string]string {
	vars := map[string]string{
		"app.current_user_id": c.UserID,
		"app.organization_id": c.OrganizationID,
		"app.role":            c.Role,
		"app.elevated":        boolString(c.Elevated),
		"app.allowed_resources": strings.Join(c.AllowedResources, ","),
		"app.session_id":      c.SessionID,
	}
	if c.AccessUntil != nil {
		vars["app.access_until"] = c.AccessUntil.UTC().Format(time.RFC3339)
	}
	return vars
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
