package masking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"phicore/internal/auditlog"
	"phicore/internal/authz"
	"phicore/internal/pkgerr"
	"phicore/internal/tuplestore"
)

// Pipeline masks a rendered response tree according to a Registry and the
// subject's granted sensitivity level, with an owner/editor shortcut
// resolved via the authorization engine.
type Pipeline struct {
	engine   *authz.Engine
	registry *Registry
	audit    auditlog.Sink
}

// NewPipeline builds a Pipeline. registry defaults to DefaultRegistry()
// when nil; audit defaults to a discarding logrus sink when nil.
func NewPipeline(engine *authz.Engine, registry *Registry, audit auditlog.Sink) *Pipeline {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if audit == nil {
		audit = auditlog.NewLogrusSink(nil)
	}
	return &Pipeline{engine: engine, registry: registry, audit: audit}
}

// Request bundles the context a single masking pass needs: who is asking,
// what object they're asking about, at what granted sensitivity level, and
// where the audit record should attribute the access.
type Request struct {
	Tenant   string
	Subject  tuplestore.Subject
	Object   tuplestore.Object
	Granted  SensitivityLevel
	UserID   string
	Path     string
	Method   string
}

// Mask recurses into value (expected to be the result of decoding a JSON
// response into map[string]any/[]any/scalars), masking or hiding fields
// per the registry, unless the subject is owner/editor of req.Object (in
// which case every field resolves to Full). Exactly one audit record is
// emitted per call.
func (p *Pipeline) Mask(ctx context.Context, req Request, value any) (any, error) {
	fullAccess, err := p.hasOwnerOrEditorShortcut(ctx, req)
	if err != nil {
		return nil, err
	}

	accessed := make(map[string]struct{})
	maskedFields := make(map[string]struct{})

	var out any
	if fullAccess {
		out = deepCollect(value, accessed)
	} else {
		out = p.maskValue(value, req.Granted, accessed, maskedFields)
	}

	p.audit.Record(ctx, auditlog.Event{
		Timestamp:      time.Now().UTC(),
		EventType:      auditlog.Access,
		SecretOrResKey: req.Object.Type + ":" + req.Object.ID,
		User:           req.UserID,
		Success:        true,
		AdditionalField: map[string]any{
			"path":            req.Path,
			"method":          req.Method,
			"fields_accessed": sortedKeys(accessed),
			"fields_masked":   sortedKeys(maskedFields),
		},
	})

	return out, nil
}

func (p *Pipeline) hasOwnerOrEditorShortcut(ctx context.Context, req Request) (bool, error) {
	for _, relation := range []string{"owner", "editor"} {
		allowed, err := p.engine.Check(ctx, req.Tenant, req.Subject, relation, req.Object)
		if err != nil {
			return false, pkgerr.Wrap(pkgerr.Internal, "evaluate masking shortcut", err)
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// maskValue recurses into a decoded-JSON-shaped value, preserving shape.
func (p *Pipeline) maskValue(value any, granted SensitivityLevel, accessed, maskedFields map[string]struct{}) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for field, fv := range v {
			rule, registered := p.registry.Lookup(field)
			if !registered {
				out[field] = p.maskValue(fv, granted, accessed, maskedFields)
				continue
			}
			accessed[field] = struct{}{}
			switch visibility(granted, rule.Sensitivity) {
			case Full:
				out[field] = p.maskValue(fv, granted, accessed, maskedFields)
			case Masked:
				maskedFields[field] = struct{}{}
				if s, ok := fv.(string); ok {
					out[field] = rule.Pattern.Apply(field, s)
				} else {
					out[field] = rule.Pattern.Apply(field, fmt.Sprintf("%v", fv))
				}
			case Hidden:
				maskedFields[field] = struct{}{}
				// omitted entirely: no assignment to out[field]
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = p.maskValue(item, granted, accessed, maskedFields)
		}
		return out
	default:
		return v
	}
}

// deepCollect walks value purely to populate accessed (for audit purposes)
// without altering anything, used on the owner/editor full-access path.
func deepCollect(value any, accessed map[string]struct{}) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for field, fv := range v {
			accessed[field] = struct{}{}
			out[field] = deepCollect(fv, accessed)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCollect(item, accessed)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
