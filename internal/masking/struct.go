package masking

import (
	"encoding/json"
	"reflect"
	"strings"

	"phicore/internal/pkgerr"
)

// RegisterStructTags walks the fields of the struct type behind sample,
// and for every field carrying a `mask:"<preset>"` tag, registers that
// field's JSON name against the named preset's rule in registry. presets
// is keyed by preset name (typically DefaultRegistry()'s own field names,
// e.g. `mask:"ssn"` reuses the "ssn" preset). This lets typed domain
// structs opt into the same rule table the generic map pipeline uses,
// without duplicating the Partial/Redacted/Hashed configuration per type.
func RegisterStructTags(registry *Registry, presets *Registry, sample any) error {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return pkgerr.New(pkgerr.ValidationError, "RegisterStructTags requires a struct or struct pointer")
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		presetName, ok := field.Tag.Lookup("mask")
		if !ok {
			continue
		}
		rule, found := presets.Lookup(presetName)
		if !found {
			return pkgerr.New(pkgerr.ValidationError, "mask tag references unknown preset: "+presetName)
		}
		jsonName := jsonFieldName(field)
		registry.Put(jsonName, rule.Sensitivity, rule.Pattern)
	}
	return nil
}

func jsonFieldName(field reflect.StructField) string {
	tag, ok := field.Tag.Lookup("json")
	if !ok || tag == "" {
		return field.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return field.Name
	}
	return name
}

// ToMaskable converts a typed struct (or pointer to one) to the
// map[string]any/[]any shape Pipeline.Mask operates over, round-tripping
// through encoding/json so field names follow the struct's own json tags.
func ToMaskable(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "marshal value for masking", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Internal, "unmarshal value for masking", err)
	}
	return out, nil
}
