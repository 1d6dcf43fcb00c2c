package masking

// FieldRule pairs a field's sensitivity with the pattern to apply when it
// is masked rather than hidden or shown in full.
type FieldRule struct {
	Sensitivity SensitivityLevel
	Pattern     Pattern
}

// Registry is the field name → FieldRule table consulted by the pipeline.
// Fields absent from the registry have no sensitivity (spec.md §4.8 step
// 1) and are always kept as-is.
type Registry struct {
	rules map[string]FieldRule
}

// DefaultRegistry returns the built-in field table from spec.md §4.8:
// ssn/tax_id/mrn/email/phone/diagnosis/medication/prescription/
// treatment_notes sit one lattice step above Internal (Confidential), so
// a subject granted only phi:view:internal sees them Masked rather than
// Hidden, matching the worked scenario in spec.md §8 (S5). Any other
// sensitive field a caller registers independently may sit at a higher
// level and fall through to Hidden when the gap exceeds one step.
func DefaultRegistry() *Registry {
	r := &Registry{rules: make(map[string]FieldRule)}
	r.Put("ssn", Confidential, Partial(0, 4))
	r.Put("tax_id", Confidential, Partial(0, 4))
	r.Put("mrn", Confidential, Partial(0, 4))
	r.Put("email", Confidential, Partial(2, 0))
	r.Put("phone", Confidential, Partial(0, 4))
	r.Put("diagnosis", Confidential, Redacted)
	r.Put("medication", Confidential, Redacted)
	r.Put("prescription", Confidential, Redacted)
	r.Put("treatment_notes", Confidential, Redacted)
	return r
}

// Put registers or overrides the rule for fieldName.
func (r *Registry) Put(fieldName string, sensitivity SensitivityLevel, pattern Pattern) {
	r.rules[fieldName] = FieldRule{Sensitivity: sensitivity, Pattern: pattern}
}

// Lookup returns the rule for fieldName and whether one is registered. An
// unregistered field has no sensitivity and is kept as-is (spec.md §4.8
// step 1).
func (r *Registry) Lookup(fieldName string) (FieldRule, bool) {
	rule, ok := r.rules[fieldName]
	return rule, ok
}
