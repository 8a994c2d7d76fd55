package wizard

import "strings"

// IsStepComplete reports whether every required field of the step holds a
// non-empty value. It is pure: the same step and draft always give the same
// answer.
func IsStepComplete(step StepDef, draft *Draft) bool {
	return len(MissingFields(step, draft)) == 0
}

// MissingFields returns the required fields of the step that are still empty,
// in declaration order.
func MissingFields(step StepDef, draft *Draft) []string {
	policy := draft.schema.ListPolicy
	var missing []string
	for _, name := range step.Required {
		def, _ := draft.schema.Field(step.Section, name)
		if !filled(def, policy, draft.sections[step.Section][name]) {
			missing = append(missing, name)
		}
	}
	return missing
}

func filled(def FieldDef, policy ListPolicy, v Value) bool {
	switch def.Type {
	case FieldList:
		if policy == ListIgnore {
			return true
		}
		for _, item := range v.List {
			if strings.TrimSpace(item) != "" {
				return true
			}
		}
		return false
	case FieldNumber:
		return v.IsSet()
	default:
		return v.IsSet() && strings.TrimSpace(v.Str) != ""
	}
}
