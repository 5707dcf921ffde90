package rules

import (
	"fmt"
	"strings"
)

// AutoFixDescriptor is a machine-readable description of a correction for one
// violation. Producing a descriptor never modifies the letter; applying it is
// left to the caller.
type AutoFixDescriptor struct {
	RuleID      string         `json:"ruleId"`
	Type        ActionType     `json:"type"`
	Target      string         `json:"target"`
	Value       any            `json:"value,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Description string         `json:"description"`
}

// Advise returns the auto-fix descriptor for a violation of rule. ok is false
// when the rule has no auto-fix or the violation was raised by another rule.
func Advise(v ComplianceViolation, rule ComplianceRule) (*AutoFixDescriptor, bool) {
	if rule.AutoFix == nil || v.RuleID != rule.ID {
		return nil, false
	}
	fix := rule.AutoFix

	d := &AutoFixDescriptor{
		RuleID:     rule.ID,
		Type:       fix.Type,
		Value:      fix.Value,
		Parameters: cloneParams(fix.Parameters),
	}
	switch fix.Type {
	case ActionInsertComponent:
		d.Target = fix.ComponentID
		d.Description = "insert component " + fix.ComponentID
	case ActionRequireField:
		d.Target = fix.FieldName
		if fix.Value != nil {
			d.Description = fmt.Sprintf("set field %s to %v", fix.FieldName, fix.Value)
		} else {
			d.Description = "require field " + fix.FieldName
		}
	case ActionValidation:
		d.Target = fix.FieldName
		d.Description = strings.TrimSpace("validate " + fix.FieldName)
	case ActionNotification, ActionWorkflow:
		d.Target = firstNonEmpty(fix.ComponentID, fix.FieldName)
		d.Description = fmt.Sprintf("trigger %s for rule %s", fix.Type, rule.ID)
	default:
		d.Target = firstNonEmpty(fix.ComponentID, fix.FieldName)
		d.Description = fmt.Sprintf("apply %s", fix.Type)
	}
	return d, true
}

// AdviseReport returns descriptors for every fixable violation in report, in
// violation order. Rules are looked up in cat; violations of rules the
// catalog does not hold are skipped.
func AdviseReport(report *ComplianceReport, cat *Catalog) []AutoFixDescriptor {
	if report == nil || cat == nil {
		return nil
	}
	var out []AutoFixDescriptor
	for _, v := range report.Violations {
		if !v.AutoFixAvailable {
			continue
		}
		r, ok := cat.Get(v.RuleID)
		if !ok {
			continue
		}
		if d, ok := Advise(v, r); ok {
			out = append(out, *d)
		}
	}
	return out
}

// ComponentsToInsert returns the distinct component ids the descriptors would
// insert, in first-seen order. Descriptors from AdviseReport are in
// violation order, so blocking components come first.
func ComponentsToInsert(fixes []AutoFixDescriptor) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(fixes))
	for _, f := range fixes {
		if f.Type != ActionInsertComponent || f.Target == "" {
			continue
		}
		if _, dup := seen[f.Target]; dup {
			continue
		}
		seen[f.Target] = struct{}{}
		out = append(out, f.Target)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
