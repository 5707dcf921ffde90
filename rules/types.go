package rules

import (
	"time"
)

// Category groups rules by the authority that imposes them
type Category string

const (
	CategoryFederal      Category = "federal"
	CategoryState        Category = "state"
	CategoryInternal     Category = "internal"
	CategoryBestPractice Category = "best_practice"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryFederal, CategoryState, CategoryInternal, CategoryBestPractice:
		return true
	}
	return false
}

// Priority is the catalog owner's ranking of a rule
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Severity of a violation. Ordered error > warning > info.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities; higher is more severe
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ActionType identifies what a ComplianceAction asks for
type ActionType string

const (
	ActionInsertComponent ActionType = "insert_component"
	ActionRequireField    ActionType = "require_field"
	ActionValidation      ActionType = "validation"
	ActionNotification    ActionType = "notification"
	ActionWorkflow        ActionType = "workflow"
)

// Valid reports whether t is a known action type
func (t ActionType) Valid() bool {
	switch t {
	case ActionInsertComponent, ActionRequireField, ActionValidation, ActionNotification, ActionWorkflow:
		return true
	}
	return false
}

// ComplianceAction describes a remediation step. It is never evaluated.
type ComplianceAction struct {
	Type           ActionType     `json:"type" yaml:"type"`
	ComponentID    string         `json:"componentId,omitempty" yaml:"componentId,omitempty"`
	FieldName      string         `json:"fieldName,omitempty" yaml:"fieldName,omitempty"`
	ValidationRule string         `json:"validationRule,omitempty" yaml:"validationRule,omitempty"`
	Message        string         `json:"message,omitempty" yaml:"message,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// AutoFix describes a correction an external applier could perform
type AutoFix struct {
	Type        ActionType     `json:"type" yaml:"type"`
	ComponentID string         `json:"componentId,omitempty" yaml:"componentId,omitempty"`
	FieldName   string         `json:"fieldName,omitempty" yaml:"fieldName,omitempty"`
	Value       any            `json:"value,omitempty" yaml:"value,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ComplianceRule is a single regulatory rule guarded by a trigger condition
type ComplianceRule struct {
	ID               string             `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	Description      string             `json:"description" yaml:"description"`
	Category         Category           `json:"category" yaml:"category"`
	Regulation       string             `json:"regulation,omitempty" yaml:"regulation,omitempty"`
	TriggerCondition string             `json:"triggerCondition" yaml:"triggerCondition"`
	RequiredActions  []ComplianceAction `json:"requiredActions" yaml:"requiredActions"`
	Blocking         bool               `json:"blocking" yaml:"blocking"`
	Priority         Priority           `json:"priority" yaml:"priority"`
	AutoFix          *AutoFix           `json:"autoFix,omitempty" yaml:"autoFix,omitempty"`
	EffectiveDate    *time.Time         `json:"effectiveDate,omitempty" yaml:"effectiveDate,omitempty"`
	ExpirationDate   *time.Time         `json:"expirationDate,omitempty" yaml:"expirationDate,omitempty"`
}

// ActiveAt reports whether t falls inside the rule's effective window. Rules
// without dates are always active. The engine does not call this; callers use
// it through Catalog.ActiveAt.
func (r ComplianceRule) ActiveAt(t time.Time) bool {
	if r.EffectiveDate != nil && t.Before(*r.EffectiveDate) {
		return false
	}
	if r.ExpirationDate != nil && !t.Before(*r.ExpirationDate) {
		return false
	}
	return true
}

// clone returns a deep copy so catalog contents cannot be mutated through
// returned values
func (r ComplianceRule) clone() ComplianceRule {
	out := r
	if r.RequiredActions != nil {
		out.RequiredActions = make([]ComplianceAction, len(r.RequiredActions))
		for i, a := range r.RequiredActions {
			a.Parameters = cloneParams(a.Parameters)
			out.RequiredActions[i] = a
		}
	}
	if r.AutoFix != nil {
		fix := *r.AutoFix
		fix.Parameters = cloneParams(fix.Parameters)
		out.AutoFix = &fix
	}
	if r.EffectiveDate != nil {
		d := *r.EffectiveDate
		out.EffectiveDate = &d
	}
	if r.ExpirationDate != nil {
		d := *r.ExpirationDate
		out.ExpirationDate = &d
	}
	return out
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneAny(e)
		}
		return cp
	case []string:
		cp := make([]string, len(t))
		copy(cp, t)
		return cp
	case map[string]any:
		return cloneParams(t)
	default:
		return v
	}
}

// ComplianceViolation records that a rule's condition matched
type ComplianceViolation struct {
	RuleID           string   `json:"ruleId"`
	RuleName         string   `json:"ruleName"`
	Severity         Severity `json:"severity"`
	Message          string   `json:"message"`
	Suggestion       string   `json:"suggestion"`
	AutoFixAvailable bool     `json:"autoFixAvailable"`
}

// ComplianceReport is the single output of an evaluation
type ComplianceReport struct {
	Compliant          bool                  `json:"compliant"`
	Violations         []ComplianceViolation `json:"violations"`
	TriggeredRules     []ComplianceRule      `json:"triggeredRules"`
	BlockingViolations []ComplianceViolation `json:"blockingViolations"`
	Summary            string                `json:"summary"`
}

// Errors returns the number of error severity violations
func (r *ComplianceReport) Errors() int {
	return r.count(SeverityError)
}

// Warnings returns the number of warning severity violations
func (r *ComplianceReport) Warnings() int {
	return r.count(SeverityWarning)
}

func (r *ComplianceReport) count(s Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}
