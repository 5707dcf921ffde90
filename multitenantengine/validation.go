package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/compliance/rules"
	"github.com/liamcoop/compliance/rules/condition"
)

const (
	maxRuleIDLength   = 100
	maxNameLength     = 200
	maxRequiredAction = 50
)

var validRuleID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRule checks a custom rule before it is stored. Errors wrap
// rules.ErrInvalidRule.
func ValidateRule(rule rules.ComplianceRule) error {
	if err := validateRuleID(rule.ID); err != nil {
		return invalid("invalid rule id %q: %v", rule.ID, err)
	}

	if strings.TrimSpace(rule.Name) == "" {
		return invalid("rule %s: name cannot be empty", rule.ID)
	}
	if len(rule.Name) > maxNameLength {
		return invalid("rule %s: name length %d exceeds maximum of %d characters", rule.ID, len(rule.Name), maxNameLength)
	}

	if !rule.Category.Valid() {
		return invalid("rule %s: invalid category %q (must be one of: federal, state, internal, best_practice)", rule.ID, rule.Category)
	}
	if !rule.Priority.Valid() {
		return invalid("rule %s: invalid priority %q (must be one of: low, medium, high, critical)", rule.ID, rule.Priority)
	}

	if strings.TrimSpace(rule.TriggerCondition) == "" {
		return invalid("rule %s: trigger condition cannot be empty", rule.ID)
	}
	if _, err := condition.Compile(rule.TriggerCondition); err != nil {
		return invalid("rule %s: %v", rule.ID, err)
	}

	if len(rule.RequiredActions) > maxRequiredAction {
		return invalid("rule %s: %d required actions, maximum allowed is %d", rule.ID, len(rule.RequiredActions), maxRequiredAction)
	}
	for i, a := range rule.RequiredActions {
		if err := validateAction(a); err != nil {
			return invalid("rule %s: required action %d: %v", rule.ID, i, err)
		}
	}

	if rule.AutoFix != nil {
		if err := validateAutoFix(*rule.AutoFix); err != nil {
			return invalid("rule %s: auto-fix: %v", rule.ID, err)
		}
	}

	if rule.EffectiveDate != nil && rule.ExpirationDate != nil && !rule.ExpirationDate.After(*rule.EffectiveDate) {
		return invalid("rule %s: expiration date must be after effective date", rule.ID)
	}

	return nil
}

// ValidateRules validates each rule and checks the set can be placed in a
// catalog after the built-ins
func ValidateRules(custom []rules.ComplianceRule) error {
	for _, r := range custom {
		if err := ValidateRule(r); err != nil {
			return err
		}
	}
	if _, err := rules.NewCatalog(custom); err != nil {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rules.ErrInvalidRule, fmt.Sprintf(format, args...))
}

// validateRuleID checks length and character set
func validateRuleID(id string) error {
	if len(id) == 0 {
		return errors.New("identifier cannot be empty")
	}
	if len(id) > maxRuleIDLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxRuleIDLength)
	}
	if !validRuleID.MatchString(id) {
		return errors.New("must start with a letter or digit, followed by letters, digits, '.', '_' or '-'")
	}
	return nil
}

func validateAction(a rules.ComplianceAction) error {
	if !a.Type.Valid() {
		return fmt.Errorf("invalid action type %q", a.Type)
	}
	switch a.Type {
	case rules.ActionInsertComponent:
		if a.ComponentID == "" {
			return errors.New("insert_component requires componentId")
		}
	case rules.ActionRequireField:
		if a.FieldName == "" {
			return errors.New("require_field requires fieldName")
		}
	case rules.ActionValidation:
		if a.ValidationRule == "" {
			return errors.New("validation requires validationRule")
		}
	}
	return nil
}

func validateAutoFix(f rules.AutoFix) error {
	if !f.Type.Valid() {
		return fmt.Errorf("invalid action type %q", f.Type)
	}
	switch f.Type {
	case rules.ActionInsertComponent:
		if f.ComponentID == "" {
			return errors.New("insert_component requires componentId")
		}
	case rules.ActionRequireField:
		if f.FieldName == "" {
			return errors.New("require_field requires fieldName")
		}
	}
	return nil
}
