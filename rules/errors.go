package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when two rules in one catalog share an id
	ErrDuplicateID = errors.New("duplicate rule id")

	// ErrInvalidRule is returned for rules that cannot be placed in a catalog
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRuleNotFound is returned by stores when an id is unknown
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned by stores when adding an id that is taken
	ErrRuleExists = errors.New("rule already exists")
)

// CatalogError reports why a catalog could not be constructed
type CatalogError struct {
	Err    error // ErrDuplicateID or ErrInvalidRule
	RuleID string
	Index  int // position of the offending rule in the combined rule list
	Reason string
}

func (e *CatalogError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("catalog: %v %q at position %d: %s", e.Err, e.RuleID, e.Index, e.Reason)
	}
	return fmt.Sprintf("catalog: %v %q at position %d", e.Err, e.RuleID, e.Index)
}

func (e *CatalogError) Unwrap() error { return e.Err }
