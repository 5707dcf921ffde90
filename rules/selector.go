package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// selectorCostLimit bounds a single selector evaluation
const selectorCostLimit = 1000000

// Selector is a compiled CEL expression over rule metadata used to choose a
// sub-catalog, e.g.
//
//	rule.category == "federal" && rule.priority in ["high", "critical"]
//
// The expression sees a single variable, rule, with the keys id, name,
// category, priority, blocking, regulation, autoFix and actions (the list of
// required action types). Selectors never see the data context.
type Selector struct {
	expr string
	prog cel.Program
}

var selectorEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("rule", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}()

// CompileSelector compiles a CEL selector expression
func CompileSelector(expr string) (*Selector, error) {
	ast, issues := selectorEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := selectorEnv.Program(ast, cel.CostLimit(selectorCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Selector{expr: expr, prog: prog}, nil
}

// String returns the source expression
func (s *Selector) String() string { return s.expr }

// Match reports whether the selector accepts r. Non-boolean results are errors.
func (s *Selector) Match(r ComplianceRule) (bool, error) {
	out, _, err := s.prog.Eval(map[string]any{"rule": ruleToMap(r)})
	if err != nil {
		return false, fmt.Errorf("selector %q on rule %s: %w", s.expr, r.ID, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("selector %q must return a boolean, got %T", s.expr, out.Value())
	}
	return matched, nil
}

// Select returns the sub-catalog of rules the selector accepts, order preserved
func (c *Catalog) Select(s *Selector) (*Catalog, error) {
	var selErr error
	sub := c.subset(func(r ComplianceRule) bool {
		if selErr != nil {
			return false
		}
		ok, err := s.Match(r)
		if err != nil {
			selErr = err
			return false
		}
		return ok
	})
	if selErr != nil {
		return nil, selErr
	}
	return sub, nil
}

// SelectExpr compiles expr and applies it
func (c *Catalog) SelectExpr(expr string) (*Catalog, error) {
	s, err := CompileSelector(expr)
	if err != nil {
		return nil, err
	}
	return c.Select(s)
}

func ruleToMap(r ComplianceRule) map[string]any {
	actions := make([]any, len(r.RequiredActions))
	for i, a := range r.RequiredActions {
		actions[i] = string(a.Type)
	}
	return map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"category":   string(r.Category),
		"priority":   string(r.Priority),
		"blocking":   r.Blocking,
		"regulation": r.Regulation,
		"autoFix":    r.AutoFix != nil,
		"actions":    actions,
	}
}
