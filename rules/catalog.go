package rules

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"
)

//go:embed builtin.yaml
var builtinYAML []byte

var (
	builtinOnce  sync.Once
	builtinRules []ComplianceRule
	builtinErr   error
)

// BuiltinRules returns a copy of the built-in rule set in catalog order
func BuiltinRules() ([]ComplianceRule, error) {
	builtinOnce.Do(func() {
		builtinRules, builtinErr = ParseRulesYAML(builtinYAML)
		if builtinErr != nil {
			builtinErr = fmt.Errorf("built-in rules: %w", builtinErr)
		}
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	out := make([]ComplianceRule, len(builtinRules))
	for i, r := range builtinRules {
		out[i] = r.clone()
	}
	return out, nil
}

// Catalog is an ordered, immutable rule collection. All methods are safe for
// concurrent use.
type Catalog struct {
	rules []ComplianceRule
	index map[string]int
}

type catalogOptions struct {
	skipBuiltins bool
}

// CatalogOption configures NewCatalog
type CatalogOption func(*catalogOptions)

// WithoutBuiltins builds the catalog from the supplied rules only
func WithoutBuiltins() CatalogOption {
	return func(o *catalogOptions) { o.skipBuiltins = true }
}

// NewCatalog loads the built-in rules and appends custom in order. It fails
// if any two rules share an id or a rule has no id.
func NewCatalog(custom []ComplianceRule, opts ...CatalogOption) (*Catalog, error) {
	var o catalogOptions
	for _, opt := range opts {
		opt(&o)
	}

	var all []ComplianceRule
	if !o.skipBuiltins {
		builtins, err := BuiltinRules()
		if err != nil {
			return nil, err
		}
		all = builtins
	}
	for _, r := range custom {
		all = append(all, r.clone())
	}
	return newCatalog(all)
}

// newCatalog takes ownership of rules
func newCatalog(rules []ComplianceRule) (*Catalog, error) {
	c := &Catalog{
		rules: rules,
		index: make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			return nil, &CatalogError{Err: ErrInvalidRule, RuleID: r.ID, Index: i, Reason: "empty id"}
		}
		if prev, dup := c.index[r.ID]; dup {
			return nil, &CatalogError{
				Err:    ErrDuplicateID,
				RuleID: r.ID,
				Index:  i,
				Reason: fmt.Sprintf("already defined at position %d", prev),
			}
		}
		c.index[r.ID] = i
	}
	return c, nil
}

// Len returns the number of rules
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns a copy of every rule in catalog order
func (c *Catalog) Rules() []ComplianceRule {
	return c.filter(func(ComplianceRule) bool { return true })
}

// Get looks up a rule by id
func (c *Catalog) Get(id string) (ComplianceRule, bool) {
	i, ok := c.index[id]
	if !ok {
		return ComplianceRule{}, false
	}
	return c.rules[i].clone(), true
}

// ByCategory returns the rules in a category, in catalog order
func (c *Catalog) ByCategory(cat Category) []ComplianceRule {
	return c.filter(func(r ComplianceRule) bool { return r.Category == cat })
}

// BlockingRules returns the blocking rules, in catalog order
func (c *Catalog) BlockingRules() []ComplianceRule {
	return c.filter(func(r ComplianceRule) bool { return r.Blocking })
}

// ActiveAt returns a catalog holding only rules whose effective window
// contains t
func (c *Catalog) ActiveAt(t time.Time) *Catalog {
	return c.subset(func(r ComplianceRule) bool { return r.ActiveAt(t) })
}

// Subset returns a catalog holding the rules keep accepts, order preserved
func (c *Catalog) Subset(keep func(ComplianceRule) bool) *Catalog {
	return c.subset(func(r ComplianceRule) bool { return keep(r.clone()) })
}

func (c *Catalog) subset(keep func(ComplianceRule) bool) *Catalog {
	out := &Catalog{index: make(map[string]int)}
	for _, r := range c.rules {
		if keep(r) {
			out.index[r.ID] = len(out.rules)
			out.rules = append(out.rules, r)
		}
	}
	return out
}

func (c *Catalog) filter(keep func(ComplianceRule) bool) []ComplianceRule {
	out := make([]ComplianceRule, 0, len(c.rules))
	for _, r := range c.rules {
		if keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

// rule returns the stored rule without copying; callers must not modify it
func (c *Catalog) rule(i int) *ComplianceRule { return &c.rules[i] }
