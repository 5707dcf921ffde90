package rules

import (
	"fmt"
	"sync"
	"time"
)

// CustomRule is a tenant-authored ComplianceRule together with its storage
// metadata
type CustomRule struct {
	ComplianceRule `yaml:",inline"`
	Active         bool      `json:"active" yaml:"active"`
	CreatedAt      time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time `json:"updatedAt" yaml:"-"`
}

// RuleStore manages custom rule persistence and retrieval. ListActive returns
// rules in creation order so that catalogs built from a store are stable.
type RuleStore interface {
	// Add a new rule
	Add(rule *CustomRule) error

	// Get a rule by ID
	Get(id string) (*CustomRule, error)

	// List all active rules
	ListActive() ([]*CustomRule, error)

	// Update an existing rule
	Update(rule *CustomRule) error

	// Delete a rule
	Delete(id string) error
}

// ActiveComplianceRules returns the store's active rules ready for NewCatalog
func ActiveComplianceRules(store RuleStore) ([]ComplianceRule, error) {
	custom, err := store.ListActive()
	if err != nil {
		return nil, err
	}
	out := make([]ComplianceRule, len(custom))
	for i, c := range custom {
		out[i] = c.ComplianceRule.clone()
	}
	return out, nil
}

// InMemoryRuleStore implements RuleStore using an in-memory map
// Thread-safe with RWMutex
type InMemoryRuleStore struct {
	rules map[string]*CustomRule
	order []string // insertion order
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*CustomRule),
	}
}

// Add adds a new rule to the store and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(rule *CustomRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = copyCustom(rule)
	s.order = append(s.order, rule.ID)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*CustomRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return copyCustom(rule), nil
}

// ListActive returns all active rules in insertion order
func (s *InMemoryRuleStore) ListActive() ([]*CustomRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*CustomRule
	for _, id := range s.order {
		if rule := s.rules[id]; rule.Active {
			active = append(active, copyCustom(rule))
		}
	}
	return active, nil
}

// Update replaces an existing rule. CreatedAt is preserved and the rule keeps
// its position.
func (s *InMemoryRuleStore) Update(rule *CustomRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	// Preserve original CreatedAt timestamp
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = copyCustom(rule)
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func copyCustom(r *CustomRule) *CustomRule {
	cp := *r
	cp.ComplianceRule = r.ComplianceRule.clone()
	return &cp
}
