package rules

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func customRule(id string, active bool) *CustomRule {
	return &CustomRule{
		ComplianceRule: testRule(id, false, PriorityMedium, "{{claim.status}} === 'DENIED'"),
		Active:         active,
	}
}

func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

func TestInMemoryRuleStoreAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := customRule("test-1", true)
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get("test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if retrieved.ID != rule.ID {
		t.Errorf("Retrieved rule ID = %s, want %s", retrieved.ID, rule.ID)
	}
	if retrieved.TriggerCondition != rule.TriggerCondition {
		t.Errorf("Retrieved condition = %s, want %s", retrieved.TriggerCondition, rule.TriggerCondition)
	}
}

func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryRuleStore()

	first := customRule("duplicate-id", true)
	first.Name = "First Rule"
	second := customRule("duplicate-id", true)
	second.Name = "Second Rule"

	if err := store.Add(first); err != nil {
		t.Fatalf("First Add() should succeed: %v", err)
	}
	if err := store.Add(second); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("Add() with duplicate ID should return ErrRuleExists, got %v", err)
	}

	retrieved, err := store.Get("duplicate-id")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if retrieved.Name != "First Rule" {
		t.Errorf("Rule should not have been overwritten, Name = %s, want 'First Rule'", retrieved.Name)
	}
}

func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if _, err := store.Get("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("Get() with unknown ID should return ErrRuleNotFound, got %v", err)
	}
}

func TestInMemoryRuleStoreTimestamps(t *testing.T) {
	store := NewInMemoryRuleStore()

	beforeAdd := time.Now()
	if err := store.Add(customRule("timestamp-test", true)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	afterAdd := time.Now()

	retrieved, err := store.Get("timestamp-test")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if retrieved.CreatedAt.Before(beforeAdd) || retrieved.CreatedAt.After(afterAdd) {
		t.Errorf("CreatedAt = %v, should be between %v and %v", retrieved.CreatedAt, beforeAdd, afterAdd)
	}
	if !retrieved.UpdatedAt.Equal(retrieved.CreatedAt) {
		t.Errorf("UpdatedAt = %v, should equal CreatedAt = %v on creation", retrieved.UpdatedAt, retrieved.CreatedAt)
	}

	time.Sleep(5 * time.Millisecond)
	update := customRule("timestamp-test", true)
	update.Name = "Renamed"
	if err := store.Update(update); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	updated, _ := store.Get("timestamp-test")
	if !updated.CreatedAt.Equal(retrieved.CreatedAt) {
		t.Errorf("Update() must preserve CreatedAt")
	}
	if !updated.UpdatedAt.After(retrieved.UpdatedAt) {
		t.Errorf("Update() must advance UpdatedAt")
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name = %s, want Renamed", updated.Name)
	}
}

func TestInMemoryRuleStoreUpdateNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Update(customRule("missing", true)); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("Update() with unknown ID should return ErrRuleNotFound, got %v", err)
	}
}

func TestInMemoryRuleStoreListActiveOrder(t *testing.T) {
	store := NewInMemoryRuleStore()

	ids := []string{"zeta", "alpha", "mid", "inactive", "beta"}
	for _, id := range ids {
		if err := store.Add(customRule(id, id != "inactive")); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}
	// Updating keeps the original position
	if err := store.Update(customRule("zeta", true)); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}

	var got []string
	for _, r := range active {
		got = append(got, r.ID)
	}
	want := []string{"zeta", "alpha", "mid", "beta"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ListActive() = %v, want %v", got, want)
	}
}

func TestInMemoryRuleStoreListActiveEmpty(t *testing.T) {
	store := NewInMemoryRuleStore()

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() on empty store returned %d rules", len(active))
	}
}

func TestInMemoryRuleStoreDelete(t *testing.T) {
	store := NewInMemoryRuleStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Add(customRule(id, true)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}
	if err := store.Delete("b"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get("b"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() after Delete() should return ErrRuleNotFound, got %v", err)
	}
	if err := store.Delete("b"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second Delete() should return ErrRuleNotFound, got %v", err)
	}

	// A re-added id goes to the end
	if err := store.Add(customRule("b", true)); err != nil {
		t.Fatalf("re-Add() failed: %v", err)
	}
	active, _ := store.ListActive()
	if len(active) != 3 || active[2].ID != "b" {
		t.Errorf("re-added rule should be last, got %v", active)
	}
}

func TestInMemoryRuleStoreReturnsCopies(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := customRule("copy", true)
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	rule.Name = "mutated after add"

	got, _ := store.Get("copy")
	got.RequiredActions[0].ComponentID = "mutated after get"

	again, _ := store.Get("copy")
	if again.Name == "mutated after add" || again.RequiredActions[0].ComponentID == "mutated after get" {
		t.Error("store must not share memory with callers")
	}
}

func TestActiveComplianceRules(t *testing.T) {
	store := NewInMemoryRuleStore()
	store.Add(customRule("one", true))
	store.Add(customRule("two", false))

	rules, err := ActiveComplianceRules(store)
	if err != nil {
		t.Fatalf("ActiveComplianceRules() failed: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "one" {
		t.Errorf("ActiveComplianceRules() = %+v", rules)
	}

	cat, err := NewCatalog(rules)
	if err != nil {
		t.Fatalf("NewCatalog() failed: %v", err)
	}
	if _, ok := cat.Get("one"); !ok {
		t.Error("custom rule should be in the catalog")
	}
}

func TestInMemoryRuleStoreConcurrentAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	rulesPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < rulesPerGoroutine; j++ {
				if err := store.Add(customRule(fmt.Sprintf("g%d-%d", goroutineID, j), true)); err != nil {
					t.Errorf("Concurrent Add() failed: %v", err)
				}
			}
		}(i)
	}

	wg.Wait()

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() after concurrent adds failed: %v", err)
	}
	expected := numGoroutines * rulesPerGoroutine
	if len(active) != expected {
		t.Errorf("After concurrent adds, got %d rules, want %d", len(active), expected)
	}
}

func TestInMemoryRuleStoreConcurrentReadWrite(t *testing.T) {
	store := NewInMemoryRuleStore()
	for i := 0; i < 10; i++ {
		store.Add(customRule(fmt.Sprintf("rule-%d", i), true))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := store.Get("rule-5"); err != nil {
					t.Errorf("Concurrent Get() failed: %v", err)
				}
				if _, err := store.ListActive(); err != nil {
					t.Errorf("Concurrent ListActive() failed: %v", err)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					store.Add(customRule(fmt.Sprintf("writer-%d-%d", writerID, j%10), true))
				} else {
					store.Update(customRule("rule-5", true))
				}
			}
		}(i)
	}

	wg.Wait()
}
