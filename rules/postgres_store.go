package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const ruleColumns = `id, name, description, category, regulation, trigger_condition,
		required_actions, blocking, priority, auto_fix, effective_date, expiration_date,
		active, created_at, updated_at`

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *CustomRule) error {
	// Check if rule already exists
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM compliance_rules WHERE id = $1 AND tenant_id = $2)
	`, rule.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	actions, fix, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO compliance_rules (id, tenant_id, name, description, category, regulation,
			trigger_condition, required_actions, blocking, priority, auto_fix,
			effective_date, expiration_date, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, rule.ID, s.tenantID, rule.Name, rule.Description, string(rule.Category), rule.Regulation,
		rule.TriggerCondition, actions, rule.Blocking, string(rule.Priority), fix,
		nullTime(rule.EffectiveDate), nullTime(rule.ExpirationDate), rule.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*CustomRule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM compliance_rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListActive returns all active rules for the tenant ordered by creation time
// then id
func (s *PostgresRuleStore) ListActive() ([]*CustomRule, error) {
	rows, err := s.db.Query(`
		SELECT `+ruleColumns+`
		FROM compliance_rules
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*CustomRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(rule *CustomRule) error {
	actions, fix, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE compliance_rules
		SET name = $1, description = $2, category = $3, regulation = $4,
			trigger_condition = $5, required_actions = $6, blocking = $7, priority = $8,
			auto_fix = $9, effective_date = $10, expiration_date = $11, active = $12,
			updated_at = $13
		WHERE id = $14 AND tenant_id = $15
	`, rule.Name, rule.Description, string(rule.Category), rule.Regulation,
		rule.TriggerCondition, actions, rule.Blocking, string(rule.Priority),
		fix, nullTime(rule.EffectiveDate), nullTime(rule.ExpirationDate), rule.Active,
		rule.UpdatedAt, rule.ID, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM compliance_rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*CustomRule, error) {
	var (
		r                   CustomRule
		category, priority  string
		actionsJSON, fixRaw []byte
		effective, expires  sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &category, &r.Regulation, &r.TriggerCondition,
		&actionsJSON, &r.Blocking, &priority, &fixRaw, &effective, &expires,
		&r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Category = Category(category)
	r.Priority = Priority(priority)
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &r.RequiredActions); err != nil {
			return nil, fmt.Errorf("rule %s: invalid required_actions: %w", r.ID, err)
		}
	}
	if len(fixRaw) > 0 && string(fixRaw) != "null" {
		var fix AutoFix
		if err := json.Unmarshal(fixRaw, &fix); err != nil {
			return nil, fmt.Errorf("rule %s: invalid auto_fix: %w", r.ID, err)
		}
		r.AutoFix = &fix
	}
	if effective.Valid {
		t := effective.Time
		r.EffectiveDate = &t
	}
	if expires.Valid {
		t := expires.Time
		r.ExpirationDate = &t
	}
	return &r, nil
}

// encodeRuleJSON marshals the JSONB columns. A nil auto-fix is stored as SQL NULL.
func encodeRuleJSON(rule *CustomRule) (actions []byte, fix []byte, err error) {
	reqActions := rule.RequiredActions
	if reqActions == nil {
		reqActions = []ComplianceAction{}
	}
	actions, err = json.Marshal(reqActions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal required actions: %w", err)
	}
	if rule.AutoFix != nil {
		fix, err = json.Marshal(rule.AutoFix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal auto fix: %w", err)
		}
	}
	return actions, fix, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
