package rules

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var ruleColumnNames = []string{
	"id", "name", "description", "category", "regulation", "trigger_condition",
	"required_actions", "blocking", "priority", "auto_fix", "effective_date", "expiration_date",
	"active", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresRuleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRuleStore(db, "tenant-1"), mock
}

func TestPostgresRuleStoreAdd(t *testing.T) {
	store, mock := newMockStore(t)
	rule := customRule("ny-appeal", true)
	rule.AutoFix = &AutoFix{Type: ActionInsertComponent, ComponentID: "ny-appeal"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM compliance_rules WHERE id = $1 AND tenant_id = $2)")).
		WithArgs("ny-appeal", "tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO compliance_rules")).
		WithArgs("ny-appeal", "tenant-1", rule.Name, rule.Description, "internal", "",
			rule.TriggerCondition, sqlmock.AnyArg(), false, "medium", sqlmock.AnyArg(),
			nil, nil, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if rule.CreatedAt.IsZero() || !rule.UpdatedAt.Equal(rule.CreatedAt) {
		t.Errorf("Add() should stamp timestamps, got %v / %v", rule.CreatedAt, rule.UpdatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRuleStoreAddDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("dup", "tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := store.Add(customRule("dup", true)); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRuleStoreGet(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	effective := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(ruleColumnNames).AddRow(
		"ny-appeal", "NY Appeal", "desc", "state", "NY Ins. Law 4910", "{{member.state}} === 'NY'",
		[]byte(`[{"type":"insert_component","componentId":"ny-appeal"}]`), true, "high",
		[]byte(`{"type":"insert_component","componentId":"ny-appeal"}`), effective, nil,
		true, created, created,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM compliance_rules WHERE id = $1 AND tenant_id = $2")).
		WithArgs("ny-appeal", "tenant-1").
		WillReturnRows(rows)

	r, err := store.Get("ny-appeal")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if r.Category != CategoryState || r.Priority != PriorityHigh || !r.Blocking {
		t.Errorf("unexpected rule: %+v", r)
	}
	if len(r.RequiredActions) != 1 || r.RequiredActions[0].ComponentID != "ny-appeal" {
		t.Errorf("RequiredActions = %+v", r.RequiredActions)
	}
	if r.AutoFix == nil || r.AutoFix.Type != ActionInsertComponent {
		t.Errorf("AutoFix = %+v", r.AutoFix)
	}
	if r.EffectiveDate == nil || !r.EffectiveDate.Equal(effective) {
		t.Errorf("EffectiveDate = %v, want %v", r.EffectiveDate, effective)
	}
	if r.ExpirationDate != nil {
		t.Errorf("ExpirationDate = %v, want nil", r.ExpirationDate)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRuleStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM compliance_rules WHERE id = $1")).
		WithArgs("missing", "tenant-1").
		WillReturnRows(sqlmock.NewRows(ruleColumnNames))

	if _, err := store.Get("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestPostgresRuleStoreListActive(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(ruleColumnNames).
		AddRow("b", "B", "", "internal", "", "true", []byte(`[]`), false, "low", nil, nil, nil, true, now, now).
		AddRow("a", "A", "", "federal", "", "false", []byte(`[]`), true, "critical", nil, nil, nil, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND active = true ORDER BY created_at ASC, id ASC")).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "b" || active[1].ID != "a" {
		t.Fatalf("ListActive() must keep database order, got %+v", active)
	}
	if active[1].AutoFix != nil {
		t.Error("NULL auto_fix should decode as nil")
	}
}

func TestPostgresRuleStoreListActiveBadJSON(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(ruleColumnNames).
		AddRow("bad", "Bad", "", "internal", "", "true", []byte(`{not json`), false, "low", nil, nil, nil, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at")).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	if _, err := store.ListActive(); err == nil {
		t.Fatal("ListActive() should fail on corrupt required_actions")
	}
}

func TestPostgresRuleStoreUpdate(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"updated", 1, nil},
		{"missing", 0, ErrRuleNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			rule := customRule("r1", false)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE compliance_rules")).
				WithArgs(rule.Name, rule.Description, "internal", "", rule.TriggerCondition,
					sqlmock.AnyArg(), false, "medium", sqlmock.AnyArg(), nil, nil, false,
					sqlmock.AnyArg(), "r1", "tenant-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.Update(rule)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Update() failed: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresRuleStoreDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM compliance_rules WHERE id = $1 AND tenant_id = $2")).
		WithArgs("r1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM compliance_rules")).
		WithArgs("r1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete("r1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete("r1"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("second Delete() should return ErrRuleNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRuleStoreQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at")).WillReturnError(boom)

	if _, err := store.ListActive(); !errors.Is(err, boom) {
		t.Fatalf("ListActive() should wrap driver error, got %v", err)
	}
}
