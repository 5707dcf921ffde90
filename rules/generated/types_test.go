package generated

import (
	"testing"

	"github.com/liamcoop/compliance/rules/condition"
)

func TestLetterFactsContext(t *testing.T) {
	facts := LetterFacts{
		Claim: Claim{
			Status:       "DENIED",
			DenialReason: "Not medically necessary",
			Amount:       1250.5,
		},
		Member:  Member{PreferredLanguage: "Spanish"},
		Request: Request{Expedited: Bool(true)},
		Extra: map[string]any{
			"plan": map[string]any{"market": "individual"},
		},
	}

	dc, err := facts.Context()
	if err != nil {
		t.Fatalf("Context() failed: %v", err)
	}

	tests := []struct {
		path string
		want condition.Value
	}{
		{"claim.status", condition.String("DENIED")},
		{"claim.amount", condition.Number(1250.5)},
		{"member.preferredLanguage", condition.String("Spanish")},
		{"request.expedited", condition.Bool(true)},
		{"plan.market", condition.String("individual")},
		{"claim.appealLevel", condition.Null()},
		{"claim.isEmergency", condition.Null()},
		{"provider.networkStatus", condition.Null()},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := dc.Resolve(tt.path); !got.Equal(tt.want) {
				t.Errorf("Resolve(%s) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLetterFactsConditions(t *testing.T) {
	dc, err := LetterFacts{Claim: Claim{Status: "DENIED", Type: "pharmacy"}}.Context()
	if err != nil {
		t.Fatalf("Context() failed: %v", err)
	}

	ok, err := condition.Evaluate("{{claim.type}} === 'pharmacy' && {{claim.status}} === 'DENIED'", dc)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !ok {
		t.Error("condition should hold for the typed facts")
	}
}

func TestLetterFactsExtraCollision(t *testing.T) {
	facts := LetterFacts{Extra: map[string]any{"claim": map[string]any{}}}
	if _, err := facts.Context(); err == nil {
		t.Error("Context() should reject extra keys that shadow typed sections")
	}
}

func TestLetterFactsExplicitFalse(t *testing.T) {
	dc, err := LetterFacts{Claim: Claim{Status: "DENIED", IsEmergency: Bool(false)}}.Context()
	if err != nil {
		t.Fatalf("Context() failed: %v", err)
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"{{claim.isEmergency}} === false", true},
		{"{{claim.isEmergency}} === null", false},
		{"{{claim.benefitLimitApplied}} === null", true},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := condition.Evaluate(tt.condition, dc)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}
