// Typed letter facts for callers that build data contexts from Go structs
// rather than raw JSON. Field names follow the paths referenced by the
// built-in catalog.

package generated

import (
	"encoding/json"
	"fmt"

	"github.com/liamcoop/compliance/rules/condition"
)

// Claim describes the claim or service request the letter is about
type Claim struct {
	ID                  string  `json:"id,omitempty"`
	Status              string  `json:"status,omitempty"`
	Type                string  `json:"type,omitempty"`
	DenialReason        string  `json:"denialReason,omitempty"`
	ReviewType          string  `json:"reviewType,omitempty"`
	AppealLevel         string  `json:"appealLevel,omitempty"`
	ServiceCategory     string  `json:"serviceCategory,omitempty"`
	PlaceOfService      string  `json:"placeOfService,omitempty"`
	IsEmergency         *bool   `json:"isEmergency,omitempty"`
	BenefitLimitApplied *bool   `json:"benefitLimitApplied,omitempty"`
	Amount              float64 `json:"amount,omitempty"`
}

// Member is the recipient of the letter
type Member struct {
	ID                string `json:"id,omitempty"`
	State             string `json:"state,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	PlanType          string `json:"planType,omitempty"`
}

// Provider is the rendering or requesting provider
type Provider struct {
	NPI           string `json:"npi,omitempty"`
	NetworkStatus string `json:"networkStatus,omitempty"`
}

// Request carries request handling attributes
type Request struct {
	Urgency   string `json:"urgency,omitempty"`
	Expedited *bool  `json:"expedited,omitempty"`
}

// LetterFacts is the top-level container for all evaluation inputs. Zero
// fields are omitted and therefore resolve as null in conditions. Flags are
// pointers so that an explicit false is kept.
type LetterFacts struct {
	Claim    Claim    `json:"claim"`
	Member   Member   `json:"member"`
	Provider Provider `json:"provider"`
	Request  Request  `json:"request"`

	// Extra holds tenant-specific top-level objects. Keys that collide with
	// the typed sections are rejected by Context.
	Extra map[string]any `json:"-"`
}

// Bool returns a pointer to b, for the flag fields
func Bool(b bool) *bool { return &b }

// Context converts the facts into a data context
func (f LetterFacts) Context() (condition.Context, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return condition.Context{}, fmt.Errorf("failed to marshal letter facts: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return condition.Context{}, fmt.Errorf("failed to decode letter facts: %w", err)
	}
	for k, v := range f.Extra {
		if _, taken := m[k]; taken {
			return condition.Context{}, fmt.Errorf("extra key %q collides with a typed section", k)
		}
		m[k] = v
	}
	return condition.NewContext(m)
}
