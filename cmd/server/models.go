package main

import (
	"time"

	"github.com/liamcoop/compliance/rules"
	"github.com/liamcoop/compliance/rules/generated"
)

// API Request and Response Models

// CreateTenantRequest represents the request body for creating a tenant
type CreateTenantRequest struct {
	Name string `json:"name" example:"Acme Health Plan"`
} // @name CreateTenantRequest

// TenantResponse represents a loaded tenant in API responses
type TenantResponse struct {
	ID           string    `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name         string    `json:"name,omitempty" example:"Acme Health Plan"`
	CatalogRules int       `json:"catalogRules" example:"12"`
	CustomRules  int       `json:"customRules" example:"1"`
	LoadedAt     time.Time `json:"loadedAt" example:"2024-01-15T10:30:00Z"`
} // @name TenantResponse

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
} // @name TenantsListResponse

// RuleRequest is the body for creating or replacing a custom rule. A missing
// id on create is generated; Active defaults to true.
type RuleRequest struct {
	rules.ComplianceRule
	Active *bool `json:"active,omitempty" example:"true"`
} // @name RuleRequest

// RulesListResponse represents the response for listing custom rules
type RulesListResponse struct {
	Rules []*rules.CustomRule `json:"rules"`
} // @name RulesListResponse

// CatalogResponse lists the rules a tenant engine evaluates, in order
type CatalogResponse struct {
	TenantID string                 `json:"tenantId"`
	Rules    []rules.ComplianceRule `json:"rules"`
} // @name CatalogResponse

// EvaluateRequest represents the request body for a compliance check.
//
// Exactly one of Context (raw letter data) or Facts (typed letter data) may be
// set; neither evaluates against an empty context. Selector is a CEL filter
// over rule metadata, e.g. rule.category == "federal". At restricts the
// catalog to rules effective at that instant.
type EvaluateRequest struct {
	TenantID string                 `json:"tenantId" example:"123e4567-e89b-12d3-a456-426614174000"`
	Context  map[string]any         `json:"context,omitempty"`
	Facts    *generated.LetterFacts `json:"facts,omitempty"`
	Selector string                 `json:"selector,omitempty" example:"rule.blocking == true"`
	At       *time.Time             `json:"at,omitempty" example:"2024-01-15T10:30:00Z"`
	Advise   bool                   `json:"advise,omitempty" example:"true"`
} // @name EvaluateRequest

// EvaluateResponse carries the compliance report and anything that could not
// be evaluated
type EvaluateResponse struct {
	TenantID           string                    `json:"tenantId"`
	Report             *rules.ComplianceReport   `json:"report"`
	Diagnostics        rules.Diagnostics         `json:"diagnostics"`
	AutoFixes          []rules.AutoFixDescriptor `json:"autoFixes,omitempty"`
	ComponentsToInsert []string                  `json:"componentsToInsert,omitempty"`
	EvaluationTime     string                    `json:"evaluationTime" example:"84µs"`
} // @name EvaluateResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"tenant not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	Error         string `json:"error,omitempty"`
	TenantsLoaded int    `json:"tenantsLoaded" example:"3"`
	SharedRules   int    `json:"sharedRules" example:"0"`
} // @name HealthResponse
