package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/compliance/rules/condition"
)

// parallelThreshold is the catalog size below which rules are always
// evaluated sequentially
const parallelThreshold = 64

// Engine evaluates a Catalog against data contexts. It holds no per-call state
// and is safe for concurrent use; each call works on its own context and
// report.
type Engine struct {
	catalog     *Catalog
	programs    []CompiledCondition // index-aligned with catalog.rules
	parallelism int
}

type engineOptions struct {
	cache       ProgramCache
	parallelism int
}

// EngineOption configures NewEngine
type EngineOption func(*engineOptions)

// WithProgramCache shares compiled conditions between engines
func WithProgramCache(c ProgramCache) EngineOption {
	return func(o *engineOptions) { o.cache = c }
}

// WithParallelism evaluates large catalogs on up to n goroutines. Results are
// identical to sequential evaluation.
func WithParallelism(n int) EngineOption {
	return func(o *engineOptions) { o.parallelism = n }
}

// NewEngine compiles every trigger condition in catalog. A condition that
// does not compile does not fail construction; it is reported as a diagnostic
// each time the engine evaluates.
func NewEngine(catalog *Catalog, opts ...EngineOption) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("engine requires a catalog")
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	en := &Engine{
		catalog:     catalog,
		programs:    make([]CompiledCondition, catalog.Len()),
		parallelism: o.parallelism,
	}
	for i := range catalog.rules {
		en.programs[i] = compileCached(o.cache, catalog.rules[i].TriggerCondition)
	}
	return en, nil
}

// Catalog returns the catalog the engine evaluates
func (en *Engine) Catalog() *Catalog { return en.catalog }

// CompileErrors returns a diagnostic for every rule whose condition does not
// compile, without evaluating anything
func (en *Engine) CompileErrors() Diagnostics {
	var diags Diagnostics
	for i, cc := range en.programs {
		if cc.Err != nil {
			diags = append(diags, newDiagnostic(en.catalog.rule(i), cc.Err))
		}
	}
	return diags
}

// Diagnostic records a rule whose condition could not be evaluated. The rule
// was treated as not triggered.
type Diagnostic struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func newDiagnostic(r *ComplianceRule, err error) Diagnostic {
	kind := "unknown"
	var cerr *condition.ConditionError
	if errors.As(err, &cerr) {
		kind = cerr.Kind.String()
	}
	return Diagnostic{
		RuleID:   r.ID,
		RuleName: r.Name,
		Kind:     kind,
		Message:  err.Error(),
		Err:      err,
	}
}

// Diagnostics is the per-call list of condition failures, in catalog order
type Diagnostics []Diagnostic

// RuleIDs returns the ids of the failing rules
func (d Diagnostics) RuleIDs() []string {
	ids := make([]string, len(d))
	for i, diag := range d {
		ids[i] = diag.RuleID
	}
	return ids
}

type ruleOutcome struct {
	triggered bool
	err       error
}

// EvaluateCompliance evaluates every rule in catalog order against dc. A rule
// whose condition fails to parse or evaluate is skipped and reported in the
// returned diagnostics; it never aborts the other rules.
func (en *Engine) EvaluateCompliance(dc condition.Context) (*ComplianceReport, Diagnostics) {
	outcomes := en.evaluateRules(dc)

	var (
		violations []ComplianceViolation
		triggered  []ComplianceRule
		diags      Diagnostics
	)
	for i, out := range outcomes {
		r := en.catalog.rule(i)
		if out.err != nil {
			diags = append(diags, newDiagnostic(r, out.err))
			continue
		}
		if !out.triggered {
			continue
		}
		violations = append(violations, newViolation(r))
		triggered = append(triggered, r.clone())
	}

	return buildReport(violations, triggered), diags
}

// evaluateRules returns one outcome per catalog rule, index-aligned
func (en *Engine) evaluateRules(dc condition.Context) []ruleOutcome {
	outcomes := make([]ruleOutcome, len(en.programs))

	if en.parallelism <= 1 || len(en.programs) < parallelThreshold {
		for i := range en.programs {
			outcomes[i] = en.evaluateRule(i, dc)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(en.parallelism)
	for i := range en.programs {
		i := i
		g.Go(func() error {
			outcomes[i] = en.evaluateRule(i, dc)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (en *Engine) evaluateRule(i int, dc condition.Context) ruleOutcome {
	cc := en.programs[i]
	if cc.Err != nil {
		return ruleOutcome{err: cc.Err}
	}
	ok, err := cc.Program.Eval(dc)
	if err != nil {
		return ruleOutcome{err: err}
	}
	return ruleOutcome{triggered: ok}
}

// SeverityFor maps a rule's blocking flag and priority to a violation
// severity. Blocking rules are errors; non-blocking rules are warnings unless
// their priority is critical.
func SeverityFor(blocking bool, priority Priority) Severity {
	if blocking {
		return SeverityError
	}
	switch priority {
	case PriorityCritical:
		return SeverityError
	case PriorityHigh, PriorityMedium, PriorityLow:
		return SeverityWarning
	default:
		return SeverityWarning
	}
}

func newViolation(r *ComplianceRule) ComplianceViolation {
	msg := r.Description
	if r.Regulation != "" {
		msg = fmt.Sprintf("%s (%s)", r.Description, r.Regulation)
	}
	return ComplianceViolation{
		RuleID:           r.ID,
		RuleName:         r.Name,
		Severity:         SeverityFor(r.Blocking, r.Priority),
		Message:          msg,
		Suggestion:       DescribeActions(r.RequiredActions),
		AutoFixAvailable: r.AutoFix != nil,
	}
}

// DescribeActions renders required actions as one clause per action, joined
// with "; "
func DescribeActions(actions []ComplianceAction) string {
	clauses := make([]string, 0, len(actions))
	for _, a := range actions {
		if c := describeAction(a); c != "" {
			clauses = append(clauses, c)
		}
	}
	return strings.Join(clauses, "; ")
}

func describeAction(a ComplianceAction) string {
	switch a.Type {
	case ActionInsertComponent:
		return fmt.Sprintf("Insert %s component", a.ComponentID)
	case ActionRequireField:
		return fmt.Sprintf("Ensure %s field is present", a.FieldName)
	case ActionValidation:
		return fmt.Sprintf("Validate %s", a.ValidationRule)
	case ActionNotification:
		if a.Message != "" {
			return "Notify: " + a.Message
		}
		return "Send required notification"
	case ActionWorkflow:
		if a.Message != "" {
			return a.Message
		}
		return "Start required workflow"
	default:
		return a.Message
	}
}

func buildReport(violations []ComplianceViolation, triggered []ComplianceRule) *ComplianceReport {
	if violations == nil {
		violations = []ComplianceViolation{}
	}
	if triggered == nil {
		triggered = []ComplianceRule{}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Severity.Rank() > violations[j].Severity.Rank()
	})

	blocking := []ComplianceViolation{}
	warnings := 0
	for _, v := range violations {
		switch v.Severity {
		case SeverityError:
			blocking = append(blocking, v)
		case SeverityWarning:
			warnings++
		}
	}

	report := &ComplianceReport{
		Compliant:          len(blocking) == 0,
		Violations:         violations,
		TriggeredRules:     triggered,
		BlockingViolations: blocking,
	}
	report.Summary = summarize(report.Compliant, len(blocking), warnings)
	return report
}

func summarize(compliant bool, errs, warnings int) string {
	status := "PASSED"
	if !compliant {
		status = "FAILED"
	}
	summary := "Compliance Check: " + status
	if errs+warnings > 0 {
		summary += fmt.Sprintf(" (%d errors, %d warnings)", errs, warnings)
	}
	return summary
}
