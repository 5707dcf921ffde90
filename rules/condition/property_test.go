package condition_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/liamcoop/compliance/rules/condition"
)

var propertyConditions = []string{
	`{{claim.status}} === 'DENIED'`,
	`{{claim.status}} !== null && {{claim.status}}.toLowerCase().includes('den')`,
	`{{member.language}} === {{claim.status}} || {{member.age}} === 65`,
	`{{claim.status}}.match(/^[a-z]+$/) === true`,
	`{{member.flag}} && {{member.age}} !== 0`,
}

// TestEvaluateIsPure checks that repeated evaluation returns identical results
func TestEvaluateIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Evaluate(c, ctx) is stable across calls", prop.ForAll(
		func(status, language string, age float64, flag bool, idx int) bool {
			ctx := condition.MustContext(map[string]any{
				"claim":  map[string]any{"status": status},
				"member": map[string]any{"language": language, "age": age, "flag": flag},
			})
			cond := propertyConditions[idx]

			first, err1 := condition.Evaluate(cond, ctx)
			second, err2 := condition.Evaluate(cond, ctx)
			if (err1 == nil) != (err2 == nil) {
				return false
			}
			if err1 != nil {
				return err1.Error() == err2.Error()
			}
			return first == second
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
		gen.IntRange(0, len(propertyConditions)-1),
	))

	properties.TestingRun(t)
}

// TestMissingPathsSubstituteNull checks that unknown paths never raise an error
func TestMissingPathsSubstituteNull(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("missing path renders and compares as null", prop.ForAll(
		func(head, tail string) bool {
			path := head + "." + tail
			cond := "{{" + path + "}} === null"
			empty := condition.MustContext(nil)

			if condition.Substitute(cond, empty) != "null === null" {
				return false
			}
			ok, err := condition.Evaluate(cond, empty)
			return err == nil && ok
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// TestSubstituteMatchesCompiledEvaluation checks that evaluating the textual
// substitution agrees with evaluating the compiled program
func TestSubstituteMatchesCompiledEvaluation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Evaluate(Substitute(c)) == Evaluate(c)", prop.ForAll(
		func(status, language string, age float64, flag bool, idx int) bool {
			ctx := condition.MustContext(map[string]any{
				"claim":  map[string]any{"status": status},
				"member": map[string]any{"language": language, "age": age, "flag": flag},
			})
			cond := propertyConditions[idx]

			compiled, err1 := condition.Evaluate(cond, ctx)
			textual, err2 := condition.Evaluate(condition.Substitute(cond, ctx), condition.MustContext(nil))
			if (err1 == nil) != (err2 == nil) {
				return false
			}
			return compiled == textual
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
		gen.IntRange(0, len(propertyConditions)-1),
	))

	properties.TestingRun(t)
}
