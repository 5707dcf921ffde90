package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/liamcoop/compliance/rules"
	"github.com/liamcoop/compliance/rules/condition"
)

type explainOptions struct {
	*globalOptions
	contextPath string
}

func newExplainCmd(g *globalOptions) *cobra.Command {
	opts := &explainOptions{globalOptions: g}

	cmd := &cobra.Command{
		Use:   "explain [RULE_ID...]",
		Short: "Show how each trigger condition evaluates",
		Long: `For each rule (all rules when none are named) print the trigger condition,
the condition with the context values substituted in, the value of every
referenced path and the outcome.

Example:
  compliancectl explain --context letter.json appeal-rights-notice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			dc, err := loadContext(opts.contextPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			selected := cat.Rules()
			if len(args) > 0 {
				selected = make([]rules.ComplianceRule, 0, len(args))
				for _, id := range args {
					r, ok := cat.Get(id)
					if !ok {
						return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
					}
					selected = append(selected, r)
				}
			}

			for i, r := range selected {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				explainRule(cmd.OutOrStdout(), r, dc)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.contextPath, "context", "c", "", "Data context file (JSON or YAML, - for stdin)")

	return cmd
}

func explainRule(w io.Writer, r rules.ComplianceRule, dc condition.Context) {
	prog, err := condition.Compile(r.TriggerCondition)
	if err != nil {
		fmt.Fprintf(w, "%s  %s\n", r.ID, outcome(false, err))
		fmt.Fprintf(w, "  condition:   %s\n", r.TriggerCondition)
		return
	}

	triggered, err := prog.Eval(dc)
	fmt.Fprintf(w, "%s  %s\n", r.ID, outcome(triggered, err))
	fmt.Fprintf(w, "  condition:   %s\n", r.TriggerCondition)
	fmt.Fprintf(w, "  substituted: %s\n", condition.Substitute(r.TriggerCondition, dc))
	for _, p := range prog.Paths() {
		fmt.Fprintf(w, "  %s = %s\n", p, dc.Resolve(p).Literal())
	}
}

func outcome(triggered bool, err error) string {
	var cerr *condition.ConditionError
	switch {
	case errors.As(err, &cerr):
		return fmt.Sprintf("ERROR (%s): %s", cerr.Kind, cerr.Msg)
	case err != nil:
		return "ERROR: " + err.Error()
	case triggered:
		return "TRIGGERED"
	default:
		return "not triggered"
	}
}
