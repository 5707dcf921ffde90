package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/compliance/rules"
)

type checkOptions struct {
	*globalOptions
	contextPath string
	selector    string
	at          string
	parallelism int
	jsonOut     bool
	advise      bool
}

// checkOutput is the --json schema
type checkOutput struct {
	Report             *rules.ComplianceReport   `json:"report"`
	Diagnostics        rules.Diagnostics         `json:"diagnostics"`
	AutoFixes          []rules.AutoFixDescriptor `json:"autoFixes,omitempty"`
	ComponentsToInsert []string                  `json:"componentsToInsert,omitempty"`
}

func newCheckCmd(g *globalOptions) *cobra.Command {
	opts := &checkOptions{globalOptions: g}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a letter's data context",
		Long: `Evaluate every rule in the catalog against a data context and print the
compliance report. Exits with status 2 when the letter is not compliant.

Example:
  compliancectl check --context letter.json
  compliancectl check --context - --json < letter.json
  compliancectl check --context letter.yaml --select 'rule.blocking' --advise`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.contextPath, "context", "c", "", "Data context file (JSON or YAML, - for stdin)")
	cmd.Flags().StringVar(&opts.selector, "select", "", "CEL filter over rule metadata, e.g. rule.category == \"federal\"")
	cmd.Flags().StringVar(&opts.at, "at", "", "Only rules effective at this RFC 3339 time")
	cmd.Flags().IntVar(&opts.parallelism, "parallelism", 1, "Rule evaluation workers")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&opts.advise, "advise", false, "Include auto-fix suggestions")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}
	cat, err = narrowCatalog(cat, opts.selector, opts.at)
	if err != nil {
		return err
	}

	dc, err := loadContext(opts.contextPath, cmd.InOrStdin())
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine(cat, rules.WithParallelism(opts.parallelism))
	if err != nil {
		return err
	}
	report, diags := engine.EvaluateCompliance(dc)

	out := checkOutput{Report: report, Diagnostics: diags}
	if out.Diagnostics == nil {
		out.Diagnostics = rules.Diagnostics{}
	}
	if opts.advise {
		out.AutoFixes = rules.AdviseReport(report, cat)
		out.ComponentsToInsert = rules.ComponentsToInsert(out.AutoFixes)
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), out)
		for _, d := range diags {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: rule %s could not be evaluated (%s): %s\n", d.RuleID, d.Kind, d.Message)
		}
	}

	if !report.Compliant {
		return errNonCompliant
	}
	return nil
}

// narrowCatalog applies the --at and --select filters
func narrowCatalog(cat *rules.Catalog, selector, at string) (*rules.Catalog, error) {
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		cat = cat.ActiveAt(t)
	}
	if selector != "" {
		return cat.SelectExpr(selector)
	}
	return cat, nil
}

func printReport(w io.Writer, out checkOutput) {
	fmt.Fprintln(w, out.Report.Summary)

	for _, v := range out.Report.Violations {
		fmt.Fprintf(w, "\n%-7s %s  %s\n", strings.ToUpper(string(v.Severity)), v.RuleID, v.RuleName)
		fmt.Fprintf(w, "        %s\n", v.Message)
		if v.Suggestion != "" {
			fmt.Fprintf(w, "        fix: %s\n", v.Suggestion)
		}
	}

	if len(out.AutoFixes) > 0 {
		fmt.Fprintln(w, "\nAuto-fixes:")
		for _, f := range out.AutoFixes {
			fmt.Fprintf(w, "  %s: %s\n", f.RuleID, f.Description)
		}
	}
}
