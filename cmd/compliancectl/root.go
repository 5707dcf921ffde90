package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/compliance/internal/logger"
	"github.com/liamcoop/compliance/rules"
	"github.com/liamcoop/compliance/rules/condition"
)

// errNonCompliant makes check exit with status 2 without printing an error
var errNonCompliant = errors.New("letter is not compliant")

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	ruleFiles  []string
	noBuiltins bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "compliancectl",
		Short: "Evaluate healthcare letters against compliance rules",
		Long: `compliancectl checks letter data against the built-in regulatory rule
catalog plus any rule files given with --rules.

Example:
  compliancectl check --context letter.json
  compliancectl rules list --category federal
  compliancectl rules validate tenant-rules.yaml
  compliancectl explain --context letter.json appeal-rights-notice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Setup(logger.Options{Level: opts.logLevel, Output: cmd.ErrOrStderr()})
		},
	}

	root.PersistentFlags().StringSliceVar(&opts.ruleFiles, "rules", nil, "Rule files appended after the built-in catalog (repeatable)")
	root.PersistentFlags().BoolVar(&opts.noBuiltins, "no-builtins", false, "Evaluate only the rules from --rules")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "WARN", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newRulesCmd(opts))
	root.AddCommand(newExplainCmd(opts))

	return root
}

// loadCatalog builds the catalog from the built-ins and --rules files
func (o *globalOptions) loadCatalog() (*rules.Catalog, error) {
	var custom []rules.ComplianceRule
	for _, path := range o.ruleFiles {
		loaded, err := rules.LoadRulesFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded rules file", "path", path, "count", len(loaded))
		custom = append(custom, loaded...)
	}

	var catOpts []rules.CatalogOption
	if o.noBuiltins {
		catOpts = append(catOpts, rules.WithoutBuiltins())
	}
	return rules.NewCatalog(custom, catOpts...)
}

// loadContext reads a data context from a JSON or YAML file, or stdin for "-"
func loadContext(path string, stdin io.Reader) (condition.Context, error) {
	if path == "" {
		return condition.NewContext(nil)
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return condition.Context{}, fmt.Errorf("failed to read context: %w", err)
	}

	var m map[string]any
	if strings.EqualFold(filepath.Ext(path), ".json") || bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return condition.Context{}, fmt.Errorf("failed to parse context %s: %w", path, err)
	}

	return condition.NewContext(m)
}
