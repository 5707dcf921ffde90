package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk layout for rule definitions. JSON files are accepted
// as well since JSON is valid YAML.
type RuleFile struct {
	Rules []ComplianceRule `yaml:"rules" json:"rules"`
}

// ParseRulesYAML decodes a rule file. Unknown fields are rejected so that a
// misspelled key does not silently drop a condition.
func ParseRulesYAML(data []byte) ([]ComplianceRule, error) {
	return decodeRules(bytes.NewReader(data))
}

// LoadRulesFile reads rule definitions from path
func LoadRulesFile(path string) ([]ComplianceRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	rules, err := decodeRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

func decodeRules(r io.Reader) ([]ComplianceRule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file RuleFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return file.Rules, nil
}
