// Package rulefile loads rule bundles from YAML and applies them through the engine's
// lifecycle API.
//
// A bundle looks like:
//
//	rules:
//	  - name: claim-within-coverage
//	    type: COVERAGE
//	    priority: HIGH
//	    activate: true
//	    conditions:
//	      - {operator: less_than, field: claimAmount, value: policy.remainingCoverage}
//	    actions:
//	      - type: validate
//	        parameters: {field: claimAmount, validation: positive}
//	suites:
//	  - name: coverage checks
//	    rule: claim-within-coverage
package rulefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

// Bundle is the top-level document of a rule file.
type Bundle struct {
	Rules  []RuleSpec  `yaml:"rules"`
	Suites []SuiteSpec `yaml:"suites,omitempty"`
}

// RuleSpec declares a rule, its first version and any later versions.
type RuleSpec struct {
	rules.CreateRuleInput `yaml:",inline"`

	// Versions are created after version 1, numbered 2, 3, ...
	Versions []rules.VersionInput `yaml:"versions,omitempty"`

	// Activate activates the highest declared version.
	Activate bool `yaml:"activate,omitempty"`
	// ActivateVersion activates a specific version and takes precedence over Activate.
	ActivateVersion int `yaml:"activateVersion,omitempty"`
}

// SuiteSpec declares a test suite against a rule by name.
type SuiteSpec struct {
	Name      string               `yaml:"name"`
	Rule      string               `yaml:"rule"`
	Version   int                  `yaml:"version,omitempty"`
	TestCases []rules.RuleTestCase `yaml:"testCases,omitempty"`
}

// Load reads and parses a bundle file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %q: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %q: %w", path, err)
	}
	return b, nil
}

// Parse decodes a bundle, rejecting unknown keys, and checks its structure.
func Parse(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Bundle
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks every rule and version definition and the suite references.
func (b *Bundle) Validate() error {
	var problems []string
	names := make(map[string]bool, len(b.Rules))

	for i, rs := range b.Rules {
		label := fmt.Sprintf("rule %d (%s)", i, rs.Name)
		if names[rs.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate rule name", label))
		}
		names[rs.Name] = true

		rule := &rules.BusinessRule{
			Name:     rs.Name,
			Type:     rs.Type,
			Priority: rs.Priority,
			Category: rs.Category,
			Tags:     rs.Tags,
		}
		if rule.Priority == 0 {
			rule.Priority = rules.PriorityMedium
		}
		problems = appendProblems(problems, label, rules.ValidateRule(rule))

		for v, input := range rs.AllVersions() {
			version := &rules.RuleVersion{
				Conditions:      input.Conditions,
				LogicalOperator: input.LogicalOperator,
				Actions:         input.Actions,
				EffectiveDate:   input.EffectiveDate,
				ExpiryDate:      input.ExpiryDate,
			}
			problems = appendProblems(problems, fmt.Sprintf("%s version %d", label, v+1), rules.ValidateVersion(version, nil))
		}

		if rs.ActivateVersion < 0 || rs.ActivateVersion > len(rs.Versions)+1 {
			problems = append(problems, fmt.Sprintf("%s: activateVersion %d does not exist", label, rs.ActivateVersion))
		}
	}

	for i, suite := range b.Suites {
		if !names[suite.Rule] {
			problems = append(problems, fmt.Sprintf("suite %d (%s): unknown rule %q", i, suite.Name, suite.Rule))
		}
	}

	if len(problems) > 0 {
		return &rules.ValidationError{Problems: problems}
	}
	return nil
}

func appendProblems(problems []string, label string, err error) []string {
	if err == nil {
		return problems
	}
	var verr *rules.ValidationError
	if errors.As(err, &verr) {
		for _, p := range verr.Problems {
			problems = append(problems, fmt.Sprintf("%s: %s", label, p))
		}
		return problems
	}
	return append(problems, fmt.Sprintf("%s: %v", label, err))
}

// AllVersions returns version 1 followed by the declared later versions.
func (s RuleSpec) AllVersions() []rules.VersionInput {
	return append([]rules.VersionInput{s.VersionInput}, s.Versions...)
}

// targetVersion is the version to activate, or 0 for none.
func (s RuleSpec) targetVersion() int {
	if s.ActivateVersion > 0 {
		return s.ActivateVersion
	}
	if s.Activate {
		return len(s.Versions) + 1
	}
	return 0
}

// Applied maps rule names from the bundle to the rules created for them.
type Applied map[string]*rules.BusinessRule

// Apply creates every rule of the bundle with its versions and performs the requested
// activations. It stops at the first error; rules created before it are kept.
func Apply(ctx context.Context, engine *rules.Engine, b *Bundle, actor string) (Applied, error) {
	applied := make(Applied, len(b.Rules))

	for _, rs := range b.Rules {
		input := rs.CreateRuleInput
		if input.CreatedBy == "" {
			input.CreatedBy = actor
		}

		rule, err := engine.CreateRule(ctx, input)
		if err != nil {
			return applied, err
		}
		for _, v := range rs.Versions {
			if _, err := engine.CreateRuleVersion(ctx, rule.ID, v, input.CreatedBy); err != nil {
				return applied, err
			}
		}
		if target := rs.targetVersion(); target > 0 {
			if rule, err = engine.ActivateRuleVersion(ctx, rule.ID, target, input.CreatedBy); err != nil {
				return applied, err
			}
		}

		applied[rs.Name] = rule
		logger.Debug("rule applied from bundle", "rule", rule.Name, "id", rule.ID, "status", string(rule.Status))
	}
	return applied, nil
}

// Suites resolves the bundle's suites against applied rules. Rules without a declared
// suite get one that runs their stored or synthesized fixtures.
func (b *Bundle) Suites(applied Applied) ([]ruletest.Suite, error) {
	covered := make(map[string]bool, len(b.Suites))
	suites := make([]ruletest.Suite, 0, len(b.Rules))

	for _, ss := range b.Suites {
		rule, ok := applied[ss.Rule]
		if !ok {
			return nil, fmt.Errorf("suite %q: rule %q was not applied", ss.Name, ss.Rule)
		}
		covered[ss.Rule] = true
		suites = append(suites, ruletest.Suite{
			Name:      ss.Name,
			RuleID:    rule.ID,
			Version:   ss.Version,
			TestCases: ss.TestCases,
		})
	}

	for _, rs := range b.Rules {
		if covered[rs.Name] {
			continue
		}
		if rule, ok := applied[rs.Name]; ok {
			suites = append(suites, ruletest.Suite{Name: rs.Name, RuleID: rule.ID})
		}
	}
	return suites, nil
}
