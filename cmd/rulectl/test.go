package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/businessrules/ruletest"
)

var testFlags struct {
	format      string
	timeout     time.Duration
	concurrency int
}

var testCmd = &cobra.Command{
	Use:   "test <file>",
	Short: "Run rule test suites",
	Long: `Load a rule bundle and run its test suites.

Rules without a declared suite are tested with the fixtures stored on their
version, or with a synthesized positive and negative case when there are none.
Test runs never record executions.

Examples:
  rulectl test rules.yaml
  rulectl test rules.yaml --format json --timeout 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVar(&testFlags.format, "format", "text", "output format: text, json")
	testCmd.Flags().DurationVar(&testFlags.timeout, "timeout", ruletest.DefaultCaseTimeout, "per test case timeout")
	testCmd.Flags().IntVar(&testFlags.concurrency, "concurrency", ruletest.DefaultSuiteConcurrency, "suites run concurrently")
}

func runTests(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bundle, engine, applied, err := loadBundle(ctx, args[0])
	if err != nil {
		return err
	}
	suites, err := bundle.Suites(applied)
	if err != nil {
		return err
	}

	runner := ruletest.NewRunner(engine, ruletest.RunnerOptions{
		CaseTimeout: testFlags.timeout,
		Concurrency: testFlags.concurrency,
	})
	results, err := runner.ExecuteSuites(ctx, suites)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch testFlags.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	case "text":
		printResults(out, results)
	default:
		return fmt.Errorf("unsupported format: %s", testFlags.format)
	}

	failed := 0
	for _, r := range results {
		failed += r.Summary.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d test case(s) failed", failed)
	}
	return nil
}

func printResults(w io.Writer, results []*ruletest.SuiteResult) {
	var total ruletest.Summary
	for _, suite := range results {
		fmt.Fprintf(w, "%s (%s v%d)\n", suite.Suite, suite.RuleName, suite.Version)
		for _, c := range suite.Results {
			switch c.Status {
			case ruletest.CasePassed:
				fmt.Fprintf(w, "  ✓ %s\n", c.Name)
			case ruletest.CaseSkipped:
				fmt.Fprintf(w, "  - %s (skipped: %s)\n", c.Name, c.Description)
			default:
				fmt.Fprintf(w, "  ✗ %s\n", c.Name)
				if c.Error != "" {
					fmt.Fprintf(w, "      error: %s\n", c.Error)
				}
				for _, m := range c.Mismatches {
					fmt.Fprintf(w, "      %s\n", m)
				}
			}
		}
		total.Total += suite.Summary.Total
		total.Passed += suite.Summary.Passed
		total.Failed += suite.Summary.Failed
		total.Skipped += suite.Summary.Skipped
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d skipped (%d total)\n", total.Passed, total.Failed, total.Skipped, total.Total)
}
