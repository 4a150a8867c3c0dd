package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/businessrules/rulefile"
	"github.com/liamcoop/businessrules/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rule bundle",
	Long: `Parse a rule bundle and check every rule, version and suite reference.

All problems are reported, not only the first. Calculate expressions are
compiled by loading the bundle into an in-memory engine.

Examples:
  rulectl validate rules.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: validateBundle,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateBundle(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	bundle, err := rulefile.Load(args[0])
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "✗ %s: %d problem(s)\n", args[0], len(verr.Problems))
			for _, p := range verr.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
		}
		return err
	}

	// Applying compiles expressions and enforces constraints the static check cannot see.
	if _, _, _, err := loadBundle(cmd.Context(), args[0]); err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", args[0], err)
		return err
	}

	fmt.Fprintf(out, "✓ %s: %d rule(s), %d suite(s)\n", args[0], len(bundle.Rules), len(bundle.Suites))
	return nil
}
