package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/businessrules/rules"
)

var evalFlags struct {
	ruleType    string
	context     string
	contextFile string
}

var evalCmd = &cobra.Command{
	Use:   "eval <file>",
	Short: "Evaluate a rule set against a context",
	Long: `Load a rule bundle and evaluate the ACTIVE rules of one type against a
JSON context, in priority order. A failing CRITICAL rule stops the run.

Examples:
  rulectl eval rules.yaml --type COVERAGE --context '{"data": {"claimAmount": 200}}'
  rulectl eval rules.yaml --type PRICING --context-file claim.json`,
	Args: cobra.ExactArgs(1),
	RunE: evalRules,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalFlags.ruleType, "type", "t", "", "rule type to evaluate")
	evalCmd.Flags().StringVar(&evalFlags.context, "context", "", "context as inline JSON")
	evalCmd.Flags().StringVar(&evalFlags.contextFile, "context-file", "", "context JSON file")

	// Mark required flags - panic if this fails as it's a programming error
	if err := evalCmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("failed to mark type flag as required: %v", err))
	}
}

func evalRules(cmd *cobra.Command, args []string) error {
	ruleType := rules.RuleType(strings.ToUpper(evalFlags.ruleType))
	if !ruleType.Valid() {
		return fmt.Errorf("invalid rule type %q", evalFlags.ruleType)
	}

	rctx, err := readContext()
	if err != nil {
		return err
	}

	_, engine, _, err := loadBundle(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	result, err := engine.ExecuteRules(cmd.Context(), ruleType, rctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.IsValid {
		return fmt.Errorf("rule set %s is not valid for the given context", ruleType)
	}
	return nil
}

func readContext() (*rules.RuleContext, error) {
	raw := []byte(evalFlags.context)
	switch {
	case evalFlags.context != "" && evalFlags.contextFile != "":
		return nil, fmt.Errorf("use either --context or --context-file, not both")
	case evalFlags.contextFile != "":
		data, err := os.ReadFile(evalFlags.contextFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read context file: %w", err)
		}
		raw = data
	case evalFlags.context == "":
		return nil, fmt.Errorf("a context is required (--context or --context-file)")
	}

	var rctx rules.RuleContext
	if err := json.Unmarshal(raw, &rctx); err != nil {
		return nil, fmt.Errorf("invalid context JSON: %w", err)
	}
	if rctx.Data == nil {
		rctx.Data = map[string]any{}
	}
	return &rctx, nil
}
