package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/rulefile"
	"github.com/liamcoop/businessrules/rules"
)

var (
	// Global flags
	verbose bool
	actorID string
)

var rootCmd = &cobra.Command{
	Use:   "rulectl",
	Short: "rulectl - business rule bundle tooling",
	Long: `rulectl loads YAML rule bundles into an in-memory rule store and runs them
through the same engine the rules service uses.

It can:
  - Validate rule and version definitions
  - Run declared and synthesized test suites
  - Evaluate a rule set against a context`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Command output owns stdout.
		opts := logger.Options{Level: logger.LevelWarning, SampleRate: 1, Output: os.Stderr}
		if verbose {
			opts.Level = logger.LevelDebug
		}
		_ = logger.Configure(opts)
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	logger.Shutdown(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "rulectl", "actor recorded on created rules and executions")
}

// loadBundle parses path and applies it to a fresh in-memory engine.
func loadBundle(ctx context.Context, path string) (*rulefile.Bundle, *rules.Engine, rulefile.Applied, error) {
	bundle, err := rulefile.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.EngineOptions{
		DisableCache: true,
		TriggeredBy:  actorID,
		Notifier:     rules.LogNotifier{},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	applied, err := rulefile.Apply(ctx, engine, bundle, actorID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to apply %s: %w", path, err)
	}
	return bundle, engine, applied, nil
}
