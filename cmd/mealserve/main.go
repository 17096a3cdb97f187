package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mealserve/mealserve/cmd/mealserve/commands"
)

var (
	apiURL     string
	outputJSON bool
	verbose    bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mealserve",
		Short: "mealserve management CLI",
		Long: `Operational tooling for a mealserve deployment: validate configuration,
inspect model checkpoints and nutrition tables, and query a running server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commands.SetAPIConfig(apiURL)
			commands.SetOutputJSON(outputJSON)
			commands.SetVerbose(verbose)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "base URL of a running mealserve server")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	// Add subcommands
	ctx := context.Background()
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(commands.NewCheckpointCommand())
	rootCmd.AddCommand(commands.NewNutritionCommand())
	rootCmd.AddCommand(commands.NewModelsCommand(ctx))
	rootCmd.AddCommand(commands.NewStatusCommand(ctx))

	return rootCmd
}
