package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicflow/civicflow/internal/cityconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and install per-city workflow configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective workflow configuration for a city",
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		cfg := app.orch.CityConfig(cityFlag)
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan("=== Workflow config: "+cfg.CityID+" ==="))
		fmt.Printf("Sequence:             %v\n", cfg.SequenceOrder)
		fmt.Printf("Default threshold:    %.2f\n", cfg.DefaultThreshold)
		for agent, th := range cfg.ConfidenceThresholds {
			fmt.Printf("  %-20s %.2f\n", agent, th)
		}
		fmt.Printf("Similarity threshold: %.2f\n", cfg.SimilarityThreshold)
		fmt.Printf("Retries:              %d attempts, backoff %v..%v x%.1f\n",
			cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffMultiplier)
		fmt.Printf("Domains:              %d entries\n", len(cfg.Domains))
	},
}

var configInstallCmd = &cobra.Command{
	Use:   "install <config.yaml>",
	Short: "Validate and install a workflow configuration",
	Long: `Install a city workflow configuration from a YAML file. The config is
validated before installation; workflows already in flight keep the
configuration they started with.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := mustApp()
		defer app.Close()

		cfg, err := cityconfig.FromFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.CityID == "" {
			cfg.CityID = cityFlag
		}
		if err := app.orch.CustomizeWorkflow(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Config for %s installed; applies to new workflows only\n", green("OK."), cfg.CityID)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInstallCmd)
	rootCmd.AddCommand(configCmd)
}
