// Command civicflow runs the civic complaint workflow system: an HTTP
// server plus operator commands for submitting, tracking, configuring,
// and reporting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	cityFlag string
)

var rootCmd = &cobra.Command{
	Use:   "civicflow",
	Short: "AI-driven civic complaint workflow orchestrator",
	Long: `CivicFlow accepts citizen complaints, routes them through a configurable
sequence of AI agents (classification, priority scoring, duplicate
detection), and keeps a complete audit trail of every decision.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "Path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&cityFlag, "city", "bengaluru", "City the command operates on")
}

func defaultDBPath() string {
	if p := os.Getenv("CIVICFLOW_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "civicflow.db"
	}
	return home + "/.civicflow/civicflow.db"
}
