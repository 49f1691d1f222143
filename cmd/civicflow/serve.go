package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicflow/civicflow/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Start the HTTP API, resuming any workflows that were in flight when
the previous process stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		resumed, err := app.orch.ResumeInflight(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to resume workflows: %v\n", err)
			os.Exit(1)
		}
		if resumed > 0 {
			fmt.Printf("Resumed %d interrupted workflow(s)\n", resumed)
		}

		srv := server.New(app.orch, app.explainer, app.reports)

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s listening on %s\n", cyan("CivicFlow"), serveAddr)
		if err := http.ListenAndServe(serveAddr, srv); err != nil {
			fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}
