package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicflow/civicflow/internal/audit"
)

var (
	trailExplain bool
	trailLang    string
)

var trailCmd = &cobra.Command{
	Use:   "trail <issue-id>",
	Short: "Show an issue's audit trail",
	Long: `Print every recorded processing event for an issue: intake, each agent
attempt with its reasoning and confidence, status changes, and overrides.
With --explain the trail is rendered as citizen-readable prose instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		if trailExplain {
			text, err := app.explainer.ExplainIssue(ctx, cityFlag, args[0], trailLang)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(text)
			return
		}

		trail, err := app.explainer.GetDecisionAuditTrail(ctx, cityFlag, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, record := range trail {
			stamp := record.StartedAt.Format("2006-01-02 15:04:05")
			switch record.Kind {
			case audit.KindIntake:
				fmt.Printf("%s  %s intake\n", gray(stamp), green("●"))
			case audit.KindStep:
				mark := green("●")
				if !record.Success {
					mark = red("●")
				}
				fmt.Printf("%s  %s %s attempt %d (%dms)\n",
					gray(stamp), mark, record.AgentType, record.Attempt, record.DurationMs)
				if record.Reasoning != "" {
					fmt.Printf("            confidence %.2f: %s\n", record.Confidence, record.Reasoning)
				}
				if record.Error != "" {
					fmt.Printf("            %s %s\n", red("error:"), record.Error)
				}
			case audit.KindOverride:
				fmt.Printf("%s  %s override: %s\n", gray(stamp), red("●"), record.Reasoning)
			case audit.KindStatusChange:
				fmt.Printf("%s  %s status change: %s\n", gray(stamp), gray("○"), record.Reasoning)
			}
		}
	},
}

func init() {
	trailCmd.Flags().BoolVar(&trailExplain, "explain", false, "Render the trail as citizen-readable prose")
	trailCmd.Flags().StringVar(&trailLang, "lang", "en", "Language for --explain output")
	rootCmd.AddCommand(trailCmd)
}
