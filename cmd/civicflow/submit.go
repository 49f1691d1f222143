package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicflow/civicflow/internal/types"
)

var (
	submitLang string
	submitLat  float64
	submitLon  float64
	submitArea string
)

var submitCmd = &cobra.Command{
	Use:   "submit <complaint text>",
	Short: "Submit a complaint and run its workflow",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		intake := &types.Intake{
			CityID:   cityFlag,
			Text:     strings.Join(args, " "),
			Language: submitLang,
		}
		if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
			intake.Location = &types.Location{Latitude: submitLat, Longitude: submitLon, Area: submitArea}
		}

		issue, validation, err := app.orch.Submit(ctx, intake)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Tracking ID: %s (workflow %s)\n", green("Accepted."), issue.ID, issue.WorkflowID)
		if validation != nil {
			for _, f := range validation.MissingFields {
				fmt.Printf("  %s %s was not provided; include it for better routing\n", yellow("note:"), f)
			}
		}

		if err := app.orch.Process(ctx, cityFlag, issue.ID); err != nil {
			if types.NeedsIntervention(err) {
				fmt.Printf("%s The workflow needs administrator attention: %v\n", yellow("Parked."), err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error: workflow failed: %v\n", err)
			os.Exit(1)
		}

		final, err := app.orch.GetIssue(ctx, cityFlag, issue.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printIssue(final)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitLang, "lang", "en", "Complaint language (ISO 639-1)")
	submitCmd.Flags().Float64Var(&submitLat, "lat", 0, "Latitude of the reported location")
	submitCmd.Flags().Float64Var(&submitLon, "lon", 0, "Longitude of the reported location")
	submitCmd.Flags().StringVar(&submitArea, "area", "", "Neighbourhood or ward name")
	rootCmd.AddCommand(submitCmd)
}
