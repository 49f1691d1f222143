package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate city reports from the complaint history",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Weekly summary: volumes, hotspots, resolution times",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		report, err := app.reports.WeeklyReport(ctx, cityFlag, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan(fmt.Sprintf("=== Weekly report: %s (%s to %s) ===",
			report.CityID, report.From.Format("Jan 2"), report.To.Format("Jan 2"))))
		fmt.Printf("Total issues: %d\n\n", report.TotalIssues)
		fmt.Println(report.Narrative)
	},
}

var reportEmergingCmd = &cobra.Command{
	Use:   "emerging",
	Short: "Domains whose complaint volume is spiking",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		emerging, err := app.reports.IdentifyEmergingIssues(ctx, cityFlag, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(emerging) == 0 {
			fmt.Println("No emerging issues detected")
			return
		}
		red := color.New(color.FgRed).SprintFunc()
		for _, e := range emerging {
			if e.Baseline == 0 {
				fmt.Printf("%s %s: %d reports, none previously\n", red("▲"), e.Label(), e.Current)
				continue
			}
			fmt.Printf("%s %s: %d reports vs weekly baseline %.1f (%.1fx), severity %.1f vs %.1f\n",
				red("▲"), e.Label(), e.Current, e.Baseline, e.Growth, e.Severity, e.BaselineSeverity)
		}
	},
}

func init() {
	reportCmd.AddCommand(reportWeeklyCmd)
	reportCmd.AddCommand(reportEmergingCmd)
	rootCmd.AddCommand(reportCmd)
}
