package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicflow/civicflow/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <issue-id>",
	Short: "Show an issue and its workflow state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		app := mustApp()
		defer app.Close()

		issue, err := app.orch.GetIssue(ctx, cityFlag, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printIssue(issue)

		state, err := app.orch.GetWorkflowStatus(ctx, cityFlag, issue.WorkflowID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s %s (%s)\n", yellow("Workflow:"), state.WorkflowID, state.Status)
		for i, step := range state.Steps {
			marker := " "
			if i == state.Cursor && !state.Status.IsTerminal() {
				marker = ">"
			}
			line := fmt.Sprintf("%s %-20s %-10s attempts=%d", marker, step.AgentType, step.Outcome, step.Attempts)
			if step.Confidence > 0 {
				line += fmt.Sprintf(" confidence=%.2f", step.Confidence)
			}
			if step.LastError != "" {
				line += " error=" + step.LastError
			}
			fmt.Println(line)
		}
	},
}

// printIssue renders an issue summary with status-appropriate coloring
func printIssue(issue *types.Issue) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	statusColor := gray
	switch issue.Status {
	case types.StatusProcessed, types.StatusResolved:
		statusColor = green
	case types.StatusEscalated, types.StatusPendingIntervention:
		statusColor = red
	case types.StatusPendingReview:
		statusColor = yellow
	}

	fmt.Printf("\nIssue %s  %s\n", issue.ID, statusColor(string(issue.Status)))
	fmt.Printf("  Text:      %s\n", issue.Text)
	if issue.Classification != nil {
		fmt.Printf("  Domain:    %s (confidence %.2f)\n", issue.Classification.Domain, issue.Classification.Confidence)
	}
	if issue.Priority != nil {
		fmt.Printf("  Priority:  severity %d, urgency %d, overall %d\n",
			issue.Priority.Severity, issue.Priority.Urgency, issue.Priority.Overall)
		if issue.Priority.EscalationRequired {
			fmt.Printf("  %s\n", red("Escalated to the urgent queue"))
		}
	}
	if issue.DuplicateOf != "" {
		fmt.Printf("  Duplicate of %s\n", issue.DuplicateOf)
	}
	if issue.AffectedCount > 1 {
		fmt.Printf("  Reported by %d citizens\n", issue.AffectedCount)
	}
	fmt.Printf("  Submitted: %s\n", issue.SubmittedAt.Format("2006-01-02 15:04:05"))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
