package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox [plan-id]",
	Short: "Show the inbox decision audit trail",
	Long: `Display how inbox items were resolved, per plan.

Each entry records whether a pending worker request was processed (a
response was routed back) or deferred, with the note or response text.
Without a plan id, every recorded plan is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInbox,
}

func runInbox(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Println("No state database found.")
		return nil
	}
	defer db.Close()

	var planIDs []string
	if len(args) == 1 {
		planIDs = []string{args[0]}
	} else {
		plans, err := db.ListPlans()
		if err != nil {
			return fmt.Errorf("list plans: %w", err)
		}
		for _, p := range plans {
			planIDs = append(planIDs, p.ID)
		}
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	shown := 0

	for _, planID := range planIDs {
		entries, err := db.ListInboxAudit(planID)
		if err != nil {
			return fmt.Errorf("list inbox audit: %w", err)
		}
		if len(entries) == 0 {
			continue
		}

		fmt.Printf("Plan %s:\n", planID)
		for _, e := range entries {
			action := green.Sprint(e.Action)
			if e.Action == "deferred" {
				action = yellow.Sprint(e.Action)
			}
			line := fmt.Sprintf("  %s  %s %s", e.CreatedAt.Format("2006-01-02 15:04:05"), action, e.MessageType)
			if e.Note != "" {
				line += fmt.Sprintf(": %s", e.Note)
			}
			fmt.Println(line)
			shown++
		}
		fmt.Println()
	}

	if shown == 0 {
		fmt.Println("No inbox decisions recorded.")
	}
	return nil
}
