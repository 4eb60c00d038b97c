package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/coded/internal/housekeeping"
)

func housekeepingCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "housekeeping",
		Short: "Prune expired session rollouts and abandoned worktrees",
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHome, err := codeHomeFlag(cmd)
			if err != nil {
				return err
			}
			if force {
				os.Setenv("CODE_CLEANUP_MIN_INTERVAL_HOURS", "0")
			}
			outcome, err := housekeeping.RunIfDue(codeHome)
			if err != nil {
				return err
			}
			if outcome == nil {
				fmt.Println("skipped: disabled, locked by another process, or ran within the minimum interval")
				return nil
			}
			fmt.Printf("sessions: removed %d days (%d files, %d bytes)\n",
				outcome.SessionDaysRemoved, outcome.SessionFilesRemoved, outcome.SessionBytesReclaimed)
			fmt.Printf("worktrees: removed %d (%d files, %d bytes), skipped %d active\n",
				outcome.WorktreesRemoved, outcome.WorktreeFilesRemoved, outcome.WorktreeBytesReclaimed, outcome.WorktreesSkippedActive)
			if outcome.Errors > 0 {
				fmt.Printf("encountered %d non-fatal errors during cleanup\n", outcome.Errors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run even if the minimum interval hasn't elapsed")
	return cmd
}
