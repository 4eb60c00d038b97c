// Command coded is the interactive coding-agent runtime: the session
// state machine, exec/PTY sessions, rollout recording, and the
// surrounding CLI scaffolding (auth, housekeeping, resume picker).
//
// Grounded on cmd/wingthing/main.go and cmd/wt/main.go's cobra root +
// subcommand-per-file layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "coded",
		Short: "An interactive terminal runtime for a coding agent",
		Long:  "Owns the session state machine, exec/PTY sessions, and conversation rollouts for a coding agent.",
	}

	root.PersistentFlags().String("code-home", "", "Override CODE_HOME (defaults to ~/.code)")
	root.PersistentFlags().String("profile", "", "Named config profile to apply")

	root.AddCommand(
		runCmd(),
		resumeCmd(),
		housekeepingCmd(),
		loginCmd(),
		logoutCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func codeHomeFlag(cmd *cobra.Command) (string, error) {
	override, _ := cmd.Flags().GetString("code-home")
	if override != "" {
		return override, nil
	}
	return defaultCodeHomeOrEnsure()
}
