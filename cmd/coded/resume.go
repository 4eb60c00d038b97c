package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/coded/internal/resume"
	"github.com/ehrlich-b/coded/internal/rollout"
)

func resumeCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "List recent conversations, optionally filtered by a search query",
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHome, err := codeHomeFlag(cmd)
			if err != nil {
				return err
			}

			idx, err := rollout.OpenIndex(codeHome)
			if err != nil {
				return fmt.Errorf("open rollout index: %w", err)
			}
			defer idx.Close()

			ctx := context.Background()
			if err := idx.Rebuild(ctx, codeHome); err != nil {
				return fmt.Errorf("rebuild rollout index: %w", err)
			}

			picker := resume.NewPicker(idx.Filtered())
			if err := picker.LoadInitial(ctx); err != nil {
				return fmt.Errorf("load conversations: %w", err)
			}
			if query != "" {
				picker.SetQuery(ctx, query)
			}

			rows := picker.FilteredRows()
			if len(rows) == 0 {
				fmt.Println("no conversations found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPREVIEW")
			for _, row := range rows {
				preview := row.Preview
				if len(preview) > 60 {
					preview = preview[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\n", resume.DisplayName(row.Path), preview)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Filter conversations by a live search query")
	return cmd
}
