package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/search"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search task titles, locations and descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.svc.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				if results == nil {
					results = []search.Result{}
				}
				return printJSON(cmd.OutOrStdout(), results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tSCORE\tTITLE")
			for _, r := range results {
				fmt.Fprintf(tw, "%d\t%.2f\t%s\n", r.TaskID, r.Score, r.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}
