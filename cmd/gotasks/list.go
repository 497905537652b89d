package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/input"
	"github.com/basket/go-tasks/internal/persistence"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage task lists",
	}
	cmd.AddCommand(newListCreateCmd(opts), newListLsCmd(opts))
	return cmd
}

func newListCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		l    persistence.List
		file string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a list from flags or a JSON payload",
		Example: `  gotasks list create --account me --type local --name Inbox
  gotasks list create -f list.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				r, closeFn, err := openPayload(cmd, file)
				if err != nil {
					return err
				}
				defer closeFn()
				dec, err := input.NewDecoder()
				if err != nil {
					return err
				}
				if l, err = dec.List(r); err != nil {
					return err
				}
			}
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.svc.CreateList(opts.context(cmd.Context()), l)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created list %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&l.AccountName, "account", "", "account name")
	cmd.Flags().StringVar(&l.AccountType, "type", "local", "account type")
	cmd.Flags().StringVar(&l.Name, "name", "", "list name")
	cmd.Flags().StringVar(&l.Owner, "owner", "", "list owner")
	cmd.Flags().BoolVar(&l.Visible, "visible", true, "show the list")
	cmd.Flags().BoolVar(&l.SyncEnabled, "sync", true, "enable sync for the list")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON payload file, - for stdin")
	return cmd
}

func newListLsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Show all lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			lists, err := a.svc.Lists(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				if lists == nil {
					lists = []persistence.List{}
				}
				return printJSON(cmd.OutOrStdout(), lists)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tNAME\tACCOUNT\tTYPE\tVISIBLE")
			for _, l := range lists {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", l.ID, l.Name, l.AccountName, l.AccountType, l.Visible)
			}
			return tw.Flush()
		},
	}
}

// openPayload opens path, or the command's stdin for "-".
func openPayload(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open payload: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
