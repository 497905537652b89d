package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/go-tasks/internal/config"
	"github.com/basket/go-tasks/internal/doctor"
	"github.com/basket/go-tasks/internal/persistence"
	"github.com/basket/go-tasks/internal/provider"
)

var errDoctorFailed = errors.New("doctor found failing checks")

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild search entries marked stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = a.cfg.Maintenance.ReindexBatch
			}
			n, err := a.svc.Reindex(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]int{"rebuilt": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d stale entries\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (default maintenance.reindex_batch)")
	return cmd
}

func newInstancesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Maintain instance rows",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Recompute every instance row in the configured zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.RecomputeInstances(opts.context(cmd.Context()))
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]any{"recomputed": n, "timezone": a.svc.Location().String()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d instances in %s\n", n, a.svc.Location())
			return nil
		},
	})
	return cmd
}

func newTimezoneCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timezone",
		Short: "Show or change the zone instance sort keys use",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set ZONE",
		Short: "Write local_timezone to config.yaml; empty resets to the process zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := config.SetTimezone(cfg.HomeDir, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "local_timezone set to %q; run `gotasks instances recompute` or keep `gotasks serve` running\n", args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Show the configured zone and the zone instances were computed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			store, err := persistence.Open(cfg.Database())
			if err != nil {
				return err
			}
			defer store.Close()
			recorded, err := store.KVGet(cmd.Context(), provider.TimezoneKey)
			if err != nil {
				return err
			}
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]string{"configured": loc.String(), "recorded": recorded})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configured: %s\nrecorded:   %s\n", loc, orDash(recorded))
			return nil
		},
	})
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfgPtr *config.Config
			cfg, err := loadConfig(opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
			} else {
				cfgPtr = &cfg
			}
			diag := doctor.Run(cmd.Context(), cfgPtr, Version)

			w := cmd.OutOrStdout()
			if wantJSON(cmd, opts) {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(diag); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "gotasks doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
				fmt.Fprintf(w, "System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
				fmt.Fprintln(w, "---")
				for _, res := range diag.Results {
					fmt.Fprintf(w, "[%s] %-15s: %s\n", res.Status, res.Name, res.Message)
					if res.Detail != "" {
						fmt.Fprintf(w, "    %s\n", res.Detail)
					}
				}
			}
			if diag.Failed() {
				return errDoctorFailed
			}
			return nil
		},
	}
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup DEST",
		Short: "Write a consistent copy of the database to DEST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.logger.Info("database backed up", "dest", args[0])
			if wantJSON(cmd, opts) {
				return printJSON(cmd.OutOrStdout(), map[string]string{"backup": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gotasks %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
