package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/calcpilot/calcpilot/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past estimation runs",
		Long: `Inspect past estimation runs recorded in the history database.

Without a subcommand the most recent runs are listed.`,
		RunE: runHistoryList(new(int), new(int)),
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList(&limit, &offset),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}

func runHistoryList(limit, offset *int) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), setupOptions{store: true})
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := a.requireStore()
		if err != nil {
			return err
		}
		n := *limit
		if n <= 0 {
			n = 20
		}
		runs, err := store.ListRuns(cmd.Context(), n, *offset)
		if err != nil {
			return err
		}
		for _, r := range runs {
			r.Report = ""
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), runs)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTARTED\tSOURCE\tSTATUS\tADDED\tFAILED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\n",
				shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Source, r.Status,
				r.ServicesAdded, r.ServicesRequested, r.ServicesFailed)
		}
		return tw.Flush()
	}
}

func newHistoryShowCommand() *cobra.Command {
	var events bool
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the report of a run",
		Long:  `Show the report of a run. RUN_ID may be any unique prefix of the run ID.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, setupOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.requireStore()
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			report, err := run.DecodeReport()
			if err != nil {
				return err
			}

			var log []*stores.Event
			if events {
				log, err = store.GetEvents(ctx, stores.EventQuery{RunID: run.ID})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"run":    run.ID,
					"source": run.Source,
					"report": report,
					"events": log,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Source: %s\nStarted: %s\nCompleted: %s\n\n",
				run.Source, run.StartedAt.Local().Format(time.DateTime), run.CompletedAt.Local().Format(time.DateTime))
			printReport(w, report)

			if events {
				fmt.Fprintln(w, "\nEvents:")
				for _, e := range log {
					fmt.Fprintf(w, "  %s  %-7s %-24s %s\n",
						e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Message)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "include the run's event log")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, setupOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.requireStore()
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			if err := store.DeleteRun(ctx, run.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", run.ID)
			return nil
		},
	}
}
