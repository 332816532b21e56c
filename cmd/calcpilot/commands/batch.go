package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/telemetry"
)

// batchResult is the outcome of one request file.
type batchResult struct {
	File   string         `json:"file"`
	Report *engine.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newBatchCommand() *cobra.Command {
	var (
		files    []string
		template string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Build one estimate per request file, several at once",
		Long: `Build one estimate per request file. Each estimate runs in its own
browser session; --parallel limits how many run at the same time.

A file that cannot be read or expanded does not stop the others.`,
		Example: `  # Two estimates, one after the other
  calcpilot batch -f web.yaml -f data.yaml --parallel 1

  # Every request file in a directory
  calcpilot batch -f requests/*.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files = append(files, args...)
			if len(files) == 0 {
				return fmt.Errorf("no request files given")
			}

			a, err := setup(ctx, setupOptions{store: true, watch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("parallel") {
				parallel = a.cfg.Batch.Parallel
			}
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}

			orch, err := a.newOrchestrator()
			if err != nil {
				return err
			}
			ctx = a.tel.WithContext(ctx)

			results := make([]batchResult, len(files))
			g := new(errgroup.Group)
			g.SetLimit(parallel)

			for i, file := range files {
				g.Go(func() error {
					results[i] = batchResult{File: file}
					if ctx.Err() != nil {
						results[i].Error = "not started: interrupted"
						return nil
					}

					requests, err := a.expand(file, template)
					if err != nil {
						results[i].Error = err.Error()
						a.logger.Error().Err(err).Str("file", file).Msg("Skipping request file")
						return nil
					}

					guard, err := a.guard(ctx, "batch", requests)
					if err == nil && guard != nil && !guard.Allowed {
						err = blockedError(file, guard)
					}
					if err != nil {
						results[i].Error = err.Error()
						a.logger.Error().Err(err).Str("file", file).Msg("Skipping request file")
						return nil
					}

					op := telemetry.StartOperation(ctx, "estimate", telemetry.AttrRequestFile.String(file))
					startedAt := time.Now()
					report := orch.Run(op.Ctx, requests)
					op.Span.SetAttributes(telemetry.AttrRunID.String(report.RunID), telemetry.AttrRunStatus.String(string(report.Status)))
					op.End(statusError(file, report))

					a.record(ctx, file, startedAt, report)
					results[i].Report = report
					return nil
				})
			}
			_ = g.Wait()

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printBatch(cmd, results)
			}

			failed := 0
			for _, res := range results {
				if res.Report == nil || res.Report.Status != engine.StatusSuccess {
					failed++
				}
			}
			if failed > 0 {
				return &exitError{code: 3, err: fmt.Errorf("%d of %d estimates did not fully succeed", failed, len(results))}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "request file (repeatable)")
	cmd.Flags().StringVarP(&template, "template", "t", "", "template applied to services that name none")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "number of estimates run at once")

	return cmd
}

func printBatch(cmd *cobra.Command, results []batchResult) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRUN\tSTATUS\tADDED\tFAILED\tON-DEMAND LINK")
	for _, res := range results {
		if res.Report == nil {
			fmt.Fprintf(tw, "%s\t-\terror\t-\t-\t%s\n", res.File, res.Error)
			continue
		}
		r := res.Report
		link := "-"
		if r.EstimateLinks.OnDemand != nil {
			link = *r.EstimateLinks.OnDemand
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			res.File, shortID(r.RunID), r.Status, kindList(r.ServicesAdded), kindList(r.ServicesFailed), link)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
