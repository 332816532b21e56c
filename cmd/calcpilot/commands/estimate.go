package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/calcpilot/calcpilot/pkg/telemetry"
)

func newEstimateCommand() *cobra.Command {
	var (
		file     string
		template string
		outFile  string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Build an estimate from a request file",
		Long: `Build an AWS cost estimate from a request file.

The run:
  - Expands templates and validates every service request
  - Checks the requests against the guardrail policies
  - Opens a calculator session in Chrome
  - Configures services in dependency order, verifying each step
  - Recovers the session if the page degrades or the browser dies
  - Generates on-demand and savings plan estimate links
  - Records the report in the run history`,
		Example: `  # Estimate the services in a request file
  calcpilot estimate -f web.yaml

  # Apply the production templates where a kind defines one
  calcpilot estimate -f web.yaml --template production

  # Read the request file from stdin and print the report as JSON
  cat web.yaml | calcpilot estimate -f - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, setupOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			requests, err := a.expand(file, template)
			if err != nil {
				return err
			}
			guard, err := a.guard(ctx, "estimate", requests)
			if err != nil {
				return err
			}
			if guard != nil && !guard.Allowed {
				printFindings(cmd.ErrOrStderr(), "", guard)
				return blockedError(file, guard)
			}
			orch, err := a.newOrchestrator()
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("file", file).
				Int("services", len(requests)).
				Msg("Starting estimate")

			op := telemetry.StartOperation(a.tel.WithContext(ctx), "estimate", telemetry.AttrRequestFile.String(file))
			startedAt := time.Now()
			report := orch.Run(op.Ctx, requests)
			runErr := statusError(file, report)
			op.Span.SetAttributes(telemetry.AttrRunID.String(report.RunID), telemetry.AttrRunStatus.String(string(report.Status)))
			op.End(runErr)

			a.record(ctx, file, startedAt, report)

			if outFile != "" {
				data, err := report.JSON()
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request file (- for stdin)")
	cmd.Flags().StringVarP(&template, "template", "t", "", "template applied to services that name none")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "also write the JSON report to this file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
