package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/policy"
)

type validation struct {
	File     string                  `json:"file"`
	Services int                     `json:"services"`
	Valid    bool                    `json:"valid"`
	Error    string                  `json:"error,omitempty"`
	Requests []engine.ServiceRequest `json:"requests,omitempty"`
	Rejected []engine.ServiceResult  `json:"rejected,omitempty"`
	Policy   *policy.Result          `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		files    []string
		template string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate request files without opening a browser",
		Long: `Validate request files the way a run would, without touching the
calculator.

This command checks:
  - Request file syntax and template names
  - Service kinds and duplicate request IDs
  - Required fields and value rules of every service
  - Guardrail policies; warnings are printed but do not fail validation`,
		Example: `  # Validate a request file
  calcpilot validate -f web.yaml

  # Show the expanded requests, including template defaults
  calcpilot validate -f web.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files = append(files, args...)
			if len(files) == 0 {
				return fmt.Errorf("no request files given")
			}

			a, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.newOrchestrator()
			if err != nil {
				return err
			}

			var out []validation
			invalid := 0
			for _, file := range files {
				v := validation{File: file}
				requests, err := a.expand(file, template)
				if err == nil {
					v.Requests = requests
					v.Services = len(requests)
					v.Rejected, err = orch.Validate(requests)
				}
				if err == nil {
					v.Policy, err = a.guard(cmd.Context(), "validate", requests)
				}
				if err != nil {
					v.Error = err.Error()
				}
				v.Valid = err == nil && len(v.Rejected) == 0 && (v.Policy == nil || v.Policy.Allowed)
				if !v.Valid {
					invalid++
				}
				out = append(out, v)
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for _, v := range out {
					if v.Valid {
						fmt.Fprintf(w, "%s: ok (%d services)\n", v.File, v.Services)
						printFindings(w, "  ", v.Policy)
						continue
					}
					fmt.Fprintf(w, "%s: invalid\n", v.File)
					if v.Error != "" {
						fmt.Fprintf(w, "  %s\n", v.Error)
					}
					for _, res := range v.Rejected {
						if res.ErrorDetail != "" && res.ErrorDetail != v.Error {
							fmt.Fprintf(w, "  %s: %s\n", res.RequestID, res.ErrorDetail)
						}
					}
					printFindings(w, "  ", v.Policy)
				}
			}

			if invalid > 0 {
				return &exitError{code: 2, err: fmt.Errorf("%d of %d request files are invalid", invalid, len(files))}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "request file (repeatable)")
	cmd.Flags().StringVarP(&template, "template", "t", "", "template applied to services that name none")

	return cmd
}
