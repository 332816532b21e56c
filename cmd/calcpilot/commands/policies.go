package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List and inspect guardrail policies",
	}
	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesShowCommand())
	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded guardrail policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.policies == nil {
				return errors.New("guardrails are disabled (policy.enabled: false)")
			}
			list := a.policies.List()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POLICY\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, p.Source, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPoliciesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print the Rego source of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.policies == nil {
				return errors.New("guardrails are disabled (policy.enabled: false)")
			}
			p, ok := a.policies.Get(args[0])
			if !ok {
				return fmt.Errorf("policy %q not found", args[0])
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s (%s, %s)\n%s\n", p.Name, p.Severity, p.Source, p.Rego)
			return nil
		},
	}
}
