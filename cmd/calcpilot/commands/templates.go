package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/calcpilot/calcpilot/pkg/templates"
)

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and inspect configuration templates",
	}
	cmd.AddCommand(newTemplatesListCommand())
	cmd.AddCommand(newTemplatesShowCommand())
	return cmd
}

func newTemplatesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List service and infrastructure templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			set := a.templates.Current()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"services":       set.Services(),
					"infrastructure": set.Infrastructures(),
				})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tTEMPLATE\tDESCRIPTION")
			for _, t := range set.Services() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Kind, t.Name, t.Description)
			}
			fmt.Fprintln(tw, "\nINFRASTRUCTURE\tSERVICES\tDESCRIPTION")
			for _, inf := range set.Infrastructures() {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", inf.Name, len(inf.Services), inf.Description)
			}
			return tw.Flush()
		},
	}
}

func newTemplatesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show the values of a template",
		Long: `Show a template's values. NAME is an infrastructure template or a
per-service template; a per-service name defined for several kinds shows
each of them.`,
		Example: `  calcpilot templates show basic_web_app
  calcpilot templates show production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			set := a.templates.Current()

			var found []any
			if inf, ok := set.Infrastructure(name); ok {
				found = append(found, inf)
			}
			for _, t := range set.Services() {
				if t.Name == name {
					found = append(found, t)
				}
			}
			if len(found) == 0 {
				return fmt.Errorf("template %q not found", name)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), found)
			}
			w := cmd.OutOrStdout()
			for _, item := range found {
				switch v := item.(type) {
				case templates.Infrastructure:
					fmt.Fprintf(w, "# infrastructure %s (%s)\n", v.Name, v.Source)
					if v.Description != "" {
						fmt.Fprintf(w, "# %s\n", v.Description)
					}
					for _, svc := range v.Services {
						tmpl := svc.Template
						if tmpl == "" {
							tmpl = templates.DefaultName
						}
						fmt.Fprintf(w, "%s (on %s):\n", svc.Kind, tmpl)
						printValues(w, svc.Values)
					}
				case templates.Template:
					fmt.Fprintf(w, "# %s template %s (%s)\n", v.Kind, v.Name, v.Source)
					if v.Description != "" {
						fmt.Fprintf(w, "# %s\n", v.Description)
					}
					printValues(w, v.Values)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
}

// printValues prints values as indented YAML, keys sorted.
func printValues(w io.Writer, values map[string]string) {
	out, err := yaml.Marshal(values)
	if err != nil {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
