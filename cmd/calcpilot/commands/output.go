package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/policy"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport renders a report for humans.
func printReport(w io.Writer, report *engine.Report) {
	fmt.Fprintf(w, "Run %s: %s (%d of %d services added)\n",
		report.RunID, report.Status, report.Summary.Successful, report.Summary.TotalServices)

	if len(report.Results) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\nREQUEST\tKIND\tSTATUS\tATTEMPTS\tDETAIL")
		for _, res := range report.Results {
			detail := res.ErrorDetail
			if res.ErrorClass != "" {
				detail = fmt.Sprintf("[%s] %s", res.ErrorClass, detail)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", res.RequestID, res.Kind, res.Status, res.Attempts, detail)
		}
		_ = tw.Flush()
	}

	if len(report.AutoFilledInfo) > 0 {
		fmt.Fprintln(w, "\nAuto-filled:")
		for _, line := range report.AutoFilledInfo {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	fmt.Fprintln(w)
	printLink(w, "On-demand estimate", report.EstimateLinks.OnDemand)
	printLink(w, "Savings plan estimate", report.EstimateLinks.SavingsPlan)
	if report.LinkError != "" {
		fmt.Fprintf(w, "Link error: %s\n", report.LinkError)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
}

func printLink(w io.Writer, label string, link *string) {
	if link == nil {
		fmt.Fprintf(w, "%s: none\n", label)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, *link)
}

// statusError turns a non-successful report into the command's error.
func statusError(source string, report *engine.Report) error {
	switch report.Status {
	case engine.StatusSuccess:
		return nil
	case engine.StatusPartialSuccess:
		return &exitError{code: 3, err: fmt.Errorf("%s: %d of %d services failed",
			source, report.Summary.Failed, report.Summary.TotalServices)}
	default:
		msg := report.Error
		if msg == "" {
			msg = "no service was added"
		}
		return &exitError{code: 2, err: fmt.Errorf("%s: estimation failed: %s", source, msg)}
	}
}

func kindList(kinds []engine.ServiceKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// printFindings lists guardrail violations and warnings, one per line.
func printFindings(w io.Writer, indent string, result *policy.Result) {
	if result == nil {
		return
	}
	for _, v := range result.Findings() {
		subject := v.Policy
		if v.Request != "" {
			subject += " (" + v.Request + ")"
		}
		fmt.Fprintf(w, "%s%s %s: %s\n", indent, v.Severity, subject, v.Message)
	}
}

// blockedError is returned when guardrails stop a run before it starts.
func blockedError(source string, result *policy.Result) error {
	return &exitError{code: 2, err: fmt.Errorf("%s: blocked by %d guardrail violation(s)", source, len(result.Violations))}
}
