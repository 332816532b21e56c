package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// run executes the CLI with a config that keeps history out of the user's
// cache directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "calcpilot.yaml")
	cfg := "store:\n  path: " + filepath.Join(dir, "history.db") + "\ntelemetry:\n  logging:\n    level: error\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeRequest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	good := writeRequest(t, "infrastructure: basic_web_app\n")
	out, err := run(t, "validate", "-f", good)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (4 services)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bad := writeRequest(t, "services:\n  - id: db\n    kind: rds\n    parameters:\n      engine: cobol\n")
	out, err = run(t, "validate", "-f", bad)
	if ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d (%v)", ExitCode(err), err)
	}
	if !strings.Contains(out, "db:") || !strings.Contains(out, "engine") {
		t.Errorf("expected the rejected field in the output:\n%s", out)
	}
}

func TestValidateCommandJSON(t *testing.T) {
	path := writeRequest(t, "services:\n  - kind: ec2\n    parameters:\n      instance_type: t3.large\n")
	out, err := run(t, "validate", "--json", "-f", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	var got []validation
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 1 || !got[0].Valid || got[0].Requests[0].Defaults["quantity"] != "1" {
		t.Errorf("unexpected validation %+v", got)
	}
}

func TestValidateGuardrails(t *testing.T) {
	blocked := writeRequest(t, "services:\n  - id: fleet\n    kind: ec2\n    parameters:\n      instance_type: t3.large\n      quantity: 500\n")
	out, err := run(t, "validate", "-f", blocked)
	if ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d (%v)\n%s", ExitCode(err), err, out)
	}
	if !strings.Contains(out, "error fleet-size (fleet):") {
		t.Errorf("expected the fleet-size violation:\n%s", out)
	}

	warned := writeRequest(t, "services:\n  - id: db\n    kind: rds\n    parameters:\n      engine: MySQL\n      instance_class: db.r5.large\n")
	out, err = run(t, "validate", "-f", warned)
	if err != nil {
		t.Fatalf("warnings must not fail validation: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (1 services)") || !strings.Contains(out, "warning database-availability (db):") {
		t.Errorf("expected the availability warning:\n%s", out)
	}
}

func TestPoliciesCommands(t *testing.T) {
	out, err := run(t, "policies", "list")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"fleet-size", "single-region", "database-availability"} {
		if !strings.Contains(out, want) {
			t.Errorf("list misses %s:\n%s", want, out)
		}
	}

	out, err = run(t, "policies", "show", "fleet-size")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "package calcpilot.guardrails.fleet_size") {
		t.Errorf("unexpected show output:\n%s", out)
	}
}

func TestTemplatesCommands(t *testing.T) {
	out, err := run(t, "templates", "list")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"web_server", "postgresql", "enterprise_app"} {
		if !strings.Contains(out, want) {
			t.Errorf("list misses %s:\n%s", want, out)
		}
	}

	out, err = run(t, "templates", "show", "production")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "deployment: Multi-AZ") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	if _, err := run(t, "templates", "show", "nope"); err == nil {
		t.Error("expected unknown template to fail")
	}
}

func TestHistoryEmpty(t *testing.T) {
	out, err := run(t, "history", "list")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.HasPrefix(out, "RUN") {
		t.Errorf("expected only the header, got:\n%s", out)
	}
	if _, err := run(t, "history", "show", "missing"); err == nil {
		t.Error("expected unknown run to fail")
	}
}

func TestConfigShow(t *testing.T) {
	out, err := run(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "level: error") || !strings.Contains(out, "calculator.aws/#/addService") {
		t.Errorf("unexpected config:\n%s", out)
	}
}

func TestStatusError(t *testing.T) {
	ok := &engine.Report{Status: engine.StatusSuccess}
	if err := statusError("a.yaml", ok); err != nil {
		t.Errorf("success should not fail: %v", err)
	}

	partial := &engine.Report{Status: engine.StatusPartialSuccess, Summary: engine.ReportSummary{TotalServices: 3, Failed: 1}}
	if code := ExitCode(statusError("a.yaml", partial)); code != 3 {
		t.Errorf("partial success: expected exit code 3, got %d", code)
	}

	failed := &engine.Report{Status: engine.StatusFailure, Error: "session could not be opened"}
	err := statusError("a.yaml", failed)
	if ExitCode(err) != 2 || !strings.Contains(err.Error(), "session could not be opened") {
		t.Errorf("unexpected failure error %v", err)
	}

	if ExitCode(errors.New("plain")) != 1 {
		t.Error("plain errors exit with 1")
	}
}

func TestPrintReport(t *testing.T) {
	link := "https://calculator.aws/#/estimate?id=abc"
	report := &engine.Report{
		RunID:  "run-1",
		Status: engine.StatusPartialSuccess,
		Summary: engine.ReportSummary{
			TotalServices: 2,
			Successful:    1,
			Failed:        1,
		},
		Results: []engine.ServiceResult{
			{RequestID: "web", Kind: engine.KindCompute, Status: engine.ResultAdded, Attempts: 1},
			{RequestID: "db", Kind: engine.KindDatabase, Status: engine.ResultFailed, Attempts: 3,
				ErrorClass: engine.ErrorClassStructural, ErrorDetail: "target not found"},
		},
		AutoFilledInfo: []string{"Compute: quantity = 1 (from template_default)"},
		EstimateLinks:  engine.EstimateLinks{OnDemand: &link},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	for _, want := range []string{
		"Run run-1: partial_success (1 of 2 services added)",
		"[structural] target not found",
		"Compute: quantity = 1",
		"On-demand estimate: " + link,
		"Savings plan estimate: none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
