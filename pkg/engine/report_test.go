package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildReport(t *testing.T) {
	link := "https://calculator.aws/#/estimate?id=abc"
	run := &EstimationRun{
		ID:    "run-1",
		State: RunStateDone,
		Requests: []ServiceRequest{
			{ID: "vpc", Kind: KindNetwork},
			{ID: "web", Kind: KindCompute, Template: "web_small"},
			{ID: "db", Kind: KindDatabase},
		},
		Results: map[string]*ServiceResult{
			"db":  {RequestID: "db", Kind: KindDatabase, Status: ResultSkipped, ErrorDetail: "missing engine"},
			"web": {RequestID: "web", Kind: KindCompute, Status: ResultAdded, AutoFilledFields: map[string]string{"quantity": "1", "operating_system": "Linux"}},
			"vpc": {RequestID: "vpc", Kind: KindNetwork, Status: ResultAdded},
		},
		FinalLinks: EstimateLinks{OnDemand: &link},
	}

	report := BuildReport(run)

	if report.Status != StatusPartialSuccess {
		t.Errorf("expected partial_success, got %s", report.Status)
	}
	if diff := cmp.Diff([]ServiceKind{KindNetwork, KindCompute, KindDatabase}, report.ServicesRequested); diff != "" {
		t.Errorf("services_requested mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ServiceKind{KindNetwork, KindCompute}, report.ServicesAdded); diff != "" {
		t.Errorf("services_added mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ServiceKind{KindDatabase}, report.ServicesFailed); diff != "" {
		t.Errorf("services_failed mismatch (-want +got):\n%s", diff)
	}
	wantInfo := []string{
		"Compute: operating_system = Linux (from template_default: web_small)",
		"Compute: quantity = 1 (from template_default: web_small)",
	}
	if diff := cmp.Diff(wantInfo, report.AutoFilledInfo); diff != "" {
		t.Errorf("auto_filled_info mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ReportSummary{TotalServices: 3, Successful: 2, Failed: 1}, report.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(report.Results) != 3 || report.Results[0].RequestID != "vpc" || report.Results[2].RequestID != "db" {
		t.Errorf("results must follow request order, got %+v", report.Results)
	}
}

func TestReportJSONShape(t *testing.T) {
	run := &EstimationRun{
		ID:       "run-2",
		State:    RunStateAborted,
		Requests: []ServiceRequest{{ID: "a", Kind: KindStorage}},
		Results:  map[string]*ServiceResult{"a": {RequestID: "a", Kind: KindStorage, Status: ResultSkipped}},
		Err:      errors.New("session open failed"),
	}

	data, err := BuildReport(run).JSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["status"] != "failure" {
		t.Errorf("expected failure, got %v", decoded["status"])
	}
	if added, ok := decoded["services_added"].([]interface{}); !ok || len(added) != 0 {
		t.Errorf("services_added must be an empty array, got %v", decoded["services_added"])
	}
	links, ok := decoded["estimate_links"].(map[string]interface{})
	if !ok {
		t.Fatalf("estimate_links missing: %s", data)
	}
	for _, key := range []string{"ondemand", "savings_plan"} {
		v, present := links[key]
		if !present || v != nil {
			t.Errorf("expected %s to be null, got %v (present=%v)", key, v, present)
		}
	}
	if !strings.Contains(string(data), `"error": "session open failed"`) {
		t.Errorf("expected error in report, got %s", data)
	}
}

func TestAutoFilledLines(t *testing.T) {
	res := ServiceResult{
		RequestID:        "bucket",
		Kind:             KindStorage,
		AutoFilledFields: map[string]string{"storage_class": "Standard", "region": "us-east-1"},
	}

	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{
			name: "no template recorded",
			want: []string{
				"Storage: region = us-east-1 (from template_default)",
				"Storage: storage_class = Standard (from template_default)",
			},
		},
		{
			name:     "named template",
			template: "archive",
			want: []string{
				"Storage: region = us-east-1 (from template_default: archive)",
				"Storage: storage_class = Standard (from template_default: archive)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, autoFilledLines(res, tt.template)); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if lines := autoFilledLines(ServiceResult{Kind: KindStorage}, "archive"); lines != nil {
		t.Errorf("expected no lines, got %v", lines)
	}
}
