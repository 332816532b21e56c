package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ReportSummary holds the report totals.
type ReportSummary struct {
	TotalServices int `json:"total_services"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
}

// Report is the structured result handed to the caller at the end of a run.
type Report struct {
	Status            OverallStatus   `json:"status"`
	ServicesRequested []ServiceKind   `json:"services_requested"`
	ServicesAdded     []ServiceKind   `json:"services_added"`
	ServicesFailed    []ServiceKind   `json:"services_failed"`
	AutoFilledInfo    []string        `json:"auto_filled_info"`
	EstimateLinks     EstimateLinks   `json:"estimate_links"`
	Summary           ReportSummary   `json:"summary"`
	RunID             string          `json:"run_id,omitempty"`
	Error             string          `json:"error,omitempty"`
	LinkError         string          `json:"link_error,omitempty"`
	Results           []ServiceResult `json:"results,omitempty"`
}

// BuildReport summarizes a finished run. Skipped results count as failed.
func BuildReport(run *EstimationRun) *Report {
	report := &Report{
		Status:            run.OverallStatus(),
		ServicesRequested: make([]ServiceKind, 0, len(run.Requests)),
		ServicesAdded:     make([]ServiceKind, 0),
		ServicesFailed:    make([]ServiceKind, 0),
		AutoFilledInfo:    make([]string, 0),
		EstimateLinks:     run.FinalLinks,
		RunID:             run.ID,
	}

	templates := make(map[string]string, len(run.Requests))
	for _, req := range run.Requests {
		report.ServicesRequested = append(report.ServicesRequested, req.Kind)
		templates[req.ID] = req.Template
	}

	for _, res := range run.OrderedResults() {
		switch res.Status {
		case ResultAdded:
			report.ServicesAdded = append(report.ServicesAdded, res.Kind)
		default:
			report.ServicesFailed = append(report.ServicesFailed, res.Kind)
		}
		report.AutoFilledInfo = append(report.AutoFilledInfo, autoFilledLines(res, templates[res.RequestID])...)
		report.Results = append(report.Results, res)
	}

	report.Summary = ReportSummary{
		TotalServices: len(run.Requests),
		Successful:    len(report.ServicesAdded),
		Failed:        len(report.ServicesFailed),
	}

	if run.Err != nil {
		report.Error = run.Err.Error()
	}
	if run.LinkErr != nil {
		report.LinkError = run.LinkErr.Error()
	}
	return report
}

// autoFilledLines renders "<kind>: <field> = <value> (from <origin>)" sorted
// by field name. Back-filled values always come from defaults; the template
// that supplied them is named when the request recorded one.
func autoFilledLines(res ServiceResult, template string) []string {
	if len(res.AutoFilledFields) == 0 {
		return nil
	}
	fields := make([]string, 0, len(res.AutoFilledFields))
	for field := range res.AutoFilledFields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	origin := string(OriginTemplateDefault)
	if template != "" {
		origin += ": " + template
	}

	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		lines = append(lines, fmt.Sprintf("%s: %s = %s (from %s)",
			res.Kind, field, res.AutoFilledFields[field], origin))
	}
	return lines
}

// JSON encodes the report with indentation.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
