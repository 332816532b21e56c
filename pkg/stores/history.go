package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/telemetry"
)

// RecordReport stores a finished run under the report's run ID.
func RecordReport(ctx context.Context, s Store, source string, startedAt time.Time, report *engine.Report) error {
	run, results, err := FromReport(source, startedAt, report)
	if err != nil {
		return err
	}
	return s.SaveRun(ctx, run, results)
}

// FromReport converts a report into its stored form.
func FromReport(source string, startedAt time.Time, report *engine.Report) (*Run, []*ServiceResult, error) {
	if report.RunID == "" {
		return nil, nil, fmt.Errorf("report has no run id")
	}
	blob, err := report.JSON()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode report: %w", err)
	}

	run := &Run{
		ID:                report.RunID,
		Source:            source,
		Status:            string(report.Status),
		ServicesRequested: report.Summary.TotalServices,
		ServicesAdded:     report.Summary.Successful,
		ServicesFailed:    report.Summary.Failed,
		OnDemandLink:      report.EstimateLinks.OnDemand,
		SavingsPlanLink:   report.EstimateLinks.SavingsPlan,
		Error:             optional(report.Error),
		LinkError:         optional(report.LinkError),
		Report:            string(blob),
		StartedAt:         startedAt,
		CompletedAt:       time.Now(),
	}

	results := make([]*ServiceResult, 0, len(report.Results))
	for _, res := range report.Results {
		filled := res.AutoFilledFields
		if filled == nil {
			filled = map[string]string{}
		}
		autoFilled, err := json.Marshal(filled)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode auto-filled fields: %w", err)
		}
		results = append(results, &ServiceResult{
			RequestID:   res.RequestID,
			Kind:        string(res.Kind),
			Status:      string(res.Status),
			Attempts:    res.Attempts,
			ErrorClass:  optional(string(res.ErrorClass)),
			ErrorDetail: optional(res.ErrorDetail),
			AutoFilled:  string(autoFilled),
			StartedAt:   res.StartedAt,
			Duration:    res.Duration,
		})
	}
	return run, results, nil
}

// DecodeReport returns the report stored with a run.
func (r *Run) DecodeReport() (*engine.Report, error) {
	var report engine.Report
	if err := json.Unmarshal([]byte(r.Report), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report of run %s: %w", r.ID, err)
	}
	return &report, nil
}

// EventSink returns a telemetry subscriber that appends every event to the
// store. Write failures are logged and otherwise ignored.
func EventSink(s Store, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		stored := &Event{
			ID:        e.ID,
			RunID:     optional(e.RunID),
			RequestID: optional(e.RequestID),
			Kind:      optional(e.Kind),
			Type:      e.Type,
			Level:     e.Level,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				stored.Data = optional(string(data))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendEvent(ctx, stored); err != nil {
			logger.Warn().Err(err).Str("event", e.Type).Msg("Failed to persist event")
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
