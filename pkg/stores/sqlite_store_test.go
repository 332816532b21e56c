package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func sampleReport(runID string) *engine.Report {
	link := "https://calculator.aws/#/estimate?id=abc123"
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &engine.Report{
		Status:            engine.StatusPartialSuccess,
		ServicesRequested: []engine.ServiceKind{engine.KindCompute, engine.KindDatabase},
		ServicesAdded:     []engine.ServiceKind{engine.KindCompute},
		ServicesFailed:    []engine.ServiceKind{engine.KindDatabase},
		AutoFilledInfo:    []string{"Compute: quantity = 1 (from template_default)"},
		EstimateLinks:     engine.EstimateLinks{OnDemand: &link},
		Summary:           engine.ReportSummary{TotalServices: 2, Successful: 1, Failed: 1},
		RunID:             runID,
		Results: []engine.ServiceResult{
			{
				RequestID:        "web",
				Kind:             engine.KindCompute,
				Status:           engine.ResultAdded,
				AutoFilledFields: map[string]string{"quantity": "1"},
				Attempts:         9,
				StartedAt:        started,
				Duration:         12 * time.Second,
			},
			{
				RequestID:   "db",
				Kind:        engine.KindDatabase,
				Status:      engine.ResultFailed,
				ErrorClass:  engine.ErrorClassStructural,
				ErrorDetail: "step \"set engine\" failed",
				Attempts:    1,
				StartedAt:   started.Add(12 * time.Second),
				Duration:    3 * time.Second,
			},
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// migrating twice is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "service_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRecordReportRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	report := sampleReport("6f1c2a90-0000-4000-8000-000000000001")
	started := time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC)

	if err := RecordReport(ctx, store, "web.yaml", started, report); err != nil {
		t.Fatalf("RecordReport: %v", err)
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != "partial_success" || run.ServicesAdded != 1 || run.ServicesFailed != 1 {
		t.Errorf("unexpected summary: %+v", run)
	}
	if run.OnDemandLink == nil || *run.OnDemandLink != *report.EstimateLinks.OnDemand {
		t.Errorf("unexpected on-demand link: %v", run.OnDemandLink)
	}
	if run.SavingsPlanLink != nil {
		t.Errorf("expected no savings-plan link, got %v", *run.SavingsPlanLink)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, run.StartedAt)
	}

	decoded, err := run.DecodeReport()
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if diff := cmp.Diff(report, decoded); diff != "" {
		t.Errorf("stored report mismatch (-want +got):\n%s", diff)
	}

	results, err := store.ListServiceResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("ListServiceResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RequestID != "web" || results[1].RequestID != "db" {
		t.Errorf("results out of request order: %s, %s", results[0].RequestID, results[1].RequestID)
	}
	if results[0].AutoFilled != `{"quantity":"1"}` {
		t.Errorf("unexpected auto-filled fields %s", results[0].AutoFilled)
	}
	if results[0].Duration != 12*time.Second {
		t.Errorf("expected 12s duration, got %s", results[0].Duration)
	}
	if results[1].ErrorClass == nil || *results[1].ErrorClass != "structural" {
		t.Errorf("unexpected error class %v", results[1].ErrorClass)
	}
	if results[0].ErrorClass != nil {
		t.Errorf("expected no error class for an added service")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"aaaa1111", "aaaa2222", "bbbb3333"} {
		if err := RecordReport(ctx, store, "-", time.Now(), sampleReport(id)); err != nil {
			t.Fatalf("RecordReport %s: %v", id, err)
		}
	}

	tests := []struct {
		prefix  string
		want    string
		wantErr bool
	}{
		{"bbbb", "bbbb3333", false},
		{"aaaa1111", "aaaa1111", false},
		{"aaaa", "", true},
		{"cccc", "", true},
		{"%", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			run, err := store.GetRun(ctx, tt.prefix)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got run %s", run.ID)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if run.ID != tt.want {
				t.Errorf("expected %s, got %s", tt.want, run.ID)
			}
		})
	}

	if _, err := store.GetRun(ctx, "cccc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := RecordReport(ctx, store, "-", base.Add(time.Duration(i)*time.Hour), sampleReport(id)); err != nil {
			t.Fatalf("RecordReport: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"run-3", "run-2"}, ids); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := RecordReport(ctx, store, "-", time.Now(), sampleReport("run-x")); err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-x"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	results, err := store.ListServiceResults(ctx, "run-x")
	if err != nil {
		t.Fatalf("ListServiceResults: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected results to be deleted with the run, got %d", len(results))
	}
	if err := store.DeleteRun(ctx, "run-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSaveRunIsAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, results, err := FromReport("-", time.Now(), sampleReport("run-dup"))
	if err != nil {
		t.Fatal(err)
	}
	// duplicate request IDs violate the unique constraint
	results[1].RequestID = results[0].RequestID

	if err := store.SaveRun(ctx, run, results); err == nil {
		t.Fatal("expected constraint violation")
	}
	if _, err := store.GetRun(ctx, "run-dup"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected the run insert to be rolled back, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []*Event{
		{ID: "e1", RunID: strPtr("r1"), Type: "run.state_changed", Level: "info", Message: "run init -> validating"},
		{ID: "e2", RunID: strPtr("r1"), RequestID: strPtr("web"), Kind: strPtr("Compute"), Type: "action.attempt", Level: "warning", Message: "set quantity attempt 1 failed", Data: strPtr(`{"attempt":1}`)},
		{ID: "e3", RunID: strPtr("r2"), Type: "run.state_changed", Level: "info", Message: "run init -> validating"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent %s: %v", e.ID, err)
		}
	}

	tests := []struct {
		name  string
		query EventQuery
		want  []string
	}{
		{"all", EventQuery{}, []string{"e1", "e2", "e3"}},
		{"by run", EventQuery{RunID: "r1"}, []string{"e1", "e2"}},
		{"by type", EventQuery{Type: "run.state_changed"}, []string{"e1", "e3"}},
		{"by level", EventQuery{Level: "warning"}, []string{"e2"}},
		{"paged", EventQuery{Limit: 1, Offset: 1}, []string{"e2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetEvents(ctx, tt.query)
			if err != nil {
				t.Fatalf("GetEvents: %v", err)
			}
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("unexpected events (-want +got):\n%s", diff)
			}
		})
	}

	if err := store.AppendEvent(ctx, &Event{Type: "x", Level: "info"}); err == nil {
		t.Error("expected error for event without id")
	}
}

func TestEventSinkPersistsTelemetryEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 8, MaxBatchSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	publisher.Subscribe(EventSink(store, zerolog.Nop()), nil)

	monitor := telemetry.NewMonitor(nil, publisher, nil)
	monitor.Record(engine.Event{
		Type:       engine.EventServiceCompleted,
		Timestamp:  time.Now(),
		RunID:      "r1",
		RequestID:  "db",
		Kind:       engine.KindDatabase,
		To:         string(engine.ResultFailed),
		ErrorClass: engine.ErrorClassStructural,
		Error:      "target not found",
	})

	got, err := store.GetEvents(ctx, EventQuery{RunID: "r1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	e := got[0]
	if e.Type != "service.completed" || e.Level != "error" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Kind == nil || *e.Kind != "Database" {
		t.Errorf("unexpected kind %v", e.Kind)
	}
	if e.Data == nil {
		t.Error("expected event data to be stored")
	}
}
