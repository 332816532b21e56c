// Package telemetry provides logging, tracing, metrics and event publishing
// for calcpilot.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an asynchronous event publisher.
//
// # Usage
//
// Initialize telemetry at startup and hand its monitor to the engine:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	tel.StartMetricsServer()
//
//	orch, err := engine.NewOrchestrator(engine.Components{
//	    ...
//	    Monitor: tel.Monitor(),
//	}, engine.DefaultOrchestratorConfig(), tel.Logger.Zerolog())
//
// # Metrics
//
// With metrics enabled the following series are exported under the
// configured namespace:
//
//   - runs_started_total, runs_completed_total{state}, run_duration_seconds{state}, active_runs
//   - services_configured_total{kind,status}, service_duration_seconds{kind}
//   - action_attempts_total{operation,outcome}, action_duration_seconds{operation}, actions_skipped_total{operation}
//   - session_events_total{event,outcome}, links_generated_total{outcome}
//   - errors_by_class_total{class}, events_dropped_total
//
// # Events
//
// Engine events are converted to Event values and delivered to subscribers
// in order from a single goroutine. Publishing never blocks a run: when the
// buffer is full the event is dropped and counted.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
