// Package engine drives a pricing-calculator web UI to build cost estimates.
//
// # Overview
//
// An estimation run takes a list of service requests, configures each one in
// the calculator through a browser session and returns a structured report
// with the shareable estimate links. The engine is organized as:
//
//   - Orchestrator: the run state machine (validate, acquire a session,
//     configure services in dependency order, generate links, report)
//   - SessionManager: opens, health-checks, recovers and closes sessions
//   - Executor: performs one UI action with verification and retries
//   - Verifier: polls the page until an expected signal is observed
//   - Configurator: per service kind, turns a request into UI actions
//
// # Run States
//
//	Init -> Validating -> SessionAcquired -> ConfiguringServices
//	     -> LinkGeneration -> Reporting -> Done
//
// Any state may move to Aborted on a fatal error (session failure, run
// timeout, cancellation). A report is produced in every case and the session
// is always closed.
//
// # Error Classification
//
// Failures carry an ErrorClass. Transient failures are retried by the
// executor; structural failures (missing targets, signal mismatches) are not.
// Session, run-timeout and cancellation errors abort the run.
//
// # Retries
//
// Retry decisions are made by ShouldRetry, a pure function of the attempt
// state, the failure class and the RetryPolicy:
//
//	retry, next := engine.ShouldRetry(state, engine.ErrorClassTransient, policy)
//	if retry {
//	    time.Sleep(policy.Jittered(next.NextDelay, rand.Float64()))
//	}
//
// # Concurrency
//
// A run is single-threaded with respect to its session. Independent runs may
// share an Orchestrator and Executor; each acquires its own session. Monitor
// events are delivered without blocking the run.
package engine
