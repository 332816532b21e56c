package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/calcpilot/calcpilot/pkg/engine"

// OrchestratorConfig holds the run-level limits.
type OrchestratorConfig struct {
	// Retry is the policy applied to every UI action.
	Retry RetryPolicy `json:"retry" yaml:"retry"`

	// ServiceTimeout bounds the configuration of one service.
	ServiceTimeout time.Duration `json:"service_timeout" yaml:"service_timeout"`

	// ServiceTimeouts overrides ServiceTimeout per kind.
	ServiceTimeouts map[ServiceKind]time.Duration `json:"service_timeouts,omitempty" yaml:"service_timeouts,omitempty"`

	// RunTimeout bounds the whole run. Zero disables it.
	RunTimeout time.Duration `json:"run_timeout" yaml:"run_timeout"`

	// RecoveryBudget is the number of session recoveries allowed per run.
	RecoveryBudget int `json:"recovery_budget" yaml:"recovery_budget"`
}

// DefaultOrchestratorConfig returns the orchestrator defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Retry:          DefaultRetryPolicy(),
		ServiceTimeout: 120 * time.Second,
		ServiceTimeouts: map[ServiceKind]time.Duration{
			KindNetwork: 100 * time.Second,
		},
		RunTimeout:     15 * time.Minute,
		RecoveryBudget: 2,
	}
}

// Components are the collaborators an orchestrator drives.
type Components struct {
	Sessions      *SessionManager
	Executor      *Executor
	Configurators []Configurator
	Links         LinkGenerator
	Monitor       Monitor
}

// Orchestrator runs estimation workflows. A single orchestrator may run
// several estimations concurrently; each run opens its own session.
type Orchestrator struct {
	sessions      *SessionManager
	executor      *Executor
	configurators map[ServiceKind]Configurator
	links         LinkGenerator
	config        OrchestratorConfig
	monitor       Monitor
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewOrchestrator creates an orchestrator. Every service kind must have
// exactly one configurator.
func NewOrchestrator(c Components, config OrchestratorConfig, logger zerolog.Logger) (*Orchestrator, error) {
	if c.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if c.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	registry := make(map[ServiceKind]Configurator, len(c.Configurators))
	for _, cfg := range c.Configurators {
		kind := cfg.Kind()
		if err := kind.Validate(); err != nil {
			return nil, err
		}
		if _, dup := registry[kind]; dup {
			return nil, fmt.Errorf("duplicate configurator for %s", kind)
		}
		registry[kind] = cfg
	}
	var missing []string
	for _, kind := range AllKinds() {
		if _, ok := registry[kind]; !ok {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no configurator for: %s", strings.Join(missing, ", "))
	}

	monitor := c.Monitor
	if monitor == nil {
		monitor = NopMonitor{}
	}

	return &Orchestrator{
		sessions:      c.Sessions,
		executor:      c.Executor,
		configurators: registry,
		links:         c.Links,
		config:        config,
		monitor:       monitor,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		tracer:        otel.Tracer(tracerName),
	}, nil
}

// Validate checks requests the same way a run would, without opening a
// session. It returns the results of requests that would be skipped.
func (o *Orchestrator) Validate(requests []ServiceRequest) ([]ServiceResult, error) {
	run := o.newRun(requests)
	_, err := o.validate(run)
	return run.OrderedResults(), err
}

// Run executes an estimation run and always returns a report. Cancelling
// ctx aborts the run at the next service boundary; the action in flight
// runs to completion.
func (o *Orchestrator) Run(ctx context.Context, requests []ServiceRequest) *Report {
	run := o.newRun(requests)

	ctx, span := o.tracer.Start(ctx, "estimation.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.services", len(run.Requests)),
	))
	defer span.End()

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("services", len(run.Requests)).Msg("Starting estimation run")

	report := o.execute(ctx, run, logger)

	span.SetAttributes(attribute.String("run.status", string(report.Status)))
	if run.Err != nil {
		span.RecordError(run.Err)
		span.SetStatus(codes.Error, run.Err.Error())
	} else {
		span.SetStatus(codes.Ok, string(report.Status))
	}

	logger.Info().
		Str("status", string(report.Status)).
		Int("added", report.Summary.Successful).
		Int("failed", report.Summary.Failed).
		Dur("duration", time.Since(run.StartedAt)).
		Msg("Estimation run finished")
	return report
}

func (o *Orchestrator) execute(ctx context.Context, run *EstimationRun, logger zerolog.Logger) *Report {
	o.transition(run, RunStateValidating)
	valid, err := o.validate(run)
	if err != nil {
		o.abort(run, err)
		return o.finish(run)
	}
	if len(valid) == 0 {
		logger.Warn().Msg("No valid service requests, skipping session")
		return o.finish(run)
	}

	// Actions only see the run deadline. Cancellation of ctx is observed
	// between services.
	runCtx := context.WithoutCancel(ctx)
	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, o.config.RunTimeout)
		defer cancel()
	}

	// Opening happens before any service, so a cancel still stops it.
	openCtx := ctx
	if deadline, ok := runCtx.Deadline(); ok {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	session, err := o.sessions.Open(openCtx)
	if err != nil {
		o.skip(run, valid, "not attempted: session could not be opened")
		o.abort(run, err)
		return o.finish(run)
	}
	run.Session = session
	defer func() { _ = o.sessions.Close(run.Session) }()
	o.transition(run, RunStateSessionAcquired)

	o.transition(run, RunStateConfiguringServices)
	if err := o.configureAll(ctx, runCtx, run, valid); err != nil {
		o.abort(run, err)
		return o.finish(run)
	}
	if err := interrupted(ctx, runCtx); err != nil {
		o.abort(run, err)
		return o.finish(run)
	}

	if o.anyAdded(run) && o.links != nil {
		o.transition(run, RunStateLinkGeneration)
		runner := o.executor.Runner(o.config.Retry, Scope{RunID: run.ID})
		links, err := o.links.Generate(runCtx, runner, run.Session)
		run.FinalLinks = links
		if err != nil {
			run.LinkErr = NewStructuralError("services configured but estimate is unlinkable", err).
				WithCode(ErrCodeLinkGenerationFailed)
			logger.Warn().Err(err).Msg("Link generation failed")
		}
		record(o.monitor, Event{
			Type:    EventLinksGenerated,
			RunID:   run.ID,
			Success: err == nil,
			Error:   errString(err),
		})
	}

	return o.finish(run)
}

// configureAll drives every valid request in dependency order. It returns a
// fatal error when the run must abort; per-service failures are recorded as
// results and do not stop the loop.
func (o *Orchestrator) configureAll(ctx, runCtx context.Context, run *EstimationRun, valid []ServiceRequest) error {
	ordered := SortByDependency(valid)
	recoveries := 0

	for i, req := range ordered {
		if err := interrupted(ctx, runCtx); err != nil {
			o.skip(run, ordered[i:], "not attempted: run interrupted")
			return err
		}

		health := o.sessions.HealthCheck(runCtx, run.Session)
		if health != HealthHealthy {
			if recoveries >= o.config.RecoveryBudget {
				o.skip(run, ordered[i:], "not attempted: session recovery budget exhausted")
				return NewSessionError("session recovery budget exhausted", nil).
					WithCode(ErrCodeSessionRecoveryFailed).
					WithDetail("recoveries", recoveries)
			}
			recoveries++
			recovered, err := o.sessions.Recover(runCtx, run.Session, health)
			run.Session = recovered
			if err != nil {
				o.skip(run, ordered[i:], "not attempted: session could not be recovered")
				return err
			}
		}

		result := o.configureOne(runCtx, run, req)
		run.Results[req.ID] = &result
	}
	return nil
}

func (o *Orchestrator) configureOne(runCtx context.Context, run *EstimationRun, req ServiceRequest) ServiceResult {
	timeout := o.config.ServiceTimeout
	if t, ok := o.config.ServiceTimeouts[req.Kind]; ok && t > 0 {
		timeout = t
	}
	svcCtx := runCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		svcCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	svcCtx, span := o.tracer.Start(svcCtx, "estimation.service", trace.WithAttributes(
		attribute.String("service.request_id", req.ID),
		attribute.String("service.kind", string(req.Kind)),
	))
	defer span.End()

	record(o.monitor, Event{Type: EventServiceStarted, RunID: run.ID, RequestID: req.ID, Kind: req.Kind, Success: true})

	start := time.Now()
	runner := o.executor.Runner(o.config.Retry, Scope{RunID: run.ID, RequestID: req.ID, Kind: req.Kind})
	result := o.configurators[req.Kind].Configure(svcCtx, runner, run.Session, req)
	result.RequestID = req.ID
	result.Kind = req.Kind
	if result.StartedAt.IsZero() {
		result.StartedAt = start
	}
	result.Duration = time.Since(start)

	if result.Status != ResultAdded && errors.Is(svcCtx.Err(), context.DeadlineExceeded) && runCtx.Err() == nil {
		result.ErrorDetail = fmt.Sprintf("service timeout of %s exceeded: %s", timeout, result.ErrorDetail)
	}

	span.SetAttributes(attribute.String("service.status", string(result.Status)))
	if result.Status != ResultAdded {
		span.SetStatus(codes.Error, result.ErrorDetail)
	}

	o.logger.Info().
		Str("run_id", run.ID).
		Str("request_id", req.ID).
		Str("kind", string(req.Kind)).
		Str("status", string(result.Status)).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Msg("Service configured")

	record(o.monitor, Event{
		Type:       EventServiceCompleted,
		RunID:      run.ID,
		RequestID:  req.ID,
		Kind:       req.Kind,
		Success:    result.Status == ResultAdded,
		ErrorClass: result.ErrorClass,
		Error:      result.ErrorDetail,
		Duration:   result.Duration,
		To:         string(result.Status),
	})
	return result
}

// validate fills in Skipped results for requests that cannot be configured
// and returns the rest. A non-nil error rejects the whole run.
func (o *Orchestrator) validate(run *EstimationRun) ([]ServiceRequest, error) {
	if len(run.Requests) == 0 {
		return nil, NewValidationError("no services requested", nil)
	}

	seen := make(map[string]bool, len(run.Requests))
	for _, req := range run.Requests {
		if err := req.Kind.Validate(); err != nil {
			o.skip(run, run.Requests, fmt.Sprintf("run rejected: unknown service kind %q", req.Kind))
			return nil, NewValidationError("run rejected", err).
				WithCode(ErrCodeUnknownKind).
				WithResource(req.ID)
		}
		if seen[req.ID] {
			o.skip(run, run.Requests, fmt.Sprintf("run rejected: duplicate request id %q", req.ID))
			return nil, NewValidationError("run rejected: duplicate request id", nil).WithResource(req.ID)
		}
		seen[req.ID] = true
	}

	valid := make([]ServiceRequest, 0, len(run.Requests))
	for _, req := range run.Requests {
		if err := o.configurators[req.Kind].Validate(req); err != nil {
			run.Results[req.ID] = &ServiceResult{
				RequestID:   req.ID,
				Kind:        req.Kind,
				Status:      ResultSkipped,
				ErrorDetail: err.Error(),
				ErrorClass:  ErrorClassValidation,
				StartedAt:   time.Now(),
			}
			continue
		}
		valid = append(valid, req)
	}
	return valid, nil
}

func (o *Orchestrator) newRun(requests []ServiceRequest) *EstimationRun {
	normalized := make([]ServiceRequest, len(requests))
	for i, req := range requests {
		if req.ID == "" {
			req.ID = fmt.Sprintf("req-%d-%s", i+1, strings.ToLower(string(req.Kind)))
		}
		if req.Origin == "" {
			req.Origin = OriginUserSupplied
			if len(req.Parameters) == 0 {
				req.Origin = OriginTemplateDefault
			}
		}
		normalized[i] = req
	}
	return &EstimationRun{
		ID:        uuid.New().String(),
		Requests:  normalized,
		Results:   make(map[string]*ServiceResult, len(requests)),
		State:     RunStateInit,
		StartedAt: time.Now(),
	}
}

// skip records a Skipped result for every request that has none yet.
func (o *Orchestrator) skip(run *EstimationRun, requests []ServiceRequest, reason string) {
	for _, req := range requests {
		if _, done := run.Results[req.ID]; done {
			continue
		}
		run.Results[req.ID] = &ServiceResult{
			RequestID:   req.ID,
			Kind:        req.Kind,
			Status:      ResultSkipped,
			ErrorDetail: reason,
			StartedAt:   time.Now(),
		}
	}
}

func (o *Orchestrator) anyAdded(run *EstimationRun) bool {
	for _, res := range run.Results {
		if res.Status == ResultAdded {
			return true
		}
	}
	return false
}

func (o *Orchestrator) abort(run *EstimationRun, err error) {
	run.Err = err
	o.logger.Error().Err(err).Str("run_id", run.ID).Str("state", string(run.State)).Msg("Estimation run aborted")
	o.transition(run, RunStateAborted)
}

// finish releases the session and summarizes the run.
func (o *Orchestrator) finish(run *EstimationRun) *Report {
	aborted := run.State == RunStateAborted
	if !aborted {
		o.transition(run, RunStateReporting)
	}
	if run.Session != nil {
		_ = o.sessions.Close(run.Session)
	}
	report := BuildReport(run)
	if !aborted {
		o.transition(run, RunStateDone)
	}
	return report
}

func (o *Orchestrator) transition(run *EstimationRun, next RunState) {
	prev := run.State
	run.State = next
	o.logger.Debug().Str("run_id", run.ID).Str("from", string(prev)).Str("to", string(next)).Msg("Run state changed")
	record(o.monitor, Event{
		Type:    EventRunStateChanged,
		RunID:   run.ID,
		Success: next != RunStateAborted,
		From:    string(prev),
		To:      string(next),
	})
}

// interrupted reports why the run must stop before the next service: the
// caller cancelled parent, or the run deadline on runCtx passed.
func interrupted(parent, runCtx context.Context) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return NewCancelledError("run cancelled", err)
		}
		return NewRunTimeoutError("run deadline exceeded", err)
	}
	if err := runCtx.Err(); err != nil {
		return NewRunTimeoutError("run timeout exceeded", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
