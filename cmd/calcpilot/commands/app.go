package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/catalog"
	"github.com/calcpilot/calcpilot/pkg/config"
	"github.com/calcpilot/calcpilot/pkg/engine"
	"github.com/calcpilot/calcpilot/pkg/policy"
	"github.com/calcpilot/calcpilot/pkg/stores"
	"github.com/calcpilot/calcpilot/pkg/telemetry"
	"github.com/calcpilot/calcpilot/pkg/templates"
	"github.com/calcpilot/calcpilot/pkg/transports/browser"
)

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	store     stores.Store
	templates *templates.Loader
	policies  *policy.Engine
}

type setupOptions struct {
	// store opens the history database if it is enabled.
	store bool

	// watch starts watching the templates directory if configured.
	watch bool
}

// setup loads the configuration and starts telemetry, the store and the
// template loader. Close releases everything.
func setup(ctx context.Context, opts setupOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Telemetry.Logging.Level = level
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	tel.StartMetricsServer()

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}

	if opts.store && cfg.Store.Enabled {
		if err := a.openStore(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.templates = templates.NewLoader(a.logger)
	if _, err := a.templates.Load(cfg.Templates.Dir); err != nil {
		_ = a.Close()
		return nil, err
	}
	if opts.watch && cfg.Templates.Watch {
		err := a.templates.Watch(ctx, cfg.Templates.Dir, func(set *templates.Set) {
			a.logger.Info().
				Int("services", len(set.Services())).
				Int("infrastructures", len(set.Infrastructures())).
				Msg("Using reloaded templates")
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("Template watching disabled")
		}
	}

	if cfg.Policy.Enabled {
		if err := a.loadPolicies(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) loadPolicies(ctx context.Context) error {
	policies, err := policy.NewEngine(ctx, a.logger)
	if err != nil {
		return err
	}
	if dir := a.cfg.Policy.Dir; dir != "" {
		if err := policies.LoadDir(ctx, dir); err != nil {
			return err
		}
	}
	for _, name := range a.cfg.Policy.Disable {
		if err := policies.Disable(name); err != nil {
			return fmt.Errorf("policy.disable: %w", err)
		}
	}
	a.policies = policies
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	if dir := filepath.Dir(a.cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(a.cfg.Store.Config)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}

	a.store = store
	a.tel.Events.Subscribe(stores.EventSink(store, a.logger), nil)
	return nil
}

// requireStore returns the history store or an error if it is disabled.
func (a *app) requireStore() (stores.Store, error) {
	if a.store == nil {
		return nil, errors.New("run history is disabled (store.enabled: false)")
	}
	return a.store, nil
}

// newOrchestrator wires the engine to Chrome, the calculator catalog and
// telemetry.
func (a *app) newOrchestrator() (*engine.Orchestrator, error) {
	monitor := a.tel.Monitor()
	launcher := browser.NewLauncher(a.cfg.Browser, a.logger)
	sessions := engine.NewSessionManager(launcher, a.cfg.Engine.Session, monitor, a.logger)

	var opts []engine.ExecutorOption
	if pacing := a.cfg.Engine.Pacing; pacing.ActionsPerSecond > 0 {
		opts = append(opts, engine.WithRateLimit(pacing.ActionsPerSecond, pacing.Burst))
	}
	executor := engine.NewExecutor(engine.NewVerifier(a.cfg.Engine.VerifyInterval), monitor, a.logger, opts...)

	return engine.NewOrchestrator(engine.Components{
		Sessions:      sessions,
		Executor:      executor,
		Configurators: catalog.New(a.cfg.Calculator),
		Links:         catalog.NewLinkGenerator(),
		Monitor:       monitor,
	}, a.cfg.Engine.Orchestrator, a.logger)
}

// expand reads a request file and turns it into service requests.
func (a *app) expand(path, template string) ([]engine.ServiceRequest, error) {
	rf, err := templates.ReadRequestFile(path)
	if err != nil {
		return nil, err
	}
	requests, err := a.templates.Current().Expand(rf, template)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return requests, nil
}

// guard evaluates the guardrails against requests. The result is nil when
// guardrails are disabled.
func (a *app) guard(ctx context.Context, operation string, requests []engine.ServiceRequest) (*policy.Result, error) {
	if a.policies == nil {
		return nil, nil
	}
	result, err := a.policies.Evaluate(ctx, operation, requests)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		a.logger.Warn().Str("policy", w.Policy).Str("request", w.Request).Msg(w.Message)
	}
	return result, nil
}

// record stores a finished run. Failures are logged, never fatal.
func (a *app) record(ctx context.Context, source string, startedAt time.Time, report *engine.Report) {
	if a.store == nil {
		return
	}
	// the run context may already be cancelled by an interrupt
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := stores.RecordReport(ctx, a.store, source, startedAt, report); err != nil {
		a.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to record run history")
	}
}

// Close flushes telemetry and closes the store.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.templates != nil {
		errs = append(errs, a.templates.StopWatching())
	}
	// events drain into the store, so telemetry stops first
	errs = append(errs, a.tel.Shutdown(ctx))
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
