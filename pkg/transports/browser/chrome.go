package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// Launcher starts Chrome instances through the DevTools protocol.
type Launcher struct {
	config Config
	logger zerolog.Logger
}

// NewLauncher creates a launcher.
func NewLauncher(config Config, logger zerolog.Logger) *Launcher {
	return &Launcher{
		config: config,
		logger: logger.With().Str("component", "browser").Logger(),
	}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", l.config.Headless))
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	if l.config.WindowWidth > 0 && l.config.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight))
	}
	if l.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Launch starts a browser with one blank tab. The browser outlives ctx and
// is released by Close.
func (l *Launcher) Launch(ctx context.Context) (engine.Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug().Msgf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Debug().Str("source", "cdp").Msgf(format, args...)
		}),
	)

	p := &Page{
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		config:      l.config,
		logger:      l.logger,
	}

	// The first Run starts the browser and binds it to the tab context, so
	// it must not run under a derived context.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tab) }()

	select {
	case err := <-started:
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		_ = p.Close()
		<-started
		return nil, ctx.Err()
	}

	l.logger.Debug().Bool("headless", l.config.Headless).Msg("Browser started")
	return p, nil
}

// Page drives one Chrome tab.
type Page struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	config      Config
	logger      zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// bind derives a run context from the tab that is cancelled with ctx and,
// if limit is positive, after limit.
func (p *Page) bind(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.tab)
	stop := context.AfterFunc(ctx, cancel)
	cancelLimit := context.CancelFunc(func() {})
	if limit > 0 {
		runCtx, cancelLimit = context.WithTimeout(runCtx, limit)
	}
	return runCtx, func() {
		stop()
		cancelLimit()
		cancel()
	}
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return engine.ErrSessionLost
	}
	runCtx, cancel := p.bind(ctx, 0)
	defer cancel()
	return p.classify(ctx, chromedp.Run(runCtx, actions...))
}

// classify maps driver failures onto the engine sentinels.
func (p *Page) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if p.closed.Load() || p.tab.Err() != nil || lostTarget(err) {
		return fmt.Errorf("%w: %v", engine.ErrSessionLost, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func lostTarget(err error) bool {
	if errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "No target with given id")
}

// settle waits for selector to become visible. A target that never shows up
// is reported missing if it is absent from the page and not rendered if it
// exists but stays hidden.
func (p *Page) settle(ctx context.Context, selector string) error {
	if p.closed.Load() {
		return engine.ErrSessionLost
	}
	runCtx, cancel := p.bind(ctx, p.config.SettleTimeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || p.tab.Err() != nil {
		return p.classify(ctx, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return p.classify(ctx, err)
	}

	obs, oerr := p.Observe(ctx, selector)
	if oerr != nil {
		return oerr
	}
	if !obs.Present {
		return fmt.Errorf("%w: %s", engine.ErrTargetNotFound, selector)
	}
	return fmt.Errorf("%w: %s", engine.ErrNotRendered, selector)
}

// Navigate loads url. Fragment-only changes are applied in place since the
// calculator is a single-page app and fires no load event for them.
func (p *Page) Navigate(ctx context.Context, url string) error {
	current, err := p.Location(ctx)
	if err != nil {
		return err
	}
	if fragment, ok := sameDocument(current, url); ok {
		var done bool
		return p.run(ctx, chromedp.Evaluate(assignHashScript(fragment), &done))
	}
	return p.run(ctx, chromedp.Navigate(url))
}

// Select picks option in the dropdown at selector.
func (p *Page) Select(ctx context.Context, selector, option string) error {
	if err := p.settle(ctx, selector); err != nil {
		return err
	}
	var outcome string
	err := p.run(ctx, chromedp.Evaluate(selectScript(selector, option, p.config.OptionTimeout), &outcome,
		func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
	if err != nil {
		return err
	}
	switch outcome {
	case selectOK:
		return nil
	case selectMissing:
		return fmt.Errorf("%w: %s", engine.ErrNotRendered, selector)
	default:
		return fmt.Errorf("%w: option %q not offered by %s", engine.ErrTargetNotFound, option, selector)
	}
}

// Fill replaces the content of the input at selector with value.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.settle(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click clicks the element at selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.settle(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// WaitFor blocks until selector is visible or the settle timeout passes.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	return p.settle(ctx, selector)
}

type observation struct {
	Present bool   `json:"present"`
	Value   string `json:"value"`
}

// Observe looks at selector once.
func (p *Page) Observe(ctx context.Context, selector string) (engine.Observation, error) {
	var obs observation
	if err := p.run(ctx, chromedp.Evaluate(observeScript(selector), &obs)); err != nil {
		return engine.Observation{}, err
	}
	return engine.Observation{Present: obs.Present, Value: obs.Value}, nil
}

// Location returns the current URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Probe checks that the tab still answers and its document has loaded.
func (p *Page) Probe(ctx context.Context) error {
	var state string
	if err := p.run(ctx, chromedp.Evaluate(readyStateScript, &state)); err != nil {
		return err
	}
	if state != "complete" && state != "interactive" {
		return fmt.Errorf("%w: document is %s", engine.ErrNotRendered, state)
	}
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if cerr := chromedp.Cancel(p.tab); cerr != nil && !errors.Is(cerr, context.Canceled) && !errors.Is(cerr, chromedp.ErrInvalidContext) {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
		p.tabCancel()
		p.allocCancel()
		p.logger.Debug().Msg("Browser closed")
	})
	return err
}

var (
	_ engine.Launcher = (*Launcher)(nil)
	_ engine.Page     = (*Page)(nil)
)
