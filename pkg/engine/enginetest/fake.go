// Package enginetest provides a scripted in-memory browser and a recording
// monitor for testing code built on the engine package.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// Call is one recorded driver call.
type Call struct {
	Op       string
	Selector string
	Value    string
}

// String renders the call for test failure messages.
func (c Call) String() string {
	if c.Value != "" {
		return fmt.Sprintf("%s(%s, %s)", c.Op, c.Selector, c.Value)
	}
	return fmt.Sprintf("%s(%s)", c.Op, c.Selector)
}

type fault struct {
	err   error
	times int // remaining; negative means forever
}

// Page is a scripted engine.Page.
//
// Elements are permissive by default: any selector that was not hidden is
// present with an empty value. Fill and Select store their value on the
// target selector. Navigate clears stored values, like loading a fresh form.
type Page struct {
	mu       sync.Mutex
	location string
	values   map[string]string
	fixed    map[string]string
	hidden   map[string]bool
	sticky   map[string]bool
	corrupt  map[string]string
	faults   map[string]*fault
	probe    error
	dead     bool
	closes   int
	calls    []Call

	// OnCall, if set, runs after every successful call with the page unlocked.
	OnCall func(p *Page, c Call)
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{
		values:  make(map[string]string),
		fixed:   make(map[string]string),
		hidden:  make(map[string]bool),
		sticky:  make(map[string]bool),
		corrupt: make(map[string]string),
		faults:  make(map[string]*fault),
	}
}

// Set makes selector present with a fixed value that survives navigation.
func (p *Page) Set(selector, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed[selector] = value
	delete(p.hidden, selector)
}

// Hide makes selector absent.
func (p *Page) Hide(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden[selector] = true
}

// Stale makes selector ignore writes and never become observable, as if it
// were stuck re-rendering.
func (p *Page) Stale(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sticky[selector] = true
}

// Corrupt makes writes to selector show value instead of what was written.
func (p *Page) Corrupt(selector, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.corrupt[selector] = value
}

// Fail makes the next n calls of op on selector return err. n < 0 fails forever.
func (p *Page) Fail(op, selector string, err error, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op+"|"+selector] = &fault{err: err, times: n}
}

// SetProbeError makes Probe return err.
func (p *Page) SetProbeError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probe = err
}

// SetLocation moves the page without recording a call.
func (p *Page) SetLocation(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = url
}

// Kill simulates the browser process dying.
func (p *Page) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Calls returns a copy of the recorded calls.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CountCalls returns how many recorded calls match op and selector.
// An empty selector matches any selector.
func (p *Page) CountCalls(op, selector string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Op == op && (selector == "" || c.Selector == selector) {
			n++
		}
	}
	return n
}

// Value returns the visible value of selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueLocked(selector)
}

func (p *Page) valueLocked(selector string) string {
	if v, ok := p.values[selector]; ok {
		return v
	}
	return p.fixed[selector]
}

// begin records a call and returns the scripted error for it, if any.
func (p *Page) begin(ctx context.Context, op, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return engine.ErrSessionLost
	}
	p.calls = append(p.calls, Call{Op: op, Selector: selector, Value: value})
	if f, ok := p.faults[op+"|"+selector]; ok && f.times != 0 {
		if f.times > 0 {
			f.times--
		}
		return f.err
	}
	if op != "navigate" && p.hidden[selector] {
		return fmt.Errorf("%s %q: %w", op, selector, engine.ErrTargetNotFound)
	}
	return nil
}

func (p *Page) after(op, selector, value string) {
	if p.OnCall != nil {
		p.OnCall(p, Call{Op: op, Selector: selector, Value: value})
	}
}

func (p *Page) write(selector, value string) {
	p.mu.Lock()
	switch {
	case p.sticky[selector]:
	case p.corrupt[selector] != "":
		p.values[selector] = p.corrupt[selector]
	default:
		p.values[selector] = value
	}
	p.mu.Unlock()
}

// Navigate implements engine.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.begin(ctx, "navigate", url, ""); err != nil {
		return err
	}
	p.mu.Lock()
	p.location = url
	p.values = make(map[string]string)
	p.mu.Unlock()
	p.after("navigate", url, "")
	return nil
}

// Select implements engine.Page.
func (p *Page) Select(ctx context.Context, selector, option string) error {
	if err := p.begin(ctx, "select", selector, option); err != nil {
		return err
	}
	p.write(selector, option)
	p.after("select", selector, option)
	return nil
}

// Fill implements engine.Page.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.begin(ctx, "fill", selector, value); err != nil {
		return err
	}
	p.write(selector, value)
	p.after("fill", selector, value)
	return nil
}

// Click implements engine.Page.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.begin(ctx, "click", selector, ""); err != nil {
		return err
	}
	p.after("click", selector, "")
	return nil
}

// WaitFor implements engine.Page.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	if err := p.begin(ctx, "wait_for", selector, ""); err != nil {
		return err
	}
	p.after("wait_for", selector, "")
	return nil
}

// Observe implements engine.Page.
func (p *Page) Observe(ctx context.Context, selector string) (engine.Observation, error) {
	if err := ctx.Err(); err != nil {
		return engine.Observation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return engine.Observation{}, engine.ErrSessionLost
	}
	if p.hidden[selector] || p.sticky[selector] {
		return engine.Observation{}, nil
	}
	return engine.Observation{Present: true, Value: p.valueLocked(selector)}, nil
}

// Location implements engine.Page.
func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return "", engine.ErrSessionLost
	}
	return p.location, nil
}

// Probe implements engine.Page.
func (p *Page) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return engine.ErrSessionLost
	}
	return p.probe
}

// Close implements engine.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.dead = true
	return nil
}

// Launcher is a scripted engine.Launcher handing out fake pages.
type Launcher struct {
	mu       sync.Mutex
	pages    []*Page
	failures []error

	// Setup, if set, prepares every new page before it is returned.
	Setup func(p *Page)
}

// NewLauncher returns a launcher whose pages are prepared by setup.
func NewLauncher(setup func(p *Page)) *Launcher {
	return &Launcher{Setup: setup}
}

// FailLaunches makes the next launches return the given errors in order.
func (l *Launcher) FailLaunches(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, errs...)
}

// Launch implements engine.Launcher.
func (l *Launcher) Launch(ctx context.Context) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		l.mu.Unlock()
		return nil, err
	}
	page := NewPage()
	l.pages = append(l.pages, page)
	l.mu.Unlock()

	if l.Setup != nil {
		l.Setup(page)
	}
	return page, nil
}

// Pages returns the pages launched so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Page, len(l.pages))
	copy(out, l.pages)
	return out
}

// Monitor records events for assertions.
type Monitor struct {
	mu     sync.Mutex
	events []engine.Event
}

// Record implements engine.Monitor.
func (m *Monitor) Record(ev engine.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns the recorded events of the given type, or all events if
// typ is empty.
func (m *Monitor) Events(typ engine.EventType) []engine.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.Event
	for _, ev := range m.events {
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// States returns the sequence of run states recorded.
func (m *Monitor) States() []engine.RunState {
	var out []engine.RunState
	for _, ev := range m.Events(engine.EventRunStateChanged) {
		out = append(out, engine.RunState(ev.To))
	}
	return out
}

// ErrTimeout is a convenient transient driver error.
var ErrTimeout = errors.New("action timed out")
