package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one browser page owned by a single run.
type Session struct {
	// ID is the unique identifier for this session.
	ID string

	// OpenedAt is when the session became ready.
	OpenedAt time.Time

	mu                sync.Mutex
	status            SessionStatus
	lastHealthCheckAt time.Time
	navigation        string
	page              Page
	closeOnce         sync.Once
	closeErr          error
}

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastHealthCheckAt returns when the session was last probed.
func (s *Session) LastHealthCheckAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHealthCheckAt
}

// NavigationContext returns the last URL the engine navigated to.
func (s *Session) NavigationContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigation
}

// Page returns the driver page, or nil once the session is closed.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionClosed {
		return nil
	}
	return s.page
}

// Observe looks at an element through the session's page.
func (s *Session) Observe(ctx context.Context, selector string) (Observation, error) {
	page := s.Page()
	if page == nil {
		return Observation{}, ErrSessionLost
	}
	return page.Observe(ctx, selector)
}

func (s *Session) transition(next SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == next {
		return nil
	}
	if !s.status.CanTransitionTo(next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.status, next)
	}
	s.status = next
	return nil
}

func (s *Session) setNavigation(url string) {
	s.mu.Lock()
	s.navigation = url
	s.mu.Unlock()
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	// StartURL is the calculator landing page.
	StartURL string `json:"start_url" yaml:"start_url"`

	// ReadySelector is an element present once the landing page is usable.
	ReadySelector string `json:"ready_selector" yaml:"ready_selector"`

	// OpenAttempts is the number of launch attempts before giving up.
	OpenAttempts int `json:"open_attempts" yaml:"open_attempts"`

	// OpenBackoff is the delay before the second launch attempt; it doubles.
	OpenBackoff time.Duration `json:"open_backoff" yaml:"open_backoff"`

	// OpenTimeout bounds one launch-and-load attempt.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`

	// ProbeTimeout bounds a health check.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

// DefaultSessionConfig returns the session manager defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		StartURL:     "https://calculator.aws/#/addService",
		OpenAttempts: 2,
		OpenBackoff:  2 * time.Second,
		OpenTimeout:  60 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// SessionManager opens, checks, recovers and closes browser sessions.
type SessionManager struct {
	launcher Launcher
	config   SessionConfig
	monitor  Monitor
	logger   zerolog.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(launcher Launcher, config SessionConfig, monitor Monitor, logger zerolog.Logger) *SessionManager {
	if config.OpenAttempts < 1 {
		config.OpenAttempts = 1
	}
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &SessionManager{
		launcher: launcher,
		config:   config,
		monitor:  monitor,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// Open launches a page and loads the calculator, retrying with backoff.
func (m *SessionManager) Open(ctx context.Context) (*Session, error) {
	var lastErr error
	backoff := m.config.OpenBackoff

	for attempt := 1; attempt <= m.config.OpenAttempts; attempt++ {
		if attempt > 1 {
			m.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying session open")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, NewSessionError("session open interrupted", ctx.Err()).WithCode(ErrCodeSessionOpenFailed)
			}
			backoff *= 2
		}

		session, err := m.openOnce(ctx)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, NewSessionError("failed to open session", lastErr).
		WithCode(ErrCodeSessionOpenFailed).
		WithDetail("attempts", m.config.OpenAttempts)
}

func (m *SessionManager) openOnce(ctx context.Context) (*Session, error) {
	start := time.Now()
	openCtx := ctx
	if m.config.OpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, m.config.OpenTimeout)
		defer cancel()
	}

	page, err := m.launcher.Launch(openCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	session := &Session{
		ID:     uuid.New().String(),
		status: SessionOpening,
		page:   page,
	}

	if err := m.load(openCtx, session); err != nil {
		_ = m.Close(session)
		return nil, err
	}

	session.OpenedAt = time.Now()
	session.mu.Lock()
	session.lastHealthCheckAt = session.OpenedAt
	session.mu.Unlock()
	if err := session.transition(SessionReady); err != nil {
		_ = m.Close(session)
		return nil, err
	}

	m.logger.Info().Str("session_id", session.ID).Dur("duration", time.Since(start)).Msg("Session opened")
	record(m.monitor, Event{
		Type:      EventSessionOpened,
		SessionID: session.ID,
		Success:   true,
		Duration:  time.Since(start),
	})
	return session, nil
}

// load navigates the page to the start URL and waits for it to be usable.
func (m *SessionManager) load(ctx context.Context, s *Session) error {
	page := s.Page()
	if page == nil {
		return ErrSessionLost
	}
	if err := page.Navigate(ctx, m.config.StartURL); err != nil {
		return fmt.Errorf("failed to load calculator: %w", err)
	}
	s.setNavigation(m.config.StartURL)
	if m.config.ReadySelector != "" {
		if err := page.WaitFor(ctx, m.config.ReadySelector); err != nil {
			return fmt.Errorf("calculator did not become ready: %w", err)
		}
	}
	return nil
}

// HealthCheck probes the session. It moves a Ready session to Degraded
// when the probe fails and never changes a Closed session.
func (m *SessionManager) HealthCheck(ctx context.Context, s *Session) Health {
	health := m.probe(ctx, s)

	s.mu.Lock()
	s.lastHealthCheckAt = time.Now()
	s.mu.Unlock()

	if health != HealthHealthy && s.Status() == SessionReady {
		_ = s.transition(SessionDegraded)
	}

	record(m.monitor, Event{
		Type:      EventHealthChecked,
		SessionID: s.ID,
		Success:   health == HealthHealthy,
		To:        string(health),
	})
	return health
}

func (m *SessionManager) probe(ctx context.Context, s *Session) Health {
	page := s.Page()
	if page == nil {
		return HealthDead
	}

	probeCtx := ctx
	if m.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.config.ProbeTimeout)
		defer cancel()
	}

	if err := page.Probe(probeCtx); err != nil {
		if errors.Is(err, ErrSessionLost) {
			return HealthDead
		}
		m.logger.Debug().Err(err).Str("session_id", s.ID).Msg("Probe failed")
		return HealthDegraded
	}

	location, err := page.Location(probeCtx)
	if err != nil {
		if errors.Is(err, ErrSessionLost) {
			return HealthDead
		}
		return HealthDegraded
	}
	if !m.onCalculator(location) {
		m.logger.Debug().Str("location", location).Msg("Session navigated away from calculator")
		return HealthDegraded
	}
	return HealthHealthy
}

// onCalculator reports whether location is within the calculator origin.
func (m *SessionManager) onCalculator(location string) bool {
	base := m.config.StartURL
	if i := strings.Index(base, "#"); i >= 0 {
		base = base[:i]
	}
	return strings.HasPrefix(location, base)
}

// Recover attempts a single repair of an unhealthy session. A degraded
// session is reloaded in place; a dead session is closed and replaced by a
// freshly launched one. The returned session is the one to keep using.
func (m *SessionManager) Recover(ctx context.Context, s *Session, health Health) (*Session, error) {
	start := time.Now()
	switch health {
	case HealthHealthy:
		return s, nil
	case HealthDegraded:
		if err := m.load(ctx, s); err != nil {
			return s, NewSessionError("in-place session repair failed", err).
				WithCode(ErrCodeSessionRecoveryFailed).
				WithResource(s.ID)
		}
		if err := s.transition(SessionReady); err != nil {
			return s, NewSessionError("in-place session repair failed", err).
				WithCode(ErrCodeSessionRecoveryFailed).
				WithResource(s.ID)
		}
		m.recordRecovery(s, health, start)
		return s, nil
	default:
		_ = m.Close(s)
		fresh, err := m.openOnce(ctx)
		if err != nil {
			return s, NewSessionError("session reopen failed", err).
				WithCode(ErrCodeSessionRecoveryFailed).
				WithResource(s.ID)
		}
		m.recordRecovery(fresh, health, start)
		return fresh, nil
	}
}

func (m *SessionManager) recordRecovery(s *Session, health Health, start time.Time) {
	m.logger.Warn().Str("session_id", s.ID).Str("health", string(health)).Msg("Session recovered")
	record(m.monitor, Event{
		Type:      EventSessionRecovered,
		SessionID: s.ID,
		Success:   true,
		From:      string(health),
		To:        string(SessionReady),
		Duration:  time.Since(start),
	})
}

// Close releases the session. Only the first call reaches the driver;
// later calls return the first call's result.
func (m *SessionManager) Close(s *Session) error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		page := s.page
		s.status = SessionClosed
		s.mu.Unlock()

		if page != nil {
			s.closeErr = page.Close()
		}
		if s.closeErr != nil {
			m.logger.Warn().Err(s.closeErr).Str("session_id", s.ID).Msg("Session close reported an error")
		} else {
			m.logger.Debug().Str("session_id", s.ID).Msg("Session closed")
		}
		record(m.monitor, Event{
			Type:      EventSessionClosed,
			SessionID: s.ID,
			Success:   s.closeErr == nil,
		})
	})
	return s.closeErr
}

// NewSessionForPage wraps an already launched page in a Ready session.
// It is intended for drivers and tests that manage the page themselves.
func NewSessionForPage(page Page) *Session {
	return &Session{
		ID:                uuid.New().String(),
		OpenedAt:          time.Now(),
		status:            SessionReady,
		lastHealthCheckAt: time.Now(),
		page:              page,
	}
}
