package templates

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader loads templates from a directory on top of the built-ins and keeps
// them current while watching.
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu      sync.RWMutex
	current *Set
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader holding only the built-in templates.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "template-loader").Logger(),
		reloadDelay: 500 * time.Millisecond,
		current:     Builtin(),
	}
}

// Current returns the most recently loaded templates.
func (l *Loader) Current() *Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Load reads every template file under dir and merges it over the built-ins.
// Files that fail to parse are logged and skipped. An empty dir yields the
// built-ins.
func (l *Loader) Load(dir string) (*Set, error) {
	set := Builtin()
	if dir != "" {
		loaded, files, err := l.loadDirectory(dir)
		if err != nil {
			return nil, err
		}
		set = set.Merge(loaded)
		l.logger.Debug().
			Str("dir", dir).
			Int("files", files).
			Msg("Templates loaded")
	}

	l.mu.Lock()
	l.current = set
	l.mu.Unlock()
	return set, nil
}

func (l *Loader) loadDirectory(dir string) (*Set, int, error) {
	set := newSet()
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTemplateFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to read template file")
			return nil
		}
		parsed, err := Parse(data, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load template file")
			return nil
		}
		set = set.Merge(parsed)
		files++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}
	return set, files, nil
}

func isTemplateFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Watch reloads dir whenever a template file in it changes and passes the
// new set to onReload. Bursts of changes are coalesced. Watching stops when
// ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, dir string, onReload func(*Set)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, dir, onReload)

	l.logger.Info().Str("dir", dir).Msg("Watching templates")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, dir string, onReload func(*Set)) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isTemplateFile(event.Name) {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Template file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(l.reloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				set, err := l.Load(dir)
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload templates")
					return
				}
				l.logger.Info().Str("dir", dir).Msg("Templates reloaded")
				if onReload != nil {
					onReload(set)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for template changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
