// Package prompt loads the agent's system prompt.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader reads the system prompt file once and serves it from memory until
// the file changes on disk.
type Loader struct {
	path     string
	logger   *slog.Logger
	readFile func(string) ([]byte, error)

	mu     sync.RWMutex
	cached string
	loaded bool
	// gen counts invalidations; a read that raced one is not cached.
	gen uint64
}

// NewLoader creates a loader for path. An empty path disables the system prompt.
func NewLoader(path string, logger *slog.Logger) *Loader {
	return &Loader{path: path, logger: logger, readFile: os.ReadFile}
}

// SystemPrompt returns the file content wrapped in a <system-context> block.
func (l *Loader) SystemPrompt() (string, error) {
	if l.path == "" {
		return "", nil
	}

	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		return l.cached, nil
	}
	gen := l.gen
	l.mu.RUnlock()

	data, err := l.readFile(l.path)
	if err != nil {
		return "", fmt.Errorf("read system prompt %s: %w", l.path, err)
	}
	wrapped := "<system-context>\n" + string(data) + "\n</system-context>"

	l.mu.Lock()
	if l.gen == gen {
		l.cached = wrapped
		l.loaded = true
	}
	l.mu.Unlock()
	return wrapped, nil
}

func (l *Loader) invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.cached = ""
	l.gen++
	l.mu.Unlock()
}

// Watch drops the cached prompt whenever the file is written, replaced or
// removed. It watches the parent directory so editors that save via rename
// are noticed. Watch blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(l.path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", l.path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				l.invalidate()
				l.logger.Info("system prompt changed, reloading on next session", "path", l.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("system prompt watcher error", "err", err)
		}
	}
}
