package hook

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval is the delay after an fsnotify event before reloading,
// so editors that write in several steps trigger one reload.
const debounceInterval = 100 * time.Millisecond

// Loader reads and parses the hook document, caching the snapshot until the
// file's mtime changes. A missing file is an empty config, not an error.
type Loader struct {
	path string

	mu     sync.Mutex
	cached *Config
	mtime  time.Time
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Load(ctx context.Context) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Agents: map[string]*AgentConfig{}}, nil
		}
		return nil, err
	}
	if l.cached != nil && info.ModTime().Equal(l.mtime) {
		return l.cached, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	l.cached = cfg
	l.mtime = info.ModTime()
	return cfg, nil
}

// Watch follows the hook document with fsnotify until ctx is done. It
// watches the parent directory rather than the file itself so atomic
// editor saves (write temp, rename) are caught, invalidates the cache after
// a debounce, and logs the result so a bad edit is visible immediately
// instead of at the next hook lookup.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watchDir := filepath.Dir(l.path)
	fileName := filepath.Base(l.path)
	if err := watcher.Add(watchDir); err != nil {
		return err
	}

	debounce := time.NewTimer(debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce.Reset(debounceInterval)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "hook config watcher error", slog.String("error", err.Error()))
		case <-debounce.C:
			l.invalidate()
			if _, err := l.Load(ctx); err != nil {
				slog.ErrorContext(ctx, "hook config reload failed",
					slog.String("path", l.path),
					slog.String("error", err.Error()))
				continue
			}
			slog.InfoContext(ctx, "hook config reloaded", slog.String("path", l.path))
		}
	}
}

func (l *Loader) invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mtime = time.Time{}
	l.mu.Unlock()
}
