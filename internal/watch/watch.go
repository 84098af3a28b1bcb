// Package watch runs a handler for every image that lands in a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// DefaultExtensions are the input types the pipeline can decode.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff", ".svg"}

// Handler is called once per settled file. Errors are logged and do not stop the watch.
type Handler func(ctx context.Context, path string) error

type Config struct {
	Dir        string
	Debounce   time.Duration
	Extensions []string
	Logger     zerolog.Logger
}

type Watcher struct {
	dir        string
	debounce   time.Duration
	extensions map[string]struct{}
	handle     Handler
	logger     zerolog.Logger

	fs    *fsnotify.Watcher
	ready chan string
	done  chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, handle Handler) (*Watcher, error) {
	if handle == nil {
		return nil, errors.New("handler is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", cfg.Dir)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extensions := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = struct{}{}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(cfg.Dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		dir:        cfg.Dir,
		debounce:   debounce,
		extensions: extensions,
		handle:     handle,
		logger:     cfg.Logger.With().Str("component", "watch").Str("dir", cfg.Dir).Logger(),
		fs:         fsWatcher,
		ready:      make(chan string),
		done:       make(chan struct{}),
		timers:     make(map[string]*time.Timer),
	}, nil
}

// Run blocks until ctx is done. Files are handled one at a time, after no event has
// been seen for them for the debounce interval.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	w.logger.Info().Dur("debounce", w.debounce).Msg("watching")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !w.accept(event.Name) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case path := <-w.ready:
			if err := w.handle(ctx, path); err != nil {
				w.logger.Error().Err(err).Str("path", path).Msg("handle file failed")
				continue
			}
			w.logger.Debug().Str("path", path).Msg("handled file")
		}
	}
}

func (w *Watcher) accept(path string) bool {
	base := filepath.Base(path)
	if base == "" || strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.done)
	if err := w.fs.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("close watcher")
	}
}
