// Package watch keeps a sound manager in sync with a directory of sound
// files.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/chime/internal/decode"
	"github.com/dgnsrekt/chime/internal/sound"
)

// DefaultDebounce coalesces the burst of events editors and copy tools
// produce for a single save.
const DefaultDebounce = 150 * time.Millisecond

// Loader is the subset of *sfx.Manager the watcher drives.
type Loader interface {
	AddSound(ctx context.Context, name, path string) error
	RemoveSound(name string) bool
}

// Op is what the watcher did with a file.
type Op int

const (
	Loaded Op = iota
	Removed
	Failed
)

func (o Op) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case Removed:
		return "removed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Change reports one applied file change.
type Change struct {
	Op   Op
	Name string
	Path string
	Err  error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is loaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher's logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithNotify registers fn to receive every applied change.
func WithNotify(fn func(Change)) Option {
	return func(w *Watcher) { w.notify = fn }
}

// Watcher reloads sounds when files in a directory change.
type Watcher struct {
	dir      string
	loader   Loader
	debounce time.Duration
	logger   *log.Logger
	notify   func(Change)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for dir. Call Run to start it.
func New(dir string, loader Loader, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		loader:   loader,
		debounce: DefaultDebounce,
		logger:   log.Default(),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NameFor derives a sound name from a file path: the base name without
// its extension.
func NameFor(path string) (string, error) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if err := sound.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("error adding %s to fsnotify watcher: %w", w.dir, err)
	}
	w.logger.Info("Watching sound directory", "dir", w.dir)

	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("fsnotify error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !decode.Supported(event.Name) {
		return
	}
	w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)

	switch {
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		w.schedule(ctx, event.Name)
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.cancel(event.Name)
		w.remove(event.Name)
	}
}

// schedule loads path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.load(ctx, path)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) load(ctx context.Context, path string) {
	name, err := NameFor(path)
	if err != nil {
		w.logger.Warn("Skipping sound file with unusable name", "file", path, "error", err)
		w.emit(Change{Op: Failed, Path: path, Err: err})
		return
	}
	if err := w.loader.AddSound(ctx, name, path); err != nil {
		// A file caught mid-copy fails to decode; its next write retries.
		w.logger.Warn("Failed to reload sound", "sound", name, "file", path, "error", err)
		w.emit(Change{Op: Failed, Name: name, Path: path, Err: err})
		return
	}
	w.logger.Info("Reloaded sound", "sound", name, "file", path)
	w.emit(Change{Op: Loaded, Name: name, Path: path})
}

func (w *Watcher) remove(path string) {
	name, err := NameFor(path)
	if err != nil {
		return
	}
	if w.loader.RemoveSound(name) {
		w.logger.Info("Removed sound", "sound", name, "file", path)
		w.emit(Change{Op: Removed, Name: name, Path: path})
	}
}

func (w *Watcher) emit(c Change) {
	if w.notify != nil {
		w.notify(c)
	}
}
