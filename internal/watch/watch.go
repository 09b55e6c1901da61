// Package watch reports edits to model definitions and newly published
// results in a models directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fairsim/internal/logger"
)

// DefaultDebounce collapses the bursts of events one save produces.
const DefaultDebounce = 250 * time.Millisecond

type Kind string

const (
	ModelChanged   Kind = "model"   // <model>/model.yaml written
	ResultsChanged Kind = "results" // <model>/results swapped in
)

// Change is one debounced notification.
type Change struct {
	Model string
	Kind  Kind
}

// Watcher watches a models directory and every model directory in it.
type Watcher struct {
	dir      string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	pending map[Change]time.Time
}

// New starts watching dir and the model directories already in it. Events
// are delivered once Run is called.
func New(dir string, debounce time.Duration, log *logger.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		dir:      filepath.Clean(dir),
		fsw:      fsw,
		debounce: debounce,
		log:      logger.OrNop(log),
		pending:  make(map[Change]time.Time),
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addModel(filepath.Join(w.dir, e.Name()), false)
		}
	}
	return w, nil
}

// Run delivers changes to fn until ctx is done, then releases the watcher.
// fn runs on Run's goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(Change)) error {
	defer w.fsw.Close()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		case <-ticker.C:
			for _, c := range w.due(time.Now()) {
				fn(c)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	parent, base := filepath.Dir(ev.Name), filepath.Base(ev.Name)

	if parent == w.dir {
		if ev.Op&fsnotify.Create != 0 {
			if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				w.addModel(ev.Name, true)
			}
		}
		return
	}
	if filepath.Dir(parent) != w.dir {
		return
	}

	model := filepath.Base(parent)
	switch {
	case base == "model.yaml" && ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.mark(Change{Model: model, Kind: ModelChanged})
	case base == "results" && ev.Op&fsnotify.Create != 0:
		w.mark(Change{Model: model, Kind: ResultsChanged})
	}
}

// addModel watches a model directory. For a directory created while
// watching, a model.yaml written before the watch was in place is reported
// as a change.
func (w *Watcher) addModel(path string, created bool) {
	if err := w.fsw.Add(path); err != nil {
		w.log.Warn("watch model dir", "path", path, "error", err)
		return
	}
	w.log.Debug("watching model dir", "path", path)
	if !created {
		return
	}
	if _, err := os.Stat(filepath.Join(path, "model.yaml")); err == nil {
		w.mark(Change{Model: filepath.Base(path), Kind: ModelChanged})
	}
}

func (w *Watcher) mark(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[c] = time.Now()
}

// due removes and returns the changes quiet for at least the debounce
// interval, ordered by model then kind.
func (w *Watcher) due(now time.Time) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Change
	for c, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, c)
			delete(w.pending, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
