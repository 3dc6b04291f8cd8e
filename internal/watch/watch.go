package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
)

// DefaultSettle is how long a file must go without writes before it is
// handed over.
const DefaultSettle = 2 * time.Second

// Expand resolves glob patterns (including ** segments) to a sorted,
// de-duplicated list of regular files.
func Expand(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Watcher reports files matching its patterns once they stop changing.
// fsnotify is not recursive, so every directory under a pattern's static
// prefix is added, including ones created later.
type Watcher struct {
	fsw      *fsnotify.Watcher
	patterns []string
	settle   time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	dirs    map[string]bool
	ready   chan string
	done    chan struct{}
}

func New(patterns []string, settle time.Duration) (*Watcher, error) {
	if len(patterns) == 0 {
		return nil, errors.New("no watch patterns")
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		settle:  settle,
		pending: map[string]*time.Timer{},
		dirs:    map[string]bool{},
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	for _, pattern := range patterns {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		if !doublestar.ValidatePathPattern(abs) {
			fsw.Close()
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		w.patterns = append(w.patterns, abs)
		base, _ := doublestar.SplitPattern(filepath.ToSlash(abs))
		if err := w.addTree(filepath.FromSlash(base), false); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", base, err)
		}
	}
	return w, nil
}

// Dirs returns the directories currently watched.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Match reports whether path matches any watched pattern.
func (w *Watcher) Match(path string) bool {
	for _, p := range w.patterns {
		if ok, _ := doublestar.PathMatch(p, path); ok {
			return true
		}
	}
	return false
}

// Run delivers settled files to handle until ctx is cancelled. handle runs
// on the caller's goroutine, one file at a time.
func (w *Watcher) Run(ctx context.Context, handle func(path string)) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-w.ready:
			handle(path)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			common.Logf("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name, true); err != nil {
				common.Logf("watch %s: %v", ev.Name, err)
			}
			return
		}
		w.schedule(ev.Name)
	case ev.Op&fsnotify.Write != 0:
		w.schedule(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.cancel(ev.Name)
	}
}

// addTree watches root and every directory below it. With scan set, files
// already present are scheduled, which covers writes that raced the Add.
func (w *Watcher) addTree(root string, scan bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if scan {
				w.schedule(path)
			}
			return nil
		}
		w.mu.Lock()
		known := w.dirs[path]
		w.dirs[path] = true
		w.mu.Unlock()
		if known {
			return nil
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) schedule(path string) {
	if !w.Match(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
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

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	close(w.done)
	w.fsw.Close()
}
