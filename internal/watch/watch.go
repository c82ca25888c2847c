// Package watch turns filesystem writes under a project root into debounced
// save events for daemon mode. Editors write a file several times in quick
// succession (write, rename, chmod); the debounce window folds a burst into
// one event.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a project tree and reports saved files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	saves     chan string

	mu      sync.Mutex
	pending map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// interesting reports whether a path is worth watching: Haskell sources and
// build manifests.
func interesting(path string) bool {
	if strings.HasSuffix(path, ".hs") || strings.HasSuffix(path, ".lhs") {
		return true
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".cabal") || base == "cabal.project" || base == "stack.yaml"
}

var skipDirs = map[string]bool{
	"dist":          true,
	"dist-newstyle": true,
	".stack-work":   true,
}

// New creates a watcher over root and registers every non-hidden,
// non-build-output directory beneath it.
func New(root string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsWatcher: fsw,
		root:      root,
		debounce:  debounce,
		saves:     make(chan string, 64),
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Saves returns the channel of debounced saved-file paths.
func (w *Watcher) Saves() <-chan string {
	return w.saves
}

// Start begins the watch loop. Call once.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends watching and closes the saves channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsWatcher.Close()
	})
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	defer close(w.saves)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case <-w.fsWatcher.Errors:
			// Watch errors are transient (overflow, removed dirs);
			// the debounce pass keeps working on what we have.
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		// New directories need their own watch.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			name := filepath.Base(ev.Name)
			if !strings.HasPrefix(name, ".") && !skipDirs[name] {
				_ = w.fsWatcher.Add(ev.Name)
			}
			return
		}
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}
	if !interesting(ev.Name) {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

// flush emits every pending path whose quiet period has elapsed.
func (w *Watcher) flush() {
	now := time.Now()
	var ready []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		select {
		case w.saves <- path:
		case <-w.done:
			return
		}
	}
}
