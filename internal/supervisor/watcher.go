package supervisor

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes source trees and reports debounced change bursts.
// Hidden paths, editor temp files and non-source extensions are
// filtered before they count as a change.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	exts     map[string]bool
	onChange func(path string)
	log      *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	lastPath string

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher registers every configured path, descending into
// directories, and starts the event pump.
func NewWatcher(cfg WatchConfig, log *slog.Logger, onChange func(path string)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: cfg.Debounce,
		exts:     make(map[string]bool, len(cfg.Extensions)),
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
	}
	for _, ext := range cfg.Extensions {
		w.exts[strings.ToLower(ext)] = true
	}
	for _, p := range cfg.Paths {
		if err := w.addTree(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	go w.run()
	return w, nil
}

// addTree watches a file or a directory tree, skipping hidden dirs.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New subdirectories join the watch as they appear.
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.addTree(ev.Name)
				}
			}
			if !w.relevant(ev.Name) {
				continue
			}
			w.bump(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

// bump restarts the debounce window; the callback fires once per burst
// with the last path seen.
func (w *Watcher) bump(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastPath = path
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		p := w.lastPath
		w.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		w.onChange(p)
	})
}

// relevant filters out hidden files, editor temp artifacts and
// extensions outside the configured source set.
func (w *Watcher) relevant(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "#") {
		return false
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".swx") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && strings.HasPrefix(part, ".") {
			return false
		}
	}
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

// Close stops the pump and cancels any pending debounce callback.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}
