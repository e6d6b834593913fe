package filesystem

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
	"go.uber.org/zap"
)

// FileEvent represents a file system event
type FileEvent struct {
	Path      string
	Op        fsnotify.Op
	Operation string // "create", "update", "delete", "rename"
}

// Watcher watches directory trees for changes
type Watcher struct {
	watcher   *fsnotify.Watcher
	events    chan FileEvent
	errors    chan error
	ignoreMap map[string]bool
	mu        sync.RWMutex
	closed    bool
}

// NewWatcher creates a new file system watcher
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:   fsWatcher,
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		ignoreMap: make(map[string]bool),
	}

	go w.processEvents()

	return w, nil
}

// Add adds a path to watch (recursively)
func (w *Watcher) Add(root string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	// Only directories are watched; files are covered by their parent.
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if isInternal(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to add watch: %w", err)
		}
		return nil
	})
}

// IgnorePath temporarily ignores events for a path
func (w *Watcher) IgnorePath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignoreMap[path] = true
}

// WatchPath re-enables watching for a path
func (w *Watcher) WatchPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ignoreMap, path)
}

// Events returns the events channel
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the errors channel
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close closes the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	err := w.watcher.Close()
	close(w.events)
	close(w.errors)
	return err
}

// processEvents processes file system events
func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.mu.RLock()
			ignored := w.ignoreMap[event.Name] || isInternal(filepath.Base(event.Name)) ||
				strings.Contains(event.Name, string(filepath.Separator)+".syncshare"+string(filepath.Separator))
			w.mu.RUnlock()
			if ignored {
				continue
			}

			operation := "unknown"
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "create"
				// New directories need their own watch.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.Add(event.Name)
				}
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "update"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				operation = "delete"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				operation = "rename"
			}

			w.mu.RLock()
			if !w.closed {
				select {
				case w.events <- FileEvent{Path: event.Name, Op: event.Op, Operation: operation}:
				default:
					// Channel full; the debouncer only needs one event per burst.
				}
			}
			w.mu.RUnlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.RLock()
			if !w.closed {
				select {
				case w.errors <- err:
				default:
				}
			}
			w.mu.RUnlock()
		}
	}
}

// FolderWatcher reports which configured folder changed, at most once per
// debounce window.
type FolderWatcher struct {
	watcher  *Watcher
	roots    map[string]string // folder name -> absolute root
	debounce time.Duration
	logger   *zap.Logger
}

// NewFolderWatcher watches every folder in roots (name -> path)
func NewFolderWatcher(roots map[string]string, debounce time.Duration, logger *zap.Logger) (*FolderWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := NewWatcher()
	if err != nil {
		return nil, err
	}

	abs := make(map[string]string, len(roots))
	for name, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
		}
		if err := EnsureDirectory(p); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to create %s: %w", p, err)
		}
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
		abs[name] = p
	}

	return &FolderWatcher{watcher: w, roots: abs, debounce: debounce, logger: logger}, nil
}

// Run calls changed with a folder name after its tree has been quiet for
// the debounce window. It returns when ctx is done.
func (fw *FolderWatcher) Run(ctx context.Context, changed func(folder string)) {
	defer fw.watcher.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-fw.watcher.Errors():
			if !ok {
				return
			}
			fw.logger.Warn("Watcher error", zap.Error(err))
		case ev, ok := <-fw.watcher.Events():
			if !ok {
				return
			}
			folder := fw.folderOf(ev.Path)
			if folder == "" {
				continue
			}
			mu.Lock()
			if t, exists := timers[folder]; exists {
				t.Reset(fw.debounce)
			} else {
				timers[folder] = time.AfterFunc(fw.debounce, func() {
					mu.Lock()
					delete(timers, folder)
					mu.Unlock()
					if ctx.Err() == nil {
						changed(folder)
					}
				})
			}
			mu.Unlock()
		}
	}
}

// Mute suppresses events for path while syncshare itself writes it
func (fw *FolderWatcher) Mute(path string) { fw.watcher.IgnorePath(path) }

// Unmute re-enables events for path
func (fw *FolderWatcher) Unmute(path string) { fw.watcher.WatchPath(path) }

func (fw *FolderWatcher) folderOf(p string) string {
	for name, root := range fw.roots {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			return name
		}
	}
	return ""
}
