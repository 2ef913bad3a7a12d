package clientconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mcpgate/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-installs the bridge entry when another program rewrites the
// client configuration without it.
type Watcher struct {
	writer   *Writer
	profile  Profile
	conn     Connection
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	checked chan struct{}
}

// NewWatcher creates a watcher for profile. A non-positive debounce selects
// DefaultDebounce.
func NewWatcher(writer *Writer, profile Profile, conn Connection, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		writer:   writer,
		profile:  profile,
		conn:     conn,
		debounce: debounce,
		checked:  make(chan struct{}, 1),
	}
}

// Checked receives a value after every completed check. Sends never block.
func (w *Watcher) Checked() <-chan struct{} {
	return w.checked
}

// Run watches the configuration directory until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.profile.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Info("ClientConfig", "Watching %s for changes", w.profile.ConfigPath)

	target := filepath.Clean(w.profile.ConfigPath)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Error("ClientConfig", err, "File watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.check)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) check() {
	defer func() {
		select {
		case w.checked <- struct{}{}:
		default:
		}
	}()

	present, err := w.writer.HasEntry(w.profile.ConfigPath)
	if err != nil {
		logging.Warn("ClientConfig", "Cannot inspect %s: %v", w.profile.ConfigPath, err)
		return
	}
	if present {
		return
	}

	logging.Info("ClientConfig", "Entry %q disappeared from %s, reinstalling", w.writer.Key, w.profile.ConfigPath)
	if _, err := w.writer.Install(w.profile, w.conn); err != nil {
		logging.Error("ClientConfig", err, "Failed to reinstall bridge entry")
	}
}
