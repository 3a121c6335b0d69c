// Package watch turns raw filesystem notifications below a directory into a
// debounced sequence of logical change events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/schaermu/gitbox/internal/workspace"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 10 * time.Second

// ErrWatcherUsed is returned when Watch is called a second time.
var ErrWatcherUsed = errors.New("watcher already used")

// Watcher recursively watches one directory tree. It has a single consumer
// and cannot be restarted; create a new Watcher per session.
type Watcher struct {
	window time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	used bool
}

// New creates a Watcher coalescing raw notifications over window.
func New(window time.Duration, logger *slog.Logger) *Watcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{window: window, logger: logger}
}

// Watch starts watching root and every directory below it except metadata
// directories. The returned channel is closed when ctx is cancelled or the
// underlying notifier shuts down.
func (w *Watcher) Watch(ctx context.Context, root string) (<-chan Event, error) {
	w.mu.Lock()
	if w.used {
		w.mu.Unlock()
		return nil, ErrWatcherUsed
	}
	w.used = true
	w.mu.Unlock()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	c := newCoalescer(w.window)
	if err := w.addTree(fw, c, root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	out := make(chan Event)
	go w.run(ctx, fw, c, root, out)
	return out, nil
}

// addTree watches dir and every directory below it. Everything found is
// recorded as present so that later creates on those paths read as updates.
func (w *Watcher) addTree(fw *fsnotify.Watcher, c *coalescer, dir string) error {
	tree, err := workspace.Scan(dir)
	if err != nil {
		return fmt.Errorf("failed to list directories under %s: %w", dir, err)
	}
	c.seed(tree.Files...)
	for _, d := range tree.Dirs {
		if d != dir {
			c.seed(d)
		}
		if err := fw.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, c *coalescer, root string, out chan<- Event) {
	defer close(out)
	defer func() {
		_ = fw.Close()
	}()

	var ready []Event
	var timer *time.Timer

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		if d, ok := c.next(time.Now()); ok {
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		var send chan<- Event
		var head Event
		if len(ready) > 0 {
			send = out
			head = ready[0]
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case send <- head:
			ready = ready[1:]

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(fw, c, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "root", root, "error", err)

		case <-timerC:
			timer = nil
		}

		ready = append(ready, c.due(time.Now())...)
	}
}

// handle feeds one raw notification into the coalescer. Newly created
// directories join the watch set.
func (w *Watcher) handle(fw *fsnotify.Watcher, c *coalescer, event fsnotify.Event) {
	now := time.Now()

	if event.Has(fsnotify.Create) {
		c.add(now, opCreate, event.Name)
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && info.Name() != workspace.MetadataDir {
			if err := w.addTree(fw, c, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}
	if event.Has(fsnotify.Write) {
		c.add(now, opWrite, event.Name)
	}
	if event.Has(fsnotify.Remove) {
		c.add(now, opRemove, event.Name)
	}
	if event.Has(fsnotify.Rename) {
		c.add(now, opRename, event.Name)
	}
}
