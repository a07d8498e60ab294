// Package observer watches the tickets directory for edits and keeps
// run metrics for completed and failed tickets.
package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/ticket-orchestrator/internal/parser"
)

// ChangeCallback is invoked with the batch of ticket files that changed
// since the last flush. Paths are absolute.
type ChangeCallback func(changedFiles []string)

// TicketWatcher watches a tickets directory tree for changes to ticket
// markdown files and fires a debounced callback.
type TicketWatcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	cancel  context.CancelFunc
}

// NewTicketWatcher creates a watcher for the given tickets directory.
// The directory and all its subdirectories are watched.
func NewTicketWatcher(dir string, callback ChangeCallback) (*TicketWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("tickets dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tickets dir: %s is not a directory", dir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	tw := &TicketWatcher{
		watcher:  w,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return tw, nil
}

// SetDebounce changes the debounce interval (useful in tests).
func (tw *TicketWatcher) SetDebounce(d time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.debounce = d
}

// Start begins watching. It returns immediately; events are processed
// in a background goroutine until Stop is called or ctx is cancelled.
func (tw *TicketWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	tw.mu.Lock()
	tw.cancel = cancel
	tw.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-tw.watcher.Events:
				if !ok {
					return
				}
				tw.handleEvent(event)
			case _, ok := <-tw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching and releases resources.
func (tw *TicketWatcher) Stop() {
	tw.mu.Lock()
	if tw.cancel != nil {
		tw.cancel()
	}
	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.mu.Unlock()

	tw.watcher.Close()
}

func (tw *TicketWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// New subdirectories must be added to the watch list so tickets
	// created inside them are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				tw.watcher.Add(event.Name)
			}
			return
		}
	}

	base := filepath.Base(event.Name)
	if _, ok := parser.MatchTicketFile(base); !ok {
		return
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.pending[event.Name] = struct{}{}

	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.timer = time.AfterFunc(tw.debounce, tw.flush)
}

func (tw *TicketWatcher) flush() {
	tw.mu.Lock()
	if len(tw.pending) == 0 {
		tw.mu.Unlock()
		return
	}
	files := make([]string, 0, len(tw.pending))
	for f := range tw.pending {
		files = append(files, f)
	}
	tw.pending = make(map[string]struct{})
	tw.mu.Unlock()

	tw.callback(files)
}
