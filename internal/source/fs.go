package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSSource watches a local directory tree and reports every change as an event.
type FSSource struct {
	root string
}

// NewFSSource creates a source rooted at path.
func NewFSSource(path string) *FSSource {
	return &FSSource{root: path}
}

// Name returns the adapter name.
func (s *FSSource) Name() string { return "fs" }

// Subscribe starts watching the tree.
func (s *FSSource) Subscribe(ctx context.Context) (Subscription, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	sub := &fsSubscription{watcher: w, closed: make(chan struct{})}
	if err := sub.addRecursive(s.root); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", s.root, err)
	}
	return sub, nil
}

type fsSubscription struct {
	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	closed    chan struct{}
}

// addRecursive adds dir and every subdirectory to the watch set.
func (f *fsSubscription) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return f.watcher.Add(path)
	})
}

// Next blocks until the watched tree changes.
func (f *fsSubscription) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return Event{}, ErrClosed
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// New subtrees are watched too; a failure here only loses
					// notifications for that subtree.
					_ = f.addRecursive(event.Name)
				}
			}
			return Event{
				Source:     "fs",
				Payload:    fmt.Sprintf("%s %s", opName(event.Op), event.Name),
				ReceivedAt: time.Now(),
			}, nil

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return Event{}, ErrClosed
			}
			return Event{}, fmt.Errorf("fsnotify: %w", err)

		case <-f.closed:
			return Event{}, ErrClosed

		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close stops watching.
func (f *fsSubscription) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closed)
		err = f.watcher.Close()
	})
	return err
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	default:
		return "modified"
	}
}
