package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pavelanni/studentdash/internal/model"
)

// FileSource serves snapshots from a JSON export of the record tree and
// redelivers them whenever the file is rewritten. A file that fails to parse
// is logged and the previous tree stays in effect.
type FileSource struct {
	file    string
	hub     *Hub
	watcher *fsnotify.Watcher

	mu   sync.RWMutex
	tree map[string]any

	closeOnce sync.Once
	done      chan struct{}
}

// NewFileSource loads file and starts watching it for changes.
// A missing file is treated as an empty tree until it is created.
func NewFileSource(file string) (*FileSource, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", file, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors and exporters often replace the file.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	f := &FileSource{
		file:    abs,
		watcher: w,
		tree:    map[string]any{},
		done:    make(chan struct{}),
	}
	f.hub = NewHub(f.load)
	if err := f.reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.Close()
		return nil, err
	}

	go f.watch()
	slog.Info("watching records file", "path", abs)
	return f, nil
}

// Subscribe implements Source.
func (f *FileSource) Subscribe(path string, fn func(model.Snapshot)) (Unsubscribe, error) {
	return f.hub.Subscribe(path, fn)
}

// Close stops watching and ends all subscriptions.
func (f *FileSource) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.hub.Close()
	})
	return err
}

func (f *FileSource) load(_ context.Context, path string) (model.Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return At(f.tree, path), nil
}

func (f *FileSource) reload() error {
	data, err := os.ReadFile(f.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.file, err)
	}
	tree := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("parse %s: %w", f.file, err)
		}
	}

	f.mu.Lock()
	f.tree = tree
	f.mu.Unlock()
	return nil
}

func (f *FileSource) watch() {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := f.reload(); err != nil {
				slog.Warn("records file not reloaded", "path", f.file, "error", err)
				continue
			}
			slog.Debug("records file reloaded", "path", f.file)
			f.hub.Notify("")
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("records watcher error", "error", err)
		}
	}
}
