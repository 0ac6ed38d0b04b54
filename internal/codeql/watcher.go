// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codeql

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// dirWatcher watches database directories and reports a debounced change
// for each one.
type dirWatcher struct {
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger
	debounce  time.Duration
	onChange  func(dir string)

	// mu protects watched and pending
	mu      sync.Mutex
	watched map[string]bool
	pending map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDirWatcher(debounce time.Duration, logger *slog.Logger, onChange func(dir string)) (*dirWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &dirWatcher{
		fsWatcher: fsWatcher,
		logger:    logger,
		debounce:  debounce,
		onChange:  onChange,
		watched:   make(map[string]bool),
		pending:   make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching dir. Errors are logged; an unwatched directory
// only means its entry lives until TTL or an explicit clear.
func (w *dirWatcher) Watch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched[dir] {
		return
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		w.logger.Debug("cannot watch database directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

// Unwatch stops watching dir and cancels any pending change.
func (w *dirWatcher) Unwatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watched[dir] {
		return
	}
	_ = w.fsWatcher.Remove(dir)
	delete(w.watched, dir)

	if timer, ok := w.pending[dir]; ok {
		timer.Stop()
		delete(w.pending, dir)
	}
}

func (w *dirWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			w.handleChange(event.Name)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// handleChange maps a changed file to its watched directory.
func (w *dirWatcher) handleChange(name string) {
	w.mu.Lock()
	dir := ""
	switch {
	case w.watched[name]:
		dir = name
	case w.watched[filepath.Dir(name)]:
		dir = filepath.Dir(name)
	}
	w.mu.Unlock()

	if dir != "" {
		w.schedule(dir)
	}
}

func (w *dirWatcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[dir]; ok {
		timer.Stop()
	}
	w.pending[dir] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, dir)
		w.mu.Unlock()

		w.logger.Info("database directory changed", "dir", dir)
		w.onChange(dir)
	})
}

// Close stops the watcher.
func (w *dirWatcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
