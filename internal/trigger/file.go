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

package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the create and write events of a single touch.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher emits a Spawn trigger whenever the trigger file is created or
// written. The parent directory is watched, so the file need not exist yet.
type FileWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewFileWatcher creates a watcher for path. A zero debounce uses
// DefaultDebounce.
func NewFileWatcher(path string, debounce time.Duration, logger *slog.Logger) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch trigger file directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		path:     absPath,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger.With(slog.String("component", "trigger_file"), slog.String("path", absPath)),
	}, nil
}

// Path returns the absolute path being watched.
func (w *FileWatcher) Path() string { return w.path }

// Start delivers triggers until ctx is done, then releases the watcher and
// closes the returned channel.
func (w *FileWatcher) Start(ctx context.Context) <-chan Trigger {
	out := make(chan Trigger, 1)
	fire := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer w.watcher.Close()
		defer w.stopTimer()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					w.logger.Warn("trigger file event channel closed")
					return
				}
				w.handleEvent(event, fire)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					w.logger.Warn("trigger file error channel closed")
					return
				}
				w.logger.Error("trigger file watcher error", "error", err)
			case <-fire:
				select {
				case out <- Trigger{Kind: Spawn, Source: SourceFile}:
				default:
					w.logger.Debug("spawn already pending, coalescing trigger file event")
				}
			}
		}
	}()
	return out
}

func (w *FileWatcher) handleEvent(event fsnotify.Event, fire chan<- struct{}) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		w.logger.Debug("ignoring trigger file event", "op", event.Op.String())
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

func (w *FileWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
