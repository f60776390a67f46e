/*
 * Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an AFFINITY-style policy line from a file whenever it
// changes, so the caller need not poll. It only hands the new content to
// Next() callers; it does not parse it or call SetAffinityPolicy itself.
// Grounded on cmd/config-manager/main.go's SyncableConfig: a
// condition variable blocks Next() callers between changes rather than
// queuing every intermediate write.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu      sync.Mutex
	cond    *sync.Cond
	current string
	closed  bool
}

// NewWatcher starts watching path for changes and does an initial read.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: fsnotify: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, fsw: fsw}
	w.cond = sync.NewCond(&w.mu)

	if b, err := os.ReadFile(path); err == nil {
		w.current = string(b)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b, err := os.ReadFile(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.current = string(b)
			w.cond.Broadcast()
			w.mu.Unlock()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Next blocks until the file content differs from the last value
// returned (or read at construction), then returns it.
func (w *Watcher) Next(last string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.current == last && !w.closed {
		w.cond.Wait()
	}
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	return w.fsw.Close()
}
