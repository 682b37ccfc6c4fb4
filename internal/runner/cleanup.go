/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runner

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Cleanups is a stack of release actions. Each phase registers the release
// of a resource at the point it acquires it (cluster lock, test volume, key
// files), and Run releases everything in reverse acquisition order whether
// the run succeeded or not.
type Cleanups struct {
	mu    sync.Mutex
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func() error
}

// NewCleanups returns an empty stack.
func NewCleanups() *Cleanups {
	return &Cleanups{}
}

// Register pushes a release action. name labels the action in logs and
// errors.
func (c *Cleanups) Register(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, cleanupItem{name: name, fn: fn})
}

// Run executes every registered action in reverse registration order. Every
// action runs even when earlier ones fail; the first failure is returned.
// The stack is drained before anything executes, so a second Run (for
// example from a signal handler racing normal shutdown) is a no-op.
func (c *Cleanups) Run(logger logr.Logger) error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	var firstErr error
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		logger.Info("Running cleanup", "name", item.name)
		if err := item.fn(); err != nil {
			logger.Error(err, "Cleanup failed", "name", item.name)
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %q: %w", item.name, err)
			}
		}
	}
	return firstErr
}
