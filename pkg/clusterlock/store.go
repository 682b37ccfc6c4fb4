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

package clusterlock

import (
	"fmt"
	"strings"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

// DefaultLockFilePath is where the lock lives on the lock-holder host.
const DefaultLockFilePath = "/tmp/system-test-lock-file"

// Store is the persistence surface of the cluster lock.
type Store interface {
	// Read returns the current lock content. found is false when the lock
	// file does not exist.
	Read() (content string, found bool)
	// Write replaces the lock file with content.
	Write(content string) error
	// Delete removes the lock file.
	Delete() error
}

// FileStore keeps the lock in a single file reached through a command
// gateway, so the same code serves a local cluster and a remote master node
// behind ssh.
type FileStore struct {
	gw   gateway.Gateway
	path string
}

// NewFileStore creates a store for the lock file at path. An empty path
// selects DefaultLockFilePath.
func NewFileStore(gw gateway.Gateway, path string) *FileStore {
	if path == "" {
		path = DefaultLockFilePath
	}
	return &FileStore{gw: gw, path: path}
}

// Read returns the current lock content. A non-zero exit from cat means the
// file is absent. This is the only place in the runner where a failing
// command is a valid observation rather than an error.
func (s *FileStore) Read() (string, bool) {
	res := s.gw.Execute("cat "+s.path, "")
	if !res.Succeeded() {
		return "", false
	}
	return strings.TrimSpace(res.Stdout), true
}

// Write replaces the lock file content.
func (s *FileStore) Write(content string) error {
	cmd := fmt.Sprintf("echo %s > %s", content, s.path)
	if err := gateway.ErrIfFailed(cmd, s.gw.Execute(cmd, "")); err != nil {
		return fmt.Errorf("failed to write lock file %s: %w", s.path, err)
	}
	return nil
}

// Delete removes the lock file.
func (s *FileStore) Delete() error {
	cmd := "rm -rf " + s.path
	if err := gateway.ErrIfFailed(cmd, s.gw.Execute(cmd, "")); err != nil {
		return fmt.Errorf("failed to delete lock file %s: %w", s.path, err)
	}
	return nil
}
