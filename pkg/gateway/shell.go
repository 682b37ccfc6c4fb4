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

package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/go-logr/logr"
)

const (
	// DefaultCommandTimeout bounds a single command execution. Terraform
	// applies and driver rollouts take minutes; anything beyond this is a
	// wedged transport, not a slow command.
	DefaultCommandTimeout = 30 * time.Minute
)

// Shell executes commands on the local host through bash. It is the root
// gateway: SSH and kubectl layers build command strings and hand them here.
type Shell struct {
	// Timeout bounds each command. Zero disables the bound.
	Timeout time.Duration
	// Logger receives a debug line per executed command.
	Logger logr.Logger
}

// NewShell creates a local shell gateway with the default command timeout.
func NewShell(logger logr.Logger) *Shell {
	return &Shell{
		Timeout: DefaultCommandTimeout,
		Logger:  logger,
	}
}

// Execute runs command via `bash -c` in workingDir and collects its output.
// An empty workingDir runs in the current directory. Commands that cannot be
// started, or that outlive the timeout, report exit code -1.
func (s *Shell) Execute(command, workingDir string) Result {
	ctx := context.Background()
	cancel := func() {}
	if s.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.Logger.V(1).Info("Executing command", "command", command, "workingDir", workingDir)

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("command timed out after %s", s.Timeout))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// bash itself could not be started
			res.ExitCode = -1
			res.Stderr = appendLine(res.Stderr, err.Error())
		}
	}

	s.Logger.V(1).Info("Command finished", "command", command, "exitCode", res.ExitCode)
	return res
}

func appendLine(existing, line string) string {
	if existing == "" {
		return line + "\n"
	}
	if existing[len(existing)-1] != '\n' {
		existing += "\n"
	}
	return existing + line + "\n"
}
