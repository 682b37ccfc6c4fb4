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

// Package gateway provides command execution against the hosts that make up a
// test cluster. Every remote interaction in the test runner (kubectl, the lock
// file, terraform) goes through the Gateway interface so that tests can swap in
// a scripted implementation and the runner can instrument all traffic in one
// place.
package gateway

import (
	"fmt"
	"strings"
)

// Result is the collected outcome of a single command execution. Output is
// gathered in full after the command exits; nothing is streamed.
type Result struct {
	// Stdout is the complete standard output of the command.
	Stdout string
	// Stderr is the complete standard error of the command.
	Stderr string
	// ExitCode is the command's exit status. Transport failures that prevent
	// the command from running at all are reported as -1.
	ExitCode int
}

// Succeeded reports whether the command exited zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Gateway executes a shell command in a working directory and reports the
// collected outcome. Implementations do not return a Go error: a transport
// failure surfaces as a non-zero ExitCode with Stderr describing the cause,
// so callers handle exactly one failure channel.
type Gateway interface {
	Execute(command, workingDir string) Result
}

// CommandError reports a command that was required to succeed but exited
// non-zero. It carries the full Result for diagnostics.
type CommandError struct {
	// Command is the shell command that failed.
	Command string
	// Result is the collected outcome of the failed execution.
	Result Result
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	return fmt.Sprintf("command %q exited %d: %s", e.Command, e.Result.ExitCode, msg)
}

// ErrIfFailed converts a non-zero Result into a *CommandError. Callers with
// zero failure tolerance wrap every Execute with it.
func ErrIfFailed(command string, res Result) error {
	if res.Succeeded() {
		return nil
	}
	return &CommandError{Command: command, Result: res}
}
