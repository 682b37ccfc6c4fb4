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
	"fmt"
	"regexp"
	"sync"
)

// Call records one Execute invocation observed by a Script.
type Call struct {
	Command    string
	WorkingDir string
}

type scriptRule struct {
	re      *regexp.Regexp
	results []Result
	fn      func(command string) Result
}

// Script is a Gateway for tests. Executed commands are matched against
// registered rules in registration order; the first matching rule replays its
// next scripted Result. Commands with no matching rule exit 127 with the
// command echoed on stderr, which makes missing expectations visible in the
// failure they cause.
type Script struct {
	mu       sync.Mutex
	rules    []*scriptRule
	calls    []Call
	fallback *Result
}

// NewScript returns an empty script.
func NewScript() *Script {
	return &Script{}
}

// On registers results replayed for commands matching the regular expression
// pattern. Results are consumed in order; the final result repeats once the
// queue drains. Registration order decides precedence between overlapping
// patterns. Invalid patterns panic, since a broken script means a broken test.
func (s *Script) On(pattern string, results ...Result) *Script {
	re := regexp.MustCompile(pattern)
	if len(results) == 0 {
		results = []Result{{}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &scriptRule{re: re, results: results})
	return s
}

// OnFunc registers a handler that computes the result for commands matching
// pattern, for rules that need state, such as a file that starts existing
// once written. The handler must not call back into the Script.
func (s *Script) OnFunc(pattern string, fn func(command string) Result) *Script {
	re := regexp.MustCompile(pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &scriptRule{re: re, fn: fn})
	return s
}

// OnSuccess is shorthand for On with a single zero-exit result carrying stdout.
func (s *Script) OnSuccess(pattern, stdout string) *Script {
	return s.On(pattern, Result{Stdout: stdout})
}

// OnFailure is shorthand for On with a single result of the given exit code
// and stderr.
func (s *Script) OnFailure(pattern string, exitCode int, stderr string) *Script {
	return s.On(pattern, Result{ExitCode: exitCode, Stderr: stderr})
}

// Fallback sets the result returned when no rule matches, replacing the
// default exit-127 behaviour.
func (s *Script) Fallback(res Result) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &res
	return s
}

// Execute implements Gateway.
func (s *Script) Execute(command, workingDir string) Result {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Command: command, WorkingDir: workingDir})

	var matched *scriptRule
	for _, rule := range s.rules {
		if rule.re.MatchString(command) {
			matched = rule
			break
		}
	}

	if matched == nil {
		res := Result{
			ExitCode: 127,
			Stderr:   fmt.Sprintf("no scripted result for command: %s\n", command),
		}
		if s.fallback != nil {
			res = *s.fallback
		}
		s.mu.Unlock()
		return res
	}

	if matched.fn != nil {
		// Handlers run outside the lock so they can't deadlock Execute.
		s.mu.Unlock()
		return matched.fn(command)
	}

	res := matched.results[0]
	if len(matched.results) > 1 {
		matched.results = matched.results[1:]
	}
	s.mu.Unlock()
	return res
}

// Calls returns a copy of every recorded invocation in execution order.
func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Commands returns the recorded command strings, for order assertions.
func (s *Script) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Command
	}
	return out
}

// CountMatching returns how many recorded commands match the pattern.
func (s *Script) CountMatching(pattern string) int {
	re := regexp.MustCompile(pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if re.MatchString(c.Command) {
			n++
		}
	}
	return n
}
