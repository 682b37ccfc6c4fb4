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

// Package poll implements bounded condition polling for cluster state. Waits
// in the test runner (driver rollout, pod scheduling) share this single
// combinator so every wait has a hard attempt budget and an injectable clock.
package poll

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// Default polling parameters for cluster-state waits.
const (
	// DefaultInterval is the pause between consecutive samples.
	DefaultInterval = 1 * time.Second
	// DefaultMaxAttempts bounds a wait to three minutes at DefaultInterval.
	DefaultMaxAttempts = 180
)

// ErrTimeout is returned (wrapped) when the attempt budget is exhausted
// before the condition holds. Callers detect it with errors.Is.
var ErrTimeout = errors.New("condition not satisfied within attempt budget")

// Config holds the polling parameters.
type Config struct {
	// Interval is the pause between samples.
	Interval time.Duration
	// MaxAttempts is the exact number of samples taken before giving up.
	MaxAttempts int
	// Sleep pauses between attempts. Nil means time.Sleep; tests inject a
	// recording implementation to run deterministically.
	Sleep func(time.Duration)
	// Logger receives per-attempt progress at verbosity 1.
	Logger logr.Logger
}

// DefaultConfig returns the polling parameters used for cluster waits.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      logr.Discard(),
	}
}

// Until samples a condition until done reports true or the attempt budget is
// exhausted. A fresh sample is taken every iteration; stale state is never
// evaluated. The satisfying sample is returned on success. On timeout the
// last observed sample is returned alongside an error wrapping ErrTimeout so
// diagnostics survive the failure. A sampling error aborts the poll
// immediately; it is the caller's failure, not a timeout.
func Until[S any](cfg Config, description string, sample func() (S, error), done func(S) bool) (S, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var last S
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		s, err := sample()
		if err != nil {
			return last, fmt.Errorf("sampling %s (attempt %d/%d): %w", description, attempt, cfg.MaxAttempts, err)
		}
		last = s

		if done(s) {
			cfg.Logger.V(1).Info("Condition satisfied", "description", description, "attempt", attempt)
			return s, nil
		}

		cfg.Logger.V(1).Info("Condition not yet satisfied", "description", description,
			"attempt", attempt, "maxAttempts", cfg.MaxAttempts)
		if attempt < cfg.MaxAttempts {
			sleep(cfg.Interval)
		}
	}

	return last, fmt.Errorf("waiting for %s: %w after %d attempts (last sample: %+v)",
		description, ErrTimeout, cfg.MaxAttempts, last)
}
