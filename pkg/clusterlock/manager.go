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

// Package clusterlock serialises system-test runs against a shared cluster.
// The lock is a single file on the cluster with best-effort semantics: there
// is no fencing and no lease expiry, only cooperating runs, bounded waiting
// and reclamation of locks whose CI owners are provably gone.
package clusterlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// Default acquisition parameters. 100 attempts spaced 30 seconds apart give
// a predecessor run roughly 50 minutes to finish before this run gives up.
const (
	DefaultMaxAttempts   = 100
	DefaultRetryInterval = 30 * time.Second
)

// ErrAcquireTimeout is returned (wrapped) when the lock could not be
// acquired within the attempt budget.
var ErrAcquireTimeout = errors.New("timed out waiting for cluster lock")

// Config holds the acquisition parameters of a Manager.
type Config struct {
	// MaxAttempts bounds the acquisition loop. Every iteration consumes an
	// attempt, including the no-sleep retry after reclaiming a stale lock.
	MaxAttempts int
	// RetryInterval is the pause between attempts while the lock is held.
	RetryInterval time.Duration
	// Sleep pauses between attempts. Nil means time.Sleep.
	Sleep func(time.Duration)
	// Logger records acquisition progress.
	Logger logr.Logger
}

// DefaultConfig returns the production acquisition parameters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		RetryInterval: DefaultRetryInterval,
		Logger:        logr.Discard(),
	}
}

// Manager acquires and releases the cluster lock through a Store, consulting
// an Arbiter before waiting on locks that may have dead owners.
type Manager struct {
	store   Store
	arbiter Arbiter
	cfg     Config
}

// NewManager creates a Manager. Zero config fields fall back to defaults.
func NewManager(store Store, arbiter Arbiter, cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Manager{store: store, arbiter: arbiter, cfg: cfg}
}

// Acquire waits for exclusive ownership of the cluster lock and returns the
// token that now identifies this run as the holder.
//
// Each attempt reads the lock file. When it is absent, a token for this
// acquisition is written and immediately re-read; only a confirmation read
// returning the same token counts as ownership. The confirmation narrows but
// does not close the window in which two runs write concurrently and the
// later write wins while both observe their own token. That race is a known
// limitation of the file-based protocol.
//
// When the lock is held, a parseable token is put before the arbiter; an
// abandoned lock is deleted and the next attempt starts without sleeping,
// since deletion has already changed the state being waited on. Arbitration
// failures abort the acquisition: a lock with an unreachable owner check is
// treated as live, never as free.
func (m *Manager) Acquire(ctx context.Context, origin Origin) (Token, error) {
	token := NewToken(origin)
	m.cfg.Logger.Info("Waiting for cluster lock", "token", token.String(),
		"maxAttempts", m.cfg.MaxAttempts, "retryInterval", m.cfg.RetryInterval.String())

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		content, found := m.store.Read()

		if !found {
			if err := m.store.Write(token.String()); err != nil {
				return Token{}, fmt.Errorf("failed to write cluster lock: %w", err)
			}
			confirm, confirmed := m.store.Read()
			if confirmed && confirm == token.String() {
				m.cfg.Logger.Info("Acquired cluster lock", "token", token.String(), "attempt", attempt)
				return token, nil
			}
			m.cfg.Logger.Info("Lock confirmation failed, another run won the write race",
				"attempt", attempt, "observed", confirm)
		} else {
			if holder, ok := Parse(content); ok {
				abandoned, err := m.arbiter.IsAbandoned(ctx, holder)
				if err != nil {
					return Token{}, fmt.Errorf("failed to arbitrate held lock %q: %w", content, err)
				}
				if abandoned {
					m.cfg.Logger.Info("Reclaiming abandoned lock", "holder", content, "attempt", attempt)
					if err := m.store.Delete(); err != nil {
						return Token{}, fmt.Errorf("failed to delete abandoned lock: %w", err)
					}
					continue
				}
			}
			m.cfg.Logger.Info("Cluster lock is held, waiting", "holder", content,
				"attempt", attempt, "maxAttempts", m.cfg.MaxAttempts)
		}

		if attempt < m.cfg.MaxAttempts {
			m.cfg.Sleep(m.cfg.RetryInterval)
		}
	}

	return Token{}, fmt.Errorf("%w after %d attempts", ErrAcquireTimeout, m.cfg.MaxAttempts)
}

// Release deletes the lock file. Deletion is unconditional: the run that
// acquired the lock owns the delete, and tokens are never rewritten in
// place, so whatever the file holds belongs to this run.
func (m *Manager) Release(token Token) error {
	if err := m.store.Delete(); err != nil {
		return fmt.Errorf("failed to release cluster lock %s: %w", token.String(), err)
	}
	m.cfg.Logger.Info("Released cluster lock", "token", token.String())
	return nil
}
