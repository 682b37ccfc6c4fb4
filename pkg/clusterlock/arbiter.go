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
	"context"

	"github.com/go-logr/logr"
)

// Arbiter decides whether the holder of a lock token is gone for good.
// Uncertainty must surface as an error, never as an abandoned verdict.
type Arbiter interface {
	IsAbandoned(ctx context.Context, token Token) (bool, error)
}

// RunLookup reports whether another execution of the named pipeline is
// currently running in CI. *wercker.Client satisfies it.
type RunLookup interface {
	HasOtherRunningPipeline(ctx context.Context, organization, applicationName, pipelineName, excludeRunID string) (bool, error)
}

// StaleLockArbiter reclaims CI locks whose owning pipeline run has died. A
// crashed CI run leaves its lock behind and nothing else will ever remove
// it, blocking every later run for the full acquisition window.
type StaleLockArbiter struct {
	// Runs answers liveness questions, normally backed by the Wercker API.
	Runs RunLookup
	// Organization, Application and Pipeline name the CI pipeline whose
	// runs may hold the lock.
	Organization string
	Application  string
	Pipeline     string
	// OwnRunID is this process's CI run ID, excluded from the liveness
	// check so a run never treats itself as the blocking owner. Empty
	// outside CI.
	OwnRunID string
	// Logger records arbitration verdicts.
	Logger logr.Logger
}

// IsAbandoned reports whether the lock behind token can be reclaimed.
//
// Lock tokens cannot be mapped back to a specific CI run, so the arbiter
// asks the CI service whether any other execution of the pipeline is live at
// all; if none is, a CI-origin lock can only be a leftover. LOCAL tokens are
// never candidates: a developer's machine cannot be interrogated, so their
// locks must be waited out or cleaned up by hand.
func (a *StaleLockArbiter) IsAbandoned(ctx context.Context, token Token) (bool, error) {
	if token.Origin != OriginCI {
		return false, nil
	}

	running, err := a.Runs.HasOtherRunningPipeline(ctx, a.Organization, a.Application, a.Pipeline, a.OwnRunID)
	if err != nil {
		return false, err
	}
	if running {
		a.Logger.V(1).Info("Lock owner pipeline still running, lock is live", "token", token.String())
		return false, nil
	}

	a.Logger.Info("No running pipeline execution matches the lock, treating it as abandoned",
		"token", token.String(), "pipeline", a.Pipeline)
	return true, nil
}
