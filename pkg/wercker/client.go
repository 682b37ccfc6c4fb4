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

// Package wercker is a minimal client for the Wercker CI REST API, covering
// the two queries the test runner needs to decide whether a dangling cluster
// lock still has a live owner.
package wercker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
)

const (
	// DefaultBaseURL is the public Wercker API endpoint.
	DefaultBaseURL = "https://app.wercker.com/api/v3"

	// requestTimeout bounds a single API call. Arbitration must fail fast
	// rather than stall a lock acquisition iteration.
	requestTimeout = 30 * time.Second
)

// Application is a CI application (one per repository).
type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pipeline identifies the pipeline a run executes.
type Pipeline struct {
	Name string `json:"name"`
}

// Run is a single pipeline execution.
type Run struct {
	ID       string   `json:"id"`
	Pipeline Pipeline `json:"pipeline"`
}

// Client calls the Wercker API with bearer token authentication.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  logr.Logger
}

// NewClient creates a client for the given API base URL. An empty baseURL
// selects the public endpoint.
func NewClient(baseURL, token string, logger logr.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// Applications lists the applications of an organization.
func (c *Client) Applications(ctx context.Context, organization string) ([]Application, error) {
	var apps []Application
	if err := c.get(ctx, "/applications/"+url.PathEscape(organization), &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// RunningRuns lists the currently running pipeline executions of an
// application.
func (c *Client) RunningRuns(ctx context.Context, applicationID string) ([]Run, error) {
	var runs []Run
	path := "/runs?applicationId=" + url.QueryEscape(applicationID) + "&status=running"
	if err := c.get(ctx, path, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// HasOtherRunningPipeline reports whether any execution of pipelineName in
// the named application is currently running, excluding excludeRunID (the
// caller's own run). A missing application is an error, not a negative
// answer: arbitration must never mistake a lookup failure for "no owner".
func (c *Client) HasOtherRunningPipeline(ctx context.Context, organization, applicationName, pipelineName, excludeRunID string) (bool, error) {
	apps, err := c.Applications(ctx, organization)
	if err != nil {
		return false, err
	}

	applicationID := ""
	for _, app := range apps {
		if app.Name == applicationName {
			applicationID = app.ID
			break
		}
	}
	if applicationID == "" {
		return false, fmt.Errorf("application %q not found in organization %q", applicationName, organization)
	}

	runs, err := c.RunningRuns(ctx, applicationID)
	if err != nil {
		return false, err
	}

	for _, run := range runs {
		if run.Pipeline.Name == pipelineName && run.ID != excludeRunID {
			c.logger.V(1).Info("Found running pipeline execution", "runID", run.ID, "pipeline", pipelineName)
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request to %s returned status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
