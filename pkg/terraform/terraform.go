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

// Package terraform provisions the block volume the failover exercise
// attaches. The terraform binary is driven through the command gateway; this
// package only builds invocations and parses outputs.
package terraform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

// Runner shells out to terraform in a fixed working directory. Every
// invocation pins TF_VAR_test_id so provisioned resources are attributable
// to exactly one run.
type Runner struct {
	gw     gateway.Gateway
	dir    string
	testID string
	logger logr.Logger
}

// New creates a Runner with a timestamp-derived test id, so resource names
// sort by creation time.
func New(gw gateway.Gateway, dir string, logger logr.Logger) *Runner {
	return NewWithTestID(gw, dir, timestampID(time.Now()), logger)
}

// NewWithTestID creates a Runner with an explicit test id.
func NewWithTestID(gw gateway.Gateway, dir, testID string, logger logr.Logger) *Runner {
	return &Runner{gw: gw, dir: dir, testID: testID, logger: logger}
}

// timestampID renders seconds plus microseconds, e.g. 20250823141502123456.
func timestampID(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// TestID returns the TF_VAR_test_id pinned for this runner.
func (r *Runner) TestID() string {
	return r.testID
}

func (r *Runner) run(args string) error {
	cmd := fmt.Sprintf("TF_VAR_test_id=%s terraform %s", r.testID, args)
	return gateway.ErrIfFailed(cmd, r.gw.Execute(cmd, r.dir))
}

// Init initialises the working directory (providers, modules).
func (r *Runner) Init() error {
	return r.run("init")
}

// Apply provisions the test resources.
func (r *Runner) Apply() error {
	r.logger.Info("Provisioning test resources", "dir", r.dir, "testID", r.testID)
	return r.run("apply -auto-approve")
}

// Destroy tears the test resources down.
func (r *Runner) Destroy() error {
	r.logger.Info("Destroying test resources", "dir", r.dir, "testID", r.testID)
	return r.run("destroy -auto-approve")
}

// VolumeName returns the short name of the provisioned volume: the last
// dot-separated segment of the volume_ocid output. The flexvolume driver
// addresses volumes by that segment, not by the full OCID.
func (r *Runner) VolumeName() (string, error) {
	cmd := fmt.Sprintf("TF_VAR_test_id=%s terraform output -json", r.testID)
	res := r.gw.Execute(cmd, r.dir)
	if err := gateway.ErrIfFailed(cmd, res); err != nil {
		return "", err
	}

	var outputs struct {
		VolumeOCID struct {
			Value string `json:"value"`
		} `json:"volume_ocid"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &outputs); err != nil {
		return "", fmt.Errorf("failed to parse terraform outputs: %w", err)
	}

	ocid := outputs.VolumeOCID.Value
	if ocid == "" {
		return "", fmt.Errorf("terraform outputs carry no volume_ocid value")
	}
	segments := strings.Split(ocid, ".")
	return segments[len(segments)-1], nil
}
