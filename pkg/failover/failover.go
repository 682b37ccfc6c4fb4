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

// Package failover exercises volume failover on a live cluster: a workload
// writes to its mounted volume, its pod is killed, and the data must be
// visible wherever the replacement pod lands. In destructive mode the
// original node is cordoned first so the replacement is forced onto a
// different node, proving the volume detached and reattached across hosts.
package failover

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/kubectl"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/poll"
)

const (
	// ControllerNamePrefix prefixes the replication controller and its pods;
	// the test-run ID is appended to isolate concurrent workloads.
	ControllerNamePrefix = "nginx-controller-"

	// DefaultMountPath is where the test workload mounts the volume.
	DefaultMountPath = "/usr/share/nginx/html"
	// DefaultFileName is the marker file written and verified across failover.
	DefaultFileName = "hello.txt"

	// PodRunning is the pod phase the waits look for.
	PodRunning = "Running"
)

// AssertionError reports a verified-state check that failed definitively.
// Retrying cannot fix it; the run is over.
type AssertionError struct {
	// Check names the property that did not hold.
	Check string
	// Detail carries the observed state for the failure report.
	Detail string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	if e.Detail == "" {
		return "assertion failed: " + e.Check
	}
	return fmt.Sprintf("assertion failed: %s (%s)", e.Check, e.Detail)
}

// Config holds the parameters of one failover exercise.
type Config struct {
	// TestID isolates this run's workload from other runs on the cluster.
	TestID string
	// ManifestPath is the rendered replication controller manifest.
	ManifestPath string
	// MountPath is the volume mount point inside the workload.
	MountPath string
	// FileName is the marker file written and verified.
	FileName string
	// Destructive enables the cordon step and the distinct-node check.
	Destructive bool
	// Poll configures the pod-state waits.
	Poll poll.Config
	// Logger records progress.
	Logger logr.Logger
}

// Result records the pods and nodes observed across the failover.
type Result struct {
	Pod1  string
	Node1 string
	Pod2  string
	Node2 string
}

// Validator drives the failover exercise through kubectl.
type Validator struct {
	kube *kubectl.Kubectl
	cfg  Config
}

// New creates a Validator. Zero config fields fall back to defaults.
func New(kube *kubectl.Kubectl, cfg Config) *Validator {
	if cfg.MountPath == "" {
		cfg.MountPath = DefaultMountPath
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.Poll.MaxAttempts == 0 && cfg.Poll.Interval == 0 {
		cfg.Poll = poll.DefaultConfig()
	}
	return &Validator{kube: kube, cfg: cfg}
}

// Run executes the failover sequence. Cleanup is scoped to acquisition:
// the workload is deleted and, in destructive mode, the cordoned node is
// uncordoned on every exit path, in reverse order of acquisition. Cleanup
// failures never mask the primary error.
func (v *Validator) Run() (res Result, err error) {
	prefix := ControllerNamePrefix + v.cfg.TestID
	log := v.cfg.Logger

	// clear leftovers from an earlier aborted run, then create fresh
	v.kube.DeleteIgnoreFailure(v.cfg.ManifestPath)
	if err := v.kube.Create(v.cfg.ManifestPath); err != nil {
		return Result{}, fmt.Errorf("failed to create test workload: %w", err)
	}
	defer func() {
		if derr := v.kube.Delete(v.cfg.ManifestPath); derr != nil {
			log.Error(derr, "Failed to delete test workload", "manifest", v.cfg.ManifestPath)
			if err == nil {
				err = fmt.Errorf("failed to delete test workload: %w", derr)
			}
		}
	}()

	pod1, err := v.waitForRunningPod(prefix)
	if err != nil {
		return Result{}, err
	}
	res.Pod1, res.Node1 = pod1.Name, pod1.Node
	log.Info("Workload scheduled", "pod", pod1.Name, "node", pod1.Node)

	if err := v.writeMarkerFile(pod1.Name); err != nil {
		return res, err
	}
	if err := v.verifyMarkerFile(pod1.Name); err != nil {
		return res, err
	}

	if v.cfg.Destructive {
		log.Info("Cordoning node to force rescheduling elsewhere", "node", pod1.Node)
		if err := v.kube.Cordon(pod1.Node); err != nil {
			return res, fmt.Errorf("failed to cordon node %s: %w", pod1.Node, err)
		}
		defer func() {
			if uerr := v.kube.Uncordon(pod1.Node); uerr != nil {
				log.Error(uerr, "Failed to uncordon node", "node", pod1.Node)
				if err == nil {
					err = fmt.Errorf("failed to uncordon node %s: %w", pod1.Node, uerr)
				}
			}
		}()
	}

	log.Info("Deleting pod to trigger failover", "pod", pod1.Name)
	if err := v.kube.DeletePod(pod1.Name); err != nil {
		return res, fmt.Errorf("failed to delete pod %s: %w", pod1.Name, err)
	}

	pod2, err := v.waitForRunningPod(prefix)
	if err != nil {
		return res, err
	}
	res.Pod2, res.Node2 = pod2.Name, pod2.Node
	log.Info("Replacement pod scheduled", "pod", pod2.Name, "node", pod2.Node)

	if v.cfg.Destructive && pod2.Node == pod1.Node {
		return res, &AssertionError{
			Check: "replacement pod scheduled on a different node",
			Detail: fmt.Sprintf("pod %s and replacement %s both landed on %s",
				pod1.Name, pod2.Name, pod1.Node),
		}
	}

	if err := v.verifyMarkerFile(pod2.Name); err != nil {
		return res, err
	}

	log.Info("Volume followed the workload across failover",
		"pod1", res.Pod1, "node1", res.Node1, "pod2", res.Pod2, "node2", res.Node2)
	return res, nil
}

func (v *Validator) waitForRunningPod(prefix string) (kubectl.PodInfo, error) {
	pods, err := poll.Until(v.cfg.Poll, fmt.Sprintf("a running %s* pod", prefix),
		func() ([]kubectl.PodInfo, error) { return v.kube.Pods(prefix) },
		func(pods []kubectl.PodInfo) bool { return findByStatus(pods, PodRunning) != nil },
	)
	if err != nil {
		return kubectl.PodInfo{}, err
	}
	return *findByStatus(pods, PodRunning), nil
}

func findByStatus(pods []kubectl.PodInfo, status string) *kubectl.PodInfo {
	for i := range pods {
		if pods[i].Status == status {
			return &pods[i]
		}
	}
	return nil
}

func (v *Validator) writeMarkerFile(pod string) error {
	path := v.cfg.MountPath + "/" + v.cfg.FileName
	if _, err := v.kube.Exec(pod, "touch "+path); err != nil {
		return fmt.Errorf("failed to write %s in pod %s: %w", path, pod, err)
	}
	return nil
}

func (v *Validator) verifyMarkerFile(pod string) error {
	out, err := v.kube.Exec(pod, "ls "+v.cfg.MountPath)
	if err != nil {
		return fmt.Errorf("failed to list %s in pod %s: %w", v.cfg.MountPath, pod, err)
	}
	for _, entry := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(entry) == v.cfg.FileName {
			return nil
		}
	}
	return &AssertionError{
		Check:  fmt.Sprintf("file %s present in %s of pod %s", v.cfg.FileName, v.cfg.MountPath, pod),
		Detail: "directory listing: " + strings.TrimSpace(out),
	}
}
