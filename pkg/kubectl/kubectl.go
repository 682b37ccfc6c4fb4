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

// Package kubectl drives the cluster through the kubectl binary. The test
// runner deliberately speaks the same CLI an operator would, so every
// interaction here builds a command line, runs it through a gateway and
// parses the collected output.
package kubectl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

// Column positions in `kubectl get pods -o wide` tabular output.
const (
	podNameColumn   = 0
	podStatusColumn = 2
	podNodeColumn   = 6
)

// PodInfo is one row of the wide pod listing.
type PodInfo struct {
	Name   string
	Status string
	Node   string
}

// RolloutStatus is the readiness summary of a daemonset.
type RolloutStatus struct {
	Desired int `json:"desiredNumberScheduled"`
	Ready   int `json:"numberReady"`
}

// Complete reports whether every desired pod is ready.
func (s RolloutStatus) Complete() bool {
	return s.Desired == s.Ready
}

// Kubectl runs kubectl commands through a gateway, optionally pinning the
// kubeconfig used for every invocation.
type Kubectl struct {
	gw         gateway.Gateway
	kubeconfig string
	logger     logr.Logger
}

// New creates a Kubectl. kubeconfigPath may be empty, in which case kubectl
// resolves its configuration the usual way.
func New(gw gateway.Gateway, kubeconfigPath string, logger logr.Logger) *Kubectl {
	return &Kubectl{gw: gw, kubeconfig: kubeconfigPath, logger: logger}
}

func (k *Kubectl) command(args string) string {
	cmd := "kubectl " + args
	if k.kubeconfig != "" {
		cmd = "KUBECONFIG=" + k.kubeconfig + " " + cmd
	}
	return cmd
}

func (k *Kubectl) run(args string) (gateway.Result, error) {
	cmd := k.command(args)
	res := k.gw.Execute(cmd, "")
	return res, gateway.ErrIfFailed(cmd, res)
}

// Pods lists pods whose name starts with namePrefix, with their status and
// scheduled node. Rows that are too short for the node column (headers,
// pending pods without placement) or that name other workloads are ignored.
func (k *Kubectl) Pods(namePrefix string) ([]PodInfo, error) {
	res, err := k.run("get pods -o wide")
	if err != nil {
		return nil, err
	}
	return parsePodTable(res.Stdout, namePrefix), nil
}

func parsePodTable(out, namePrefix string) []PodInfo {
	var pods []PodInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) <= podNodeColumn {
			continue
		}
		if !strings.HasPrefix(fields[podNameColumn], namePrefix) {
			continue
		}
		pods = append(pods, PodInfo{
			Name:   fields[podNameColumn],
			Status: fields[podStatusColumn],
			Node:   fields[podNodeColumn],
		})
	}
	return pods
}

// DaemonSetRollout fetches the desired/ready counts of a daemonset.
func (k *Kubectl) DaemonSetRollout(namespace, name string) (RolloutStatus, error) {
	res, err := k.run(fmt.Sprintf("-n %s get daemonset %s -o json", namespace, name))
	if err != nil {
		return RolloutStatus{}, err
	}

	var ds struct {
		Status RolloutStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &ds); err != nil {
		return RolloutStatus{}, fmt.Errorf("failed to parse daemonset %s/%s: %w", namespace, name, err)
	}
	return ds.Status, nil
}

// Apply applies a manifest file.
func (k *Kubectl) Apply(manifestPath string) error {
	_, err := k.run("apply -f " + manifestPath)
	return err
}

// Create creates the resources in a manifest file.
func (k *Kubectl) Create(manifestPath string) error {
	_, err := k.run("create -f " + manifestPath)
	return err
}

// Delete deletes the resources in a manifest file.
func (k *Kubectl) Delete(manifestPath string) error {
	_, err := k.run("delete -f " + manifestPath)
	return err
}

// DeleteIgnoreFailure deletes the resources in a manifest file, tolerating
// failure. Used to clear leftovers from earlier runs where "nothing to
// delete" is the common case.
func (k *Kubectl) DeleteIgnoreFailure(manifestPath string) {
	cmd := k.command("delete -f " + manifestPath)
	res := k.gw.Execute(cmd, "")
	if !res.Succeeded() {
		k.logger.V(1).Info("Ignoring delete failure", "manifest", manifestPath, "stderr", res.Stderr)
	}
}

// DeletePod deletes a single pod by name.
func (k *Kubectl) DeletePod(name string) error {
	_, err := k.run("delete pod " + name)
	return err
}

// Exec runs a command inside a pod and returns its stdout.
func (k *Kubectl) Exec(pod, command string) (string, error) {
	res, err := k.run(fmt.Sprintf("exec %s -- %s", pod, command))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Cordon marks a node unschedulable.
func (k *Kubectl) Cordon(node string) error {
	_, err := k.run("cordon " + node)
	return err
}

// Uncordon restores a node to schedulable.
func (k *Kubectl) Uncordon(node string) error {
	_, err := k.run("uncordon " + node)
	return err
}
