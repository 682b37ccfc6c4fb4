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

// Package cluster inspects the shape of the cluster under test. Block
// volumes attach within one availability domain, so the failover exercise is
// only meaningful on a cluster whose nodes all share a zone and that has at
// least two nodes to fail over between.
package cluster

import (
	"context"
	"fmt"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Zone labels, newest first. Clusters predating the label rename still carry
// only the beta form.
const (
	zoneLabelStable = "topology.kubernetes.io/zone"
	zoneLabelLegacy = "failure-domain.beta.kubernetes.io/zone"
)

// MinNodes is the smallest cluster the failover exercise can run on.
const MinNodes = 2

// NodeInfo is the per-node summary the shape check needs.
type NodeInfo struct {
	Name          string
	Zone          string
	Unschedulable bool
}

// Topology summarises the nodes of the cluster under test.
type Topology struct {
	Nodes []NodeInfo
}

// NewClientset builds a kubernetes clientset from a kubeconfig file.
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfigPath, err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}

// Discover lists the cluster's nodes with their availability zones.
func Discover(ctx context.Context, client kubernetes.Interface) (*Topology, error) {
	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	topology := &Topology{}
	for _, node := range nodes.Items {
		zone := node.Labels[zoneLabelStable]
		if zone == "" {
			zone = node.Labels[zoneLabelLegacy]
		}
		topology.Nodes = append(topology.Nodes, NodeInfo{
			Name:          node.Name,
			Zone:          zone,
			Unschedulable: node.Spec.Unschedulable,
		})
	}
	return topology, nil
}

// Zones returns the distinct zones across all nodes, sorted.
func (t *Topology) Zones() []string {
	seen := map[string]bool{}
	var zones []string
	for _, n := range t.Nodes {
		if !seen[n.Zone] {
			seen[n.Zone] = true
			zones = append(zones, n.Zone)
		}
	}
	sort.Strings(zones)
	return zones
}

// CheckShape validates the cluster fits the failover exercise: every node
// labelled with a zone, a single zone across the cluster, and at least
// MinNodes nodes.
func (t *Topology) CheckShape() error {
	if len(t.Nodes) < MinNodes {
		return fmt.Errorf("cluster has %d nodes, the failover exercise needs at least %d", len(t.Nodes), MinNodes)
	}
	for _, n := range t.Nodes {
		if n.Zone == "" {
			return fmt.Errorf("node %s carries no availability zone label", n.Name)
		}
	}
	if zones := t.Zones(); len(zones) != 1 {
		return fmt.Errorf("cluster nodes span zones %v, want a single availability zone", zones)
	}
	return nil
}
