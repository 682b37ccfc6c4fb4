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

// Package runner orchestrates a system test run of the OCI flexvolume
// driver: it resolves configuration, serialises access to the shared test
// cluster, provisions the test volume, installs the driver and drives the
// failover test, releasing everything it acquired on the way out.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"

	"github.com/oracle/oci-flexvolume-driver-systest/internal/obs"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/cluster"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/clusterlock"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/failover"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/kubectl"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/manifest"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/poll"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/terraform"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/wercker"
)

// Phase names, as they appear in logs and metrics.
const (
	PhaseKeyFiles       = "key-files"
	PhaseClusterCheck   = "cluster-check"
	PhaseLockAcquire    = "lock-acquire"
	PhaseProvision      = "provision-volume"
	PhaseRenderManifest = "render-manifest"
	PhaseDriverInstall  = "driver-install"
	PhaseFailover       = "failover-test"
)

// Runner executes a system test run end to end.
type Runner struct {
	cfg      *Config
	logger   logr.Logger
	metrics  *obs.Metrics
	gw       gateway.Gateway
	cleanups *Cleanups

	newClientset func(kubeconfigPath string) (kubernetes.Interface, error)
}

// New creates a Runner executing commands through a local shell. metrics may
// be nil.
func New(cfg *Config, logger logr.Logger, metrics *obs.Metrics) *Runner {
	return NewWithGateway(cfg, logger, metrics, gateway.NewShell(logger.WithName("shell")))
}

// NewWithGateway substitutes the command transport, which lets tests drive a
// full run against scripted command results.
func NewWithGateway(cfg *Config, logger logr.Logger, metrics *obs.Metrics, gw gateway.Gateway) *Runner {
	if metrics != nil {
		gw = obs.InstrumentGateway(gw, metrics)
	}
	return &Runner{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		gw:           gw,
		cleanups:     NewCleanups(),
		newClientset: cluster.NewClientset,
	}
}

// Cleanups exposes the release stack so main can drain it when the process
// is signalled.
func (r *Runner) Cleanups() *Cleanups {
	return r.cleanups
}

// Run executes the configured phases in order. Resources acquired along the
// way are released in reverse order before Run returns, whether it succeeds
// or not; a cleanup failure only becomes the returned error when the run
// itself passed.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := r.cleanups.Run(r.logger); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r.logger.Info("Starting system test", "testID", r.cfg.TestID, "inCI", r.cfg.InCI)

	keys, err := r.prepareKeyFiles()
	if err != nil {
		return err
	}

	if r.cfg.ClusterCheck {
		if err := r.phase(PhaseClusterCheck, func() error {
			return r.checkClusterShape(ctx, keys.kubeconfig)
		}); err != nil {
			return err
		}
	}

	if r.cfg.EnforceLocking {
		if err := r.phase(PhaseLockAcquire, func() error {
			return r.acquireClusterLock(ctx, keys.instanceKey)
		}); err != nil {
			return err
		}
	}

	tf := terraform.New(r.gw, r.cfg.TerraformDir, r.logger.WithName("terraform"))

	if r.cfg.ProvisionVolume {
		if err := r.phase(PhaseProvision, func() error {
			return r.provisionVolume(tf)
		}); err != nil {
			return err
		}
	}

	var workloadManifest string
	if err := r.phase(PhaseRenderManifest, func() error {
		var rerr error
		workloadManifest, rerr = r.renderWorkloadManifest(tf)
		return rerr
	}); err != nil {
		return err
	}

	kube := kubectl.New(r.gw, keys.kubeconfig, r.logger.WithName("kubectl"))

	if r.cfg.InstallDriver {
		if err := r.phase(PhaseDriverInstall, func() error {
			return r.installDriver(kube)
		}); err != nil {
			return err
		}
	}

	if r.cfg.RunTest {
		if err := r.phase(PhaseFailover, func() error {
			return r.runFailover(kube, workloadManifest)
		}); err != nil {
			return err
		}
	}

	r.logger.Info("System test passed", "testID", r.cfg.TestID)
	return nil
}

// phase wraps fn with logging, metrics and error context.
func (r *Runner) phase(name string, fn func() error) error {
	r.logger.Info("Starting phase", "phase", name)
	err := fn()
	if r.metrics != nil {
		r.metrics.ObservePhase(name, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("Phase complete", "phase", name)
	return nil
}

func (r *Runner) prepareKeyFiles() (keyFiles, error) {
	var keys keyFiles
	err := r.phase(PhaseKeyFiles, func() error {
		var kerr error
		keys, kerr = materialiseKeyFiles(r.cfg, r.cleanups, r.logger)
		return kerr
	})
	return keys, err
}

func (r *Runner) checkClusterShape(ctx context.Context, kubeconfigPath string) error {
	client, err := r.newClientset(kubeconfigPath)
	if err != nil {
		return err
	}
	topo, err := cluster.Discover(ctx, client)
	if err != nil {
		return err
	}
	if err := topo.CheckShape(); err != nil {
		return err
	}
	r.logger.Info("Cluster shape verified", "nodes", len(topo.Nodes), "zones", topo.Zones())
	return nil
}

// acquireClusterLock serialises access to the shared test cluster. The lock
// file lives on the cluster master, so lock traffic goes through an ssh
// wrapped gateway using the instance key.
func (r *Runner) acquireClusterLock(ctx context.Context, instanceKeyPath string) error {
	lockGW := gateway.NewSSH(r.gw, r.cfg.MasterIP, instanceKeyPath)
	store := clusterlock.NewFileStore(lockGW, r.cfg.LockFilePath)
	arbiter := &clusterlock.StaleLockArbiter{
		Runs:         wercker.NewClient(r.cfg.CIBaseURL, r.cfg.CIAPIToken, r.logger.WithName("wercker")),
		Organization: r.cfg.CIOrganization,
		Application:  r.cfg.CIApplication,
		Pipeline:     r.cfg.CIPipeline,
		OwnRunID:     r.cfg.CIRunID,
		Logger:       r.logger.WithName("arbiter"),
	}
	manager := clusterlock.NewManager(store, arbiter, clusterlock.Config{
		MaxAttempts:   r.cfg.LockMaxAttempts,
		RetryInterval: r.cfg.LockRetryInterval,
		Logger:        r.logger.WithName("clusterlock"),
	})

	origin := clusterlock.OriginLocal
	if r.cfg.InCI {
		origin = clusterlock.OriginCI
	}

	start := time.Now()
	token, err := manager.Acquire(ctx, origin)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.ObserveLockWait(time.Since(start))
	}
	r.cleanups.Register("release cluster lock", func() error {
		return manager.Release(token)
	})
	return nil
}

func (r *Runner) provisionVolume(tf *terraform.Runner) error {
	if err := tf.Init(); err != nil {
		return err
	}
	if err := tf.Apply(); err != nil {
		return err
	}
	if r.cfg.DestroyVolume {
		r.cleanups.Register("destroy test volume", tf.Destroy)
	}
	return nil
}

// renderWorkloadManifest writes the test workload manifest. With a named
// volume the workload mounts the terraform-provisioned volume directly, and
// the volume name is read from terraform state so a pre-provisioned volume
// from an earlier run works too. Otherwise the workload goes through a
// persistent volume claim and the provisioner creates the backing volume on
// demand.
func (r *Runner) renderWorkloadManifest(tf *terraform.Runner) (string, error) {
	vars := manifest.Vars{TestID: r.cfg.TestID}
	template := r.cfg.ClaimManifestTemplate
	if r.cfg.NamedVolume {
		name, err := tf.VolumeName()
		if err != nil {
			return "", err
		}
		vars.VolumeName = name
		template = r.cfg.ManifestTemplate
	}

	rendered, err := manifest.Render(template, vars)
	if err != nil {
		return "", err
	}
	r.cleanups.Register("remove rendered manifest", func() error {
		return os.Remove(rendered)
	})
	return rendered, nil
}

func (r *Runner) installDriver(kube *kubectl.Kubectl) error {
	kube.DeleteIgnoreFailure(r.cfg.DriverManifest)
	if err := kube.Apply(r.cfg.DriverManifest); err != nil {
		return err
	}

	description := fmt.Sprintf("daemonset %s/%s rollout", r.cfg.DriverNamespace, r.cfg.DriverDaemonSet)
	_, err := poll.Until(r.pollConfig(), description, func() (kubectl.RolloutStatus, error) {
		return kube.DaemonSetRollout(r.cfg.DriverNamespace, r.cfg.DriverDaemonSet)
	}, kubectl.RolloutStatus.Complete)
	return err
}

func (r *Runner) runFailover(kube *kubectl.Kubectl, manifestPath string) error {
	validator := failover.New(kube, failover.Config{
		TestID:       r.cfg.TestID,
		ManifestPath: manifestPath,
		Destructive:  r.cfg.Destructive,
		Poll:         r.pollConfig(),
		Logger:       r.logger.WithName("failover"),
	})
	result, err := validator.Run()
	if err != nil {
		return err
	}
	r.logger.Info("Failover verified",
		"pod1", result.Pod1, "node1", result.Node1,
		"pod2", result.Pod2, "node2", result.Node2)
	return nil
}

func (r *Runner) pollConfig() poll.Config {
	return poll.Config{
		Interval:    r.cfg.PollInterval,
		MaxAttempts: r.cfg.PollMaxAttempts,
		Logger:      r.logger.WithName("poll"),
	}
}
