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

package integration

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oracle/oci-flexvolume-driver-systest/internal/runner"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/clusterlock"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/failover"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

var _ = Describe("System test run", Label("Integration"), func() {
	var (
		ci     *ciServer
		lock   *lockEmulator
		script *gateway.Script
		keyDir string
	)

	BeforeEach(func() {
		ci = newCIServer()
		DeferCleanup(ci.Close)
		lock = &lockEmulator{}
		script = gateway.NewScript()
		lock.install(script)
		keyDir = GinkgoT().TempDir()
	})

	// fullOptions selects every phase a CI run enables: locking, volume
	// provisioning, driver install and the destructive failover test.
	fullOptions := func() *runner.Options {
		return &runner.Options{
			CreateUsingOCI: true,
			EnforceLocking: true,
			Install:        true,
			Destructive:    true,
		}
	}

	newRunner := func(opts *runner.Options, mutate func(*runner.Config)) (*runner.Runner, *runner.Config) {
		cfg := buildConfig(opts, ciEnv(), ci.URL, keyDir)
		if mutate != nil {
			mutate(cfg)
		}
		return runner.NewWithGateway(cfg, GinkgoLogr, nil, script), cfg
	}

	It("reclaims a stale CI lock and verifies failover end to end", func() {
		By("holding the lock with a token whose CI run is no longer running")
		lock.seed("CI-deadbeef")
		ci.setRunning(`[{"id":"` + selfRunID + `","pipeline":{"name":"system-test"}}]`)

		r, cfg := newRunner(fullOptions(), nil)
		scriptTerraform(script)
		scriptKubernetes(script, cfg, "node-2")

		By("running every phase")
		Expect(r.Run(context.Background())).To(Succeed())

		By("checking the stale lock was arbitrated through the CI API")
		Expect(ci.requestCount()).To(BeNumerically(">=", 2),
			"expected at least an application and a run lookup")

		By("checking the reclaimed lock was re-acquired with a CI token")
		commands := script.Commands()
		reclaim := firstMatching(commands, `rm -rf `+regexp.QuoteMeta(lockPath))
		write := firstMatching(commands, `echo CI-\S+ > `+regexp.QuoteMeta(lockPath))
		Expect(reclaim).To(BeNumerically("<", write))

		By("checking the lock traffic went to the master over ssh with the instance key")
		instanceKey := filepath.Join(keyDir, "instance_key")
		sshPattern := `-i ` + regexp.QuoteMeta(instanceKey) + ` opc@10\.0\.0\.2 `
		Expect(script.CountMatching(sshPattern)).To(BeNumerically(">=", 3))

		By("checking the phases ran in order")
		Expect(write).To(BeNumerically("<", firstMatching(commands, `terraform init`)))
		Expect(firstMatching(commands, `terraform apply`)).
			To(BeNumerically("<", firstMatching(commands, `kubectl apply -f dist/`)))
		Expect(firstMatching(commands, `kubectl apply -f dist/`)).
			To(BeNumerically("<", firstMatching(commands, `kubectl create -f `)))

		By("checking everything acquired was released, last in first out")
		destroy := firstMatching(commands, `terraform destroy`)
		release := write + 1 + firstMatching(commands[write+1:], `rm -rf `+regexp.QuoteMeta(lockPath))
		Expect(firstMatching(commands, `kubectl uncordon node-1`)).To(BeNumerically("<", destroy))
		Expect(destroy).To(BeNumerically("<", release))
		Expect(lock.current()).To(BeEmpty(), "lock should be free after the run")
		Expect(renderedPath(cfg)).NotTo(BeAnExistingFile(), "rendered manifest should be removed")
		Expect(instanceKey).NotTo(BeAnExistingFile(), "materialised key should be removed")
	})

	It("releases the volume, lock and node when the failover assertion fails", func() {
		r, cfg := newRunner(fullOptions(), nil)
		scriptTerraform(script)
		By("scheduling the replacement pod on the same node")
		scriptKubernetes(script, cfg, "node-1")

		err := r.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(runner.PhaseFailover))

		var aerr *failover.AssertionError
		Expect(errors.As(err, &aerr)).To(BeTrue(), "expected an assertion failure, got %v", err)
		Expect(aerr.Check).To(ContainSubstring("different node"))

		By("checking cleanup still ran on the failure path")
		Expect(script.CountMatching(`kubectl uncordon node-1`)).To(Equal(1))
		Expect(script.CountMatching(`terraform destroy`)).To(Equal(1))
		Expect(lock.current()).To(BeEmpty(), "lock should be free after the run")
		Expect(renderedPath(cfg)).NotTo(BeAnExistingFile())
	})

	It("gives up after the attempt budget when the lock owner is alive", func() {
		By("holding the lock for a CI run that is still running")
		lock.seed("CI-deadbeef")
		ci.setRunning(`[{"id":"wkr-other-run","pipeline":{"name":"system-test"}}]`)

		r, _ := newRunner(fullOptions(), func(cfg *runner.Config) {
			cfg.LockMaxAttempts = 3
		})

		err := r.Run(context.Background())
		Expect(err).To(MatchError(clusterlock.ErrAcquireTimeout))

		By("checking the holder was re-checked on every attempt")
		Expect(ci.requestCount()).To(Equal(6), "each attempt looks up the application and its runs")

		By("checking nothing past the lock phase ran and the lock was untouched")
		Expect(script.CountMatching(`terraform`)).To(BeZero())
		Expect(script.CountMatching(`kubectl`)).To(BeZero())
		Expect(lock.current()).To(Equal("CI-deadbeef"))

		By("checking the materialised key was still cleaned up")
		Expect(filepath.Join(keyDir, "instance_key")).NotTo(BeAnExistingFile())
	})
})
