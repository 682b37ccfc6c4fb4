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

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

const (
	testRunID = "ab12cd34"
	pod1Name  = "nginx-controller-ab12cd34-x1abc"
	pod2Name  = "nginx-controller-ab12cd34-x2def"
)

const workloadTemplate = `apiVersion: v1
kind: ReplicationController
metadata:
  name: nginx-controller-{{TEST_ID}}
spec:
  replicas: 1
  template:
    metadata:
      labels:
        app: nginx-{{TEST_ID}}
    spec:
      containers:
        - name: nginx
          image: nginx
          volumeMounts:
            - name: nginx-volume
              mountPath: /usr/share/nginx/html
      volumes:
        - name: nginx-volume
          flexVolume:
            driver: oracle/oci
            options:
              volumeName: {{VOLUME_NAME}}
`

const claimTemplate = `apiVersion: v1
kind: ReplicationController
metadata:
  name: nginx-controller-{{TEST_ID}}
spec:
  replicas: 1
  template:
    metadata:
      labels:
        app: nginx-{{TEST_ID}}
    spec:
      containers:
        - name: nginx
          image: nginx
          volumeMounts:
            - name: nginx-volume
              mountPath: /usr/share/nginx/html
      volumes:
        - name: nginx-volume
          persistentVolumeClaim:
            claimName: nginx-volume-claim-{{TEST_ID}}
`

func fullEnv() map[string]string {
	return map[string]string{
		EnvMasterIP:        "10.0.0.2",
		EnvSlave0IP:        "10.0.0.3",
		EnvSlave1IP:        "10.0.0.4",
		EnvVCN:             "systest-vcn",
		EnvInstanceKey:     "/keys/instance_key",
		EnvOCIAPIKey:       "/keys/oci_api_key.pem",
		EnvKubeconfig:      "/keys/kubeconfig",
		EnvWerckerAPIToken: "tok123",
	}
}

// scriptedConfig resolves cfg for a scripted run: fixed test ID, millisecond
// waits and manifest templates under a temp dir.
func scriptedConfig(t *testing.T, opts *Options) *Config {
	t.Helper()
	cfg, err := FromEnvironment(opts, lookupFrom(fullEnv()))
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	cfg.TestID = testRunID
	cfg.LockRetryInterval = time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PollMaxAttempts = 5

	dir := t.TempDir()
	cfg.ManifestTemplate = filepath.Join(dir, "replication-controller.yaml.template")
	if err := os.WriteFile(cfg.ManifestTemplate, []byte(workloadTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.ClaimManifestTemplate = filepath.Join(dir, "replication-controller-with-volume-claim.yaml.template")
	if err := os.WriteFile(cfg.ClaimManifestTemplate, []byte(claimTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func renderedManifestPath(cfg *Config) string {
	return strings.TrimSuffix(cfg.ManifestTemplate, ".template") + "." + testRunID
}

// scriptLockFile emulates the lock file on the master, so read-after-write
// confirmation behaves like a real file behind ssh.
func scriptLockFile(script *gateway.Script) {
	content := ""
	write := regexp.MustCompile(`echo (\S+) > /tmp/system-test-lock-file`)
	script.OnFunc(`cat /tmp/system-test-lock-file`, func(string) gateway.Result {
		if content == "" {
			return gateway.Result{ExitCode: 1, Stderr: "cat: /tmp/system-test-lock-file: No such file or directory\n"}
		}
		return gateway.Result{Stdout: content + "\n"}
	})
	script.OnFunc(`echo \S+ > /tmp/system-test-lock-file`, func(cmd string) gateway.Result {
		content = write.FindStringSubmatch(cmd)[1]
		return gateway.Result{}
	})
	script.OnFunc(`rm -rf /tmp/system-test-lock-file`, func(string) gateway.Result {
		content = ""
		return gateway.Result{}
	})
}

func podListing(name, status, node string) string {
	header := "NAME              READY   STATUS    RESTARTS   AGE   IP           NODE     NOMINATED NODE   READINESS GATES\n"
	return header + fmt.Sprintf("%s   1/1     %s   0          10s   10.244.0.7   %s   <none>           <none>\n",
		name, status, node)
}

func happyScript(cfg *Config) *gateway.Script {
	script := gateway.NewScript()
	scriptLockFile(script)

	script.OnSuccess(`terraform init$`, "")
	script.OnSuccess(`terraform apply -auto-approve$`, "")
	script.OnSuccess(`terraform output -json$`, `{"volume_ocid":{"value":"ocid1.volume.oc1.phx.abc123xyz"}}`)
	script.OnSuccess(`terraform destroy -auto-approve$`, "")

	script.On(`kubectl delete -f dist/oci-flexvolume-driver\.yaml$`,
		gateway.Result{ExitCode: 1, Stderr: "Error from server (NotFound)\n"})
	script.OnSuccess(`kubectl apply -f dist/oci-flexvolume-driver\.yaml$`,
		"daemonset.apps/oci-flexvolume-driver created\n")
	script.On(`kubectl -n kube-system get daemonset oci-flexvolume-driver -o json$`,
		gateway.Result{Stdout: `{"status":{"desiredNumberScheduled":2,"numberReady":1}}`},
		gateway.Result{Stdout: `{"status":{"desiredNumberScheduled":2,"numberReady":2}}`})

	rendered := regexp.QuoteMeta(renderedManifestPath(cfg))
	script.On(`kubectl delete -f `+rendered+`$`,
		gateway.Result{ExitCode: 1, Stderr: "Error from server (NotFound)\n"},
		gateway.Result{})
	script.OnSuccess(`kubectl create -f `+rendered+`$`,
		"replicationcontroller/nginx-controller-ab12cd34 created\n")

	script.On(`kubectl get pods -o wide$`,
		gateway.Result{Stdout: podListing(pod1Name, "Running", "node-1")},
		gateway.Result{Stdout: podListing(pod2Name, "Running", "node-2")})

	script.OnSuccess(`kubectl exec nginx-controller-`+testRunID+`\S* -- touch /usr/share/nginx/html/hello\.txt$`, "")
	script.OnSuccess(`kubectl exec nginx-controller-`+testRunID+`\S* -- ls /usr/share/nginx/html$`,
		"hello.txt\nindex.html\n")

	script.OnSuccess(`kubectl cordon node-1$`, "node/node-1 cordoned\n")
	script.OnSuccess(`kubectl uncordon node-1$`, "node/node-1 uncordoned\n")
	script.OnSuccess(`kubectl delete pod `+pod1Name+`$`, "")
	return script
}

func indexMatching(t *testing.T, commands []string, pattern string) int {
	t.Helper()
	re := regexp.MustCompile(pattern)
	for i, c := range commands {
		if re.MatchString(c) {
			return i
		}
	}
	t.Fatalf("no command matching %q in %q", pattern, commands)
	return -1
}

func TestRunAllPhases(t *testing.T) {
	opts := &Options{EnforceLocking: true, CreateUsingOCI: true, Install: true, Destructive: true}
	cfg := scriptedConfig(t, opts)
	script := happyScript(cfg)

	r := NewWithGateway(cfg, logr.Discard(), nil, script)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	commands := script.Commands()
	lockWrite := indexMatching(t, commands, `echo LOCAL-\S+ > /tmp/system-test-lock-file`)
	tfApply := indexMatching(t, commands, `terraform apply`)
	driverApply := indexMatching(t, commands, `kubectl apply -f dist/`)
	workloadCreate := indexMatching(t, commands, `kubectl create -f `)
	if !(lockWrite < tfApply && tfApply < driverApply && driverApply < workloadCreate) {
		t.Errorf("phase order wrong: lockWrite=%d tfApply=%d driverApply=%d workloadCreate=%d",
			lockWrite, tfApply, driverApply, workloadCreate)
	}

	// releases run in reverse acquisition order: volume before lock
	tfDestroy := indexMatching(t, commands, `terraform destroy`)
	lockDelete := indexMatching(t, commands, `rm -rf /tmp/system-test-lock-file`)
	if !(workloadCreate < tfDestroy && tfDestroy < lockDelete) {
		t.Errorf("cleanup order wrong: workloadCreate=%d tfDestroy=%d lockDelete=%d",
			workloadCreate, tfDestroy, lockDelete)
	}

	if _, err := os.Stat(renderedManifestPath(cfg)); !os.IsNotExist(err) {
		t.Errorf("rendered manifest not cleaned up: %v", err)
	}

	if n := script.CountMatching(`kubectl cordon node-1`); n != 1 {
		t.Errorf("cordon ran %d times, want 1", n)
	}
	if n := script.CountMatching(`kubectl uncordon node-1`); n != 1 {
		t.Errorf("uncordon ran %d times, want 1", n)
	}
	// ssh-wrapped lock traffic targets the master with the instance key
	if n := script.CountMatching(`ssh .* -i /keys/instance_key opc@10\.0\.0\.2 `); n < 3 {
		t.Errorf("lock traffic not routed over ssh to the master, %d matching commands", n)
	}
}

func TestRunReleasesEverythingOnFailure(t *testing.T) {
	opts := &Options{EnforceLocking: true, CreateUsingOCI: true}
	cfg := scriptedConfig(t, opts)

	script := gateway.NewScript()
	scriptLockFile(script)
	script.OnSuccess(`terraform init$`, "")
	script.OnSuccess(`terraform apply -auto-approve$`, "")
	script.OnSuccess(`terraform output -json$`, `{"volume_ocid":{"value":"ocid1.volume.oc1.phx.abc123xyz"}}`)
	script.OnSuccess(`terraform destroy -auto-approve$`, "")
	rendered := regexp.QuoteMeta(renderedManifestPath(cfg))
	script.On(`kubectl delete -f `+rendered+`$`,
		gateway.Result{ExitCode: 1, Stderr: "Error from server (NotFound)\n"})
	script.OnFailure(`kubectl create -f `+rendered+`$`, 1, "Error from server (Forbidden)\n")

	r := NewWithGateway(cfg, logr.Discard(), nil, script)
	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if !strings.Contains(err.Error(), PhaseFailover) {
		t.Errorf("error %q should name the failing phase", err)
	}

	if n := script.CountMatching(`terraform destroy`); n != 1 {
		t.Errorf("terraform destroy ran %d times, want 1", n)
	}
	if n := script.CountMatching(`rm -rf /tmp/system-test-lock-file`); n != 1 {
		t.Errorf("lock release ran %d times, want 1", n)
	}
	if _, err := os.Stat(renderedManifestPath(cfg)); !os.IsNotExist(err) {
		t.Errorf("rendered manifest not cleaned up: %v", err)
	}
}

func shapeNode(name, zone string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"topology.kubernetes.io/zone": zone},
		},
	}
}

func TestRunClusterCheckPhase(t *testing.T) {
	opts := &Options{ClusterCheck: true, NoTest: true}
	cfg := scriptedConfig(t, opts)

	script := gateway.NewScript()
	r := NewWithGateway(cfg, logr.Discard(), nil, script)
	r.newClientset = func(kubeconfigPath string) (kubernetes.Interface, error) {
		if kubeconfigPath != "/keys/kubeconfig" {
			t.Errorf("kubeconfig path = %q, want /keys/kubeconfig", kubeconfigPath)
		}
		return fake.NewSimpleClientset(
			shapeNode("node-1", "phx-ad-1"),
			shapeNode("node-2", "phx-ad-1"),
		), nil
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// the shape check goes through the API, not the gateway
	if len(script.Calls()) != 0 {
		t.Errorf("cluster check ran commands: %q", script.Commands())
	}

	claimRendered := strings.TrimSuffix(cfg.ClaimManifestTemplate, ".template") + "." + testRunID
	if _, err := os.Stat(claimRendered); !os.IsNotExist(err) {
		t.Errorf("rendered claim manifest left behind: %v", err)
	}
}

func TestRunRejectsWrongClusterShape(t *testing.T) {
	opts := &Options{ClusterCheck: true, NoTest: true}
	cfg := scriptedConfig(t, opts)

	r := NewWithGateway(cfg, logr.Discard(), nil, gateway.NewScript())
	r.newClientset = func(string) (kubernetes.Interface, error) {
		return fake.NewSimpleClientset(
			shapeNode("node-1", "phx-ad-1"),
			shapeNode("node-2", "phx-ad-2"),
		), nil
	}

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected the shape check to fail for a multi-zone cluster")
	}
	if !strings.Contains(err.Error(), PhaseClusterCheck) {
		t.Errorf("error %q should name the failing phase", err)
	}
}
