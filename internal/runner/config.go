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
	"flag"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/clusterlock"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/poll"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/wercker"
)

// Command line flag names.
const (
	FlagClusterCheck          = "cluster-check"
	FlagNoCreate              = "no-create"
	FlagCreateUsingOCI        = "create-using-oci"
	FlagEnforceClusterLocking = "enforce-cluster-locking"
	FlagInstall               = "install"
	FlagNoTest                = "no-test"
	FlagDestructive           = "destructive"
	FlagNoDestroy             = "no-destroy"
	FlagLogLevel              = "log-level"
	FlagLogFile               = "log-file"
	FlagMetricsAddr           = "metrics-addr"
	FlagVersion               = "version"
)

// Environment variables consumed at startup. The *_VAR variants carry
// base64-encoded key material to be written under the key directory; the
// plain variants point at files already on disk and take precedence.
const (
	EnvMasterIP        = "MASTER_IP"
	EnvSlave0IP        = "SLAVE0_IP"
	EnvSlave1IP        = "SLAVE1_IP"
	EnvVCN             = "VCN"
	EnvWercker         = "WERCKER"
	EnvWerckerAPIToken = "WERCKER_API_TOKEN"
	EnvWerckerRunID    = "WERCKER_RUN_ID"
	EnvKubeconfig      = "KUBECONFIG"
	EnvKubeconfigVar   = "KUBECONFIG_VAR"
	EnvOCIAPIKey       = "OCI_API_KEY"
	EnvOCIAPIKeyVar    = "OCI_API_KEY_VAR"
	EnvInstanceKey     = "INSTANCE_KEY"
	EnvInstanceKeyVar  = "INSTANCE_KEY_VAR"
)

// Defaults for paths and CI coordinates.
const (
	DefaultKeyDir                = "/tmp"
	DefaultTerraformDir          = "terraform"
	DefaultManifestTemplate      = "manifests/replication-controller.yaml.template"
	DefaultClaimManifestTemplate = "manifests/replication-controller-with-volume-claim.yaml.template"
	DefaultDriverManifest        = "dist/oci-flexvolume-driver.yaml"
	DefaultDriverNamespace       = "kube-system"
	DefaultDriverDaemonSet       = "oci-flexvolume-driver"
	DefaultCIOrganization        = "oracle"
	DefaultCIApplication         = "oci-flexvolume-driver"
	DefaultCIPipeline            = "system-test"
	DefaultReportDir             = "/tmp/results"
	DefaultReportFile            = "done"
	DefaultMetricsAddr           = ":8099"
)

// Options are the raw command line toggles, named after the flags that set
// them.
type Options struct {
	ClusterCheck   bool
	NoCreate       bool
	CreateUsingOCI bool
	EnforceLocking bool
	Install        bool
	NoTest         bool
	Destructive    bool
	NoDestroy      bool

	LogLevel    string
	LogFile     string
	MetricsAddr string
	ShowVersion bool
}

// RegisterFlags binds the options to fs.
func RegisterFlags(fs *flag.FlagSet) *Options {
	o := &Options{}
	fs.BoolVar(&o.ClusterCheck, FlagClusterCheck, false,
		"Check that the cluster has the correct shape to run this test")
	fs.BoolVar(&o.NoCreate, FlagNoCreate, false,
		"Disable the creation of the test volume")
	fs.BoolVar(&o.CreateUsingOCI, FlagCreateUsingOCI, false,
		"Create the test volume directly via OCI instead of the volume provisioner")
	fs.BoolVar(&o.EnforceLocking, FlagEnforceClusterLocking, false,
		"Enforce cluster locking so only one instance of the test runs at once")
	fs.BoolVar(&o.Install, FlagInstall, false,
		"Install the flexvolume driver in the cluster")
	fs.BoolVar(&o.NoTest, FlagNoTest, false,
		"Don't run the tests on the test cluster")
	fs.BoolVar(&o.Destructive, FlagDestructive, false,
		"Run the tests in destructive mode (nodes are cordoned/uncordoned)")
	fs.BoolVar(&o.NoDestroy, FlagNoDestroy, false,
		"If we are creating the test volume, don't destroy it")
	fs.StringVar(&o.LogLevel, FlagLogLevel, "info",
		"Log level (debug, info, warn, error)")
	fs.StringVar(&o.LogFile, FlagLogFile, "",
		"Write logs to this file in addition to stderr")
	fs.StringVar(&o.MetricsAddr, FlagMetricsAddr, DefaultMetricsAddr,
		"Address to serve prometheus metrics on (empty disables)")
	fs.BoolVar(&o.ShowVersion, FlagVersion, false,
		"Print version information and exit")
	return o
}

// Config is the resolved run configuration. It is assembled once at startup
// from the flags and an environment snapshot; components receive values from
// here rather than reading the environment themselves.
type Config struct {
	// Modes.
	ClusterCheck    bool
	ProvisionVolume bool // run terraform to create the test volume
	NamedVolume     bool // workload mounts the terraform volume by name
	EnforceLocking  bool
	InstallDriver   bool
	RunTest         bool
	Destructive     bool
	DestroyVolume   bool

	// Cluster endpoints.
	MasterIP string
	Slave0IP string
	Slave1IP string
	VCN      string

	// CI coordinates.
	InCI           bool
	CIRunID        string
	CIAPIToken     string
	CIBaseURL      string
	CIOrganization string
	CIApplication  string
	CIPipeline     string

	// Key material.
	KubeconfigPath  string
	KubeconfigB64   string
	OCIAPIKeyPath   string
	OCIAPIKeyB64    string
	InstanceKeyPath string
	InstanceKeyB64  string
	KeyDir          string

	// Identifiers and paths.
	TestID                string
	LockFilePath          string
	TerraformDir          string
	ManifestTemplate      string
	ClaimManifestTemplate string
	DriverManifest        string
	DriverNamespace       string
	DriverDaemonSet       string

	// Timing.
	PollInterval      time.Duration
	PollMaxAttempts   int
	LockRetryInterval time.Duration
	LockMaxAttempts   int
}

// ConfigError reports every environment variable the selected modes need but
// the environment lacks, so a misconfigured CI job surfaces all its gaps in
// one run.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// FromEnvironment resolves the run configuration from opts and an
// environment snapshot taken through lookup (usually os.LookupEnv). It fails
// eagerly when a selected mode lacks its environment, before anything touches
// the cluster.
func FromEnvironment(opts *Options, lookup func(string) (string, bool)) (*Config, error) {
	env := func(name string) string {
		v, _ := lookup(name)
		return v
	}
	_, inCI := lookup(EnvWercker)

	cfg := &Config{
		ClusterCheck:    opts.ClusterCheck,
		ProvisionVolume: opts.CreateUsingOCI && !opts.NoCreate,
		NamedVolume:     opts.CreateUsingOCI,
		EnforceLocking:  opts.EnforceLocking,
		InstallDriver:   opts.Install,
		RunTest:         !opts.NoTest,
		Destructive:     opts.Destructive,
		DestroyVolume:   !opts.NoDestroy,

		MasterIP: env(EnvMasterIP),
		Slave0IP: env(EnvSlave0IP),
		Slave1IP: env(EnvSlave1IP),
		VCN:      env(EnvVCN),

		InCI:           inCI,
		CIRunID:        env(EnvWerckerRunID),
		CIAPIToken:     env(EnvWerckerAPIToken),
		CIBaseURL:      wercker.DefaultBaseURL,
		CIOrganization: DefaultCIOrganization,
		CIApplication:  DefaultCIApplication,
		CIPipeline:     DefaultCIPipeline,

		KubeconfigPath:  env(EnvKubeconfig),
		KubeconfigB64:   env(EnvKubeconfigVar),
		OCIAPIKeyPath:   env(EnvOCIAPIKey),
		OCIAPIKeyB64:    env(EnvOCIAPIKeyVar),
		InstanceKeyPath: env(EnvInstanceKey),
		InstanceKeyB64:  env(EnvInstanceKeyVar),
		KeyDir:          DefaultKeyDir,

		TestID:                uuid.New().String()[:8],
		LockFilePath:          clusterlock.DefaultLockFilePath,
		TerraformDir:          DefaultTerraformDir,
		ManifestTemplate:      DefaultManifestTemplate,
		ClaimManifestTemplate: DefaultClaimManifestTemplate,
		DriverManifest:        DefaultDriverManifest,
		DriverNamespace:       DefaultDriverNamespace,
		DriverDaemonSet:       DefaultDriverDaemonSet,

		PollInterval:      poll.DefaultInterval,
		PollMaxAttempts:   poll.DefaultMaxAttempts,
		LockRetryInterval: clusterlock.DefaultRetryInterval,
		LockMaxAttempts:   clusterlock.DefaultMaxAttempts,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	need := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	needEither := func(a, av, b, bv string) {
		if av == "" && bv == "" {
			missing = append(missing, a+" or "+b)
		}
	}

	if c.NamedVolume {
		needEither(EnvOCIAPIKey, c.OCIAPIKeyPath, EnvOCIAPIKeyVar, c.OCIAPIKeyB64)
	}
	if c.EnforceLocking {
		needEither(EnvInstanceKey, c.InstanceKeyPath, EnvInstanceKeyVar, c.InstanceKeyB64)
	}
	if c.EnforceLocking || c.InstallDriver {
		need(EnvMasterIP, c.MasterIP)
		need(EnvSlave0IP, c.Slave0IP)
		need(EnvSlave1IP, c.Slave1IP)
		need(EnvVCN, c.VCN)
	}
	if c.EnforceLocking {
		need(EnvWerckerAPIToken, c.CIAPIToken)
	}

	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}
