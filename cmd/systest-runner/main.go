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

// systest-runner drives the OCI flexvolume driver system test end to end:
// it serialises access to the shared test cluster, provisions a test volume,
// installs the driver and verifies that a volume follows its pod across a
// forced failover.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oracle/oci-flexvolume-driver-systest/internal/obs"
	"github.com/oracle/oci-flexvolume-driver-systest/internal/runner"
	"github.com/oracle/oci-flexvolume-driver-systest/pkg/version"
)

// initializeLogger builds the structured logger for the run. logFile, when
// set, receives a copy of the output alongside stderr.
func initializeLogger(level, logFile string) (logr.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "json"
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
	}

	zapLogger, err := config.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zapLogger), nil
}

func writeReport(logger logr.Logger, exitCode int) error {
	err := runner.WriteReport(runner.DefaultReportDir, runner.DefaultReportFile, exitCode)
	if err != nil {
		logger.Error(err, "Failed to write completion report")
	}
	return err
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := runner.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if opts.ShowVersion {
		fmt.Println(version.String())
		return 0
	}

	logger, err := initializeLogger(opts.LogLevel, opts.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	logger.Info("System test runner starting", "build", version.String())

	cfg, err := runner.FromEnvironment(opts, os.LookupEnv)
	if err != nil {
		logger.Error(err, "Invalid configuration")
		writeReport(logger, 1)
		return 1
	}

	var metrics *obs.Metrics
	if opts.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics = obs.NewMetrics(registry)
		obs.StartServer(opts.MetricsAddr, registry, logger.WithName("metrics"))
	}

	r := runner.New(cfg, logger, metrics)

	// A signal drains the release stack before the process dies, so the
	// cluster lock and the test volume never leak. Whatever command was in
	// flight is abandoned with the process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal, releasing resources", "signal", sig.String())
		r.Cleanups().Run(logger)
		writeReport(logger, 1)
		os.Exit(1)
	}()

	exitCode := 0
	if err := r.Run(context.Background()); err != nil {
		logger.Error(err, "System test failed")
		exitCode = 1
	}

	// The completion report is the run's verdict for the results collector;
	// failing to publish it fails the run.
	if err := writeReport(logger, exitCode); err != nil && exitCode == 0 {
		exitCode = 1
	}
	return exitCode
}
