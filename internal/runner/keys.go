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
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// File names used for key material materialised under the key directory.
const (
	kubeconfigFileName  = "kubeconfig"
	ociAPIKeyFileName   = "oci_api_key.pem"
	instanceKeyFileName = "instance_key"
)

// keyFiles holds the resolved on-disk locations of the run's key material.
// Empty fields mean the corresponding key was not provided in any form.
type keyFiles struct {
	kubeconfig  string
	ociAPIKey   string
	instanceKey string
}

// materialiseKeyFiles decodes base64 key material from the configuration
// into files under cfg.KeyDir and registers their removal. A key provided
// both as a file path and as base64 resolves to the file path; the decoded
// copy is still written so the environment stays reproducible.
func materialiseKeyFiles(cfg *Config, cleanups *Cleanups, logger logr.Logger) (keyFiles, error) {
	keys := keyFiles{
		kubeconfig:  cfg.KubeconfigPath,
		ociAPIKey:   cfg.OCIAPIKeyPath,
		instanceKey: cfg.InstanceKeyPath,
	}

	decode := func(target *string, fileName, encoded string) error {
		if encoded == "" {
			return nil
		}
		path := filepath.Join(cfg.KeyDir, fileName)
		if err := writeKeyFile(path, encoded, cleanups, logger); err != nil {
			return err
		}
		if *target == "" {
			*target = path
		}
		return nil
	}

	if err := decode(&keys.kubeconfig, kubeconfigFileName, cfg.KubeconfigB64); err != nil {
		return keyFiles{}, err
	}
	if err := decode(&keys.ociAPIKey, ociAPIKeyFileName, cfg.OCIAPIKeyB64); err != nil {
		return keyFiles{}, err
	}
	if err := decode(&keys.instanceKey, instanceKeyFileName, cfg.InstanceKeyB64); err != nil {
		return keyFiles{}, err
	}
	return keys, nil
}

func writeKeyFile(path, encoded string, cleanups *Cleanups, logger logr.Logger) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode key material for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	logger.V(1).Info("Materialised key file", "path", path)
	cleanups.Register("remove "+path, func() error {
		return os.Remove(path)
	})
	return nil
}
