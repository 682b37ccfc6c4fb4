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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestMaterialiseKeyFilesDecodesAndGuards(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		KeyDir:         dir,
		KubeconfigB64:  b64("kubeconfig-content"),
		InstanceKeyB64: b64("instance-key-content"),
	}
	cleanups := NewCleanups()

	keys, err := materialiseKeyFiles(cfg, cleanups, logr.Discard())
	if err != nil {
		t.Fatalf("materialiseKeyFiles: %v", err)
	}

	wantKube := filepath.Join(dir, "kubeconfig")
	if keys.kubeconfig != wantKube {
		t.Errorf("kubeconfig = %q, want %q", keys.kubeconfig, wantKube)
	}
	data, err := os.ReadFile(wantKube)
	if err != nil {
		t.Fatalf("reading materialised kubeconfig: %v", err)
	}
	if string(data) != "kubeconfig-content" {
		t.Errorf("kubeconfig content = %q", data)
	}

	info, err := os.Stat(filepath.Join(dir, "instance_key"))
	if err != nil {
		t.Fatalf("stat instance key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
	if keys.ociAPIKey != "" {
		t.Errorf("ociAPIKey = %q, want empty without material", keys.ociAPIKey)
	}

	if err := cleanups.Run(logr.Discard()); err != nil {
		t.Fatalf("cleanups: %v", err)
	}
	if _, err := os.Stat(wantKube); !os.IsNotExist(err) {
		t.Errorf("kubeconfig not removed by cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "instance_key")); !os.IsNotExist(err) {
		t.Errorf("instance key not removed by cleanup: %v", err)
	}
}

func TestMaterialiseKeyFilesPrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		KeyDir:         dir,
		KubeconfigPath: "/etc/kubernetes/admin.conf",
		KubeconfigB64:  b64("decoded-anyway"),
	}

	keys, err := materialiseKeyFiles(cfg, NewCleanups(), logr.Discard())
	if err != nil {
		t.Fatalf("materialiseKeyFiles: %v", err)
	}
	if keys.kubeconfig != "/etc/kubernetes/admin.conf" {
		t.Errorf("kubeconfig = %q, want the explicit path", keys.kubeconfig)
	}
	if _, err := os.Stat(filepath.Join(dir, "kubeconfig")); err != nil {
		t.Errorf("decoded copy should still be written: %v", err)
	}
}

func TestMaterialiseKeyFilesRejectsBadEncoding(t *testing.T) {
	cfg := &Config{KeyDir: t.TempDir(), OCIAPIKeyB64: "%%% not base64 %%%"}
	if _, err := materialiseKeyFiles(cfg, NewCleanups(), logr.Discard()); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestMaterialiseKeyFilesWithoutMaterial(t *testing.T) {
	cfg := &Config{KeyDir: t.TempDir()}
	keys, err := materialiseKeyFiles(cfg, NewCleanups(), logr.Discard())
	if err != nil {
		t.Fatalf("materialiseKeyFiles: %v", err)
	}
	if keys != (keyFiles{}) {
		t.Errorf("keys = %+v, want all empty", keys)
	}
}
