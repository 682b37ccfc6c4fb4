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

// Package manifest renders the workload manifests the failover exercise
// applies. Templates use literal {{TEST_ID}} and {{VOLUME_NAME}} markers, and
// every rendered manifest must parse as YAML before it is handed to kubectl.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

const templateSuffix = ".template"

// Placeholder markers recognised in templates.
const (
	placeholderTestID     = "{{TEST_ID}}"
	placeholderVolumeName = "{{VOLUME_NAME}}"
)

// Vars are the values substituted into a workload template. VolumeName may
// be empty for templates that claim their volume instead of naming one.
type Vars struct {
	TestID     string
	VolumeName string
}

// Render materialises a template: placeholders are substituted, the result
// is validated as YAML, and the rendered manifest is written next to the
// template as "<name-without-.template>.<testID>". The rendered path is
// returned for kubectl.
func Render(templatePath string, vars Vars) (string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}

	content := strings.ReplaceAll(string(raw), placeholderVolumeName, vars.VolumeName)
	content = strings.ReplaceAll(content, placeholderTestID, vars.TestID)

	if idx := strings.Index(content, "{{"); idx != -1 {
		end := idx + 24
		if end > len(content) {
			end = len(content)
		}
		return "", fmt.Errorf("template %s has an unfilled placeholder near %q", templatePath, content[idx:end])
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return "", fmt.Errorf("rendered manifest from %s is not valid YAML: %w", templatePath, err)
	}

	outPath := strings.TrimSuffix(templatePath, templateSuffix) + "." + vars.TestID
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write rendered manifest: %w", err)
	}
	return outPath, nil
}
