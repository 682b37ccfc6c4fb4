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

package clusterlock

import (
	"strings"

	"github.com/google/uuid"
)

// Origin identifies the kind of environment that created a lock token. The
// origin decides reclaim policy: CI runs can be checked against the CI
// service, local runs cannot be checked against anything.
type Origin string

const (
	// OriginCI marks tokens written by CI pipeline runs.
	OriginCI Origin = "CI"
	// OriginLocal marks tokens written by developers running against the
	// shared cluster from their own machines.
	OriginLocal Origin = "LOCAL"
)

// Token identifies a lock holder. A fresh token is generated for every
// acquisition and is never reused; once written it is only ever deleted,
// never rewritten.
type Token struct {
	Origin Origin
	ID     string
}

// NewToken generates a token with a fresh random ID.
func NewToken(origin Origin) Token {
	return Token{Origin: origin, ID: uuid.New().String()}
}

// String renders the wire form "<origin>-<id>" stored in the lock file.
func (t Token) String() string {
	return string(t.Origin) + "-" + t.ID
}

// Parse decodes lock file content into a Token. ok is false for content
// written by no known origin; such locks are never touched, only waited out.
func Parse(content string) (Token, bool) {
	content = strings.TrimSpace(content)
	for _, origin := range []Origin{OriginCI, OriginLocal} {
		prefix := string(origin) + "-"
		if strings.HasPrefix(content, prefix) {
			id := content[len(prefix):]
			if id == "" {
				return Token{}, false
			}
			return Token{Origin: origin, ID: id}, true
		}
	}
	return Token{}, false
}
