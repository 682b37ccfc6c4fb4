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

package gateway

import (
	"fmt"
)

// DefaultSSHUser is the login user on OCI compute instances.
const DefaultSSHUser = "opc"

// SSH routes commands through an OpenSSH client to a remote host. Host key
// checking is disabled because test clusters are created and destroyed per
// run, so host identities never stabilise.
type SSH struct {
	// Inner executes the generated ssh invocation, normally a *Shell.
	Inner Gateway
	// User is the remote login user.
	User string
	// Host is the address of the remote instance.
	Host string
	// KeyPath is the private key presented to the remote host.
	KeyPath string
}

// NewSSH creates a gateway that runs commands on host as DefaultSSHUser.
func NewSSH(inner Gateway, host, keyPath string) *SSH {
	return &SSH{
		Inner:   inner,
		User:    DefaultSSHUser,
		Host:    host,
		KeyPath: keyPath,
	}
}

// Execute wraps command in an ssh invocation and runs it through the inner
// gateway. The remote side gets a login shell so PATH matches an interactive
// session. workingDir applies to the local ssh process, not the remote shell.
func (s *SSH) Execute(command, workingDir string) Result {
	remote := fmt.Sprintf(
		"ssh -o UserKnownHostsFile=/dev/null -o LogLevel=quiet -o StrictHostKeyChecking=no -i %s %s@%s \"bash --login -c '%s'\"",
		s.KeyPath, s.User, s.Host, command)
	return s.Inner.Execute(remote, workingDir)
}
