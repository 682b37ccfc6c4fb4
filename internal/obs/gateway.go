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

package obs

import (
	"time"

	"github.com/oracle/oci-flexvolume-driver-systest/pkg/gateway"
)

// InstrumentGateway wraps gw so every command lands in m. The gateway is the
// single chokepoint all remote interaction flows through, which makes it the
// one place instrumentation catches everything.
func InstrumentGateway(gw gateway.Gateway, m *Metrics) gateway.Gateway {
	return &instrumentedGateway{gw: gw, metrics: m}
}

type instrumentedGateway struct {
	gw      gateway.Gateway
	metrics *Metrics
}

func (g *instrumentedGateway) Execute(command, workingDir string) gateway.Result {
	start := time.Now()
	res := g.gw.Execute(command, workingDir)
	g.metrics.CommandSeconds.Observe(time.Since(start).Seconds())
	outcome := OutcomeSuccess
	if !res.Succeeded() {
		outcome = OutcomeFailure
	}
	g.metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	return res
}
