// Copyright 2021-2024 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lf-edge/barrierflow/internal/conf"
)

// CheckpointStat reports the checkpoint metrics of a rule. All methods are no-op if prometheus is disabled.
type CheckpointStat struct {
	triggered prometheus.Counter
	completed prometheus.Counter
	aborted   prometheus.Counter
	rejected  prometheus.Counter
	duration  prometheus.Observer
	group     *CheckpointGroup
	ruleId    string
}

func NewCheckpointStat(ruleId string) *CheckpointStat {
	if conf.Config == nil || !conf.Config.Basic.Prometheus {
		return &CheckpointStat{ruleId: ruleId}
	}
	g := GetPrometheusMetrics().GetCheckpointGroup()
	return &CheckpointStat{
		triggered: g.Triggered.WithLabelValues(ruleId),
		completed: g.Completed.WithLabelValues(ruleId),
		aborted:   g.Aborted.WithLabelValues(ruleId),
		rejected:  g.Rejected.WithLabelValues(ruleId),
		duration:  g.Duration.WithLabelValues(ruleId),
		group:     g,
		ruleId:    ruleId,
	}
}

func (s *CheckpointStat) IncTriggered() {
	if s.triggered != nil {
		s.triggered.Inc()
	}
}

func (s *CheckpointStat) IncCompleted(d time.Duration) {
	if s.completed != nil {
		s.completed.Inc()
		s.duration.Observe(float64(d.Milliseconds()))
	}
}

func (s *CheckpointStat) IncAborted() {
	if s.aborted != nil {
		s.aborted.Inc()
	}
}

func (s *CheckpointStat) IncRejected() {
	if s.rejected != nil {
		s.rejected.Inc()
	}
}

func (s *CheckpointStat) IncFallback(opId string, instanceId int) {
	if s.group != nil {
		s.group.Fallbacks.WithLabelValues(s.ruleId, opId, strconv.Itoa(instanceId)).Inc()
	}
}

func (s *CheckpointStat) AddInFlight(opId string, instanceId int, n int) {
	if s.group != nil && n > 0 {
		s.group.InFlightCaptured.WithLabelValues(s.ruleId, opId, strconv.Itoa(instanceId)).Add(float64(n))
	}
}
