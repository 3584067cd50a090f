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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheuseMetrics *PrometheusMetrics
	mutex              sync.RWMutex
)

func GetPrometheusMetrics() *PrometheusMetrics {
	mutex.Lock()
	if prometheuseMetrics == nil {
		prometheuseMetrics = newPrometheusMetrics()
	}
	mutex.Unlock()
	return prometheuseMetrics
}

type MetricGroup struct {
	TotalRecordsIn  *prometheus.CounterVec
	TotalRecordsOut *prometheus.CounterVec
	TotalExceptions *prometheus.CounterVec
	ProcessLatency  *prometheus.GaugeVec
	BufferLength    *prometheus.GaugeVec
}

type CheckpointGroup struct {
	Triggered        *prometheus.CounterVec
	Completed        *prometheus.CounterVec
	Aborted          *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	Fallbacks        *prometheus.CounterVec
	InFlightCaptured *prometheus.CounterVec
}

type PrometheusMetrics struct {
	vecs       []*MetricGroup
	checkpoint *CheckpointGroup
}

func newPrometheusMetrics() *PrometheusMetrics {
	var (
		labelNames = []string{"rule", "type", "op", "instance"}
		prefixes   = []string{"barrierflow_source", "barrierflow_op", "barrierflow_sink"}
	)
	var vecs []*MetricGroup
	for _, prefix := range prefixes {
		totalRecordsIn := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_" + RecordsInTotal,
			Help: "Total number of records received by the operation of " + prefix,
		}, labelNames)
		totalRecordsOut := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_" + RecordsOutTotal,
			Help: "Total number of records published by the operation of " + prefix,
		}, labelNames)
		totalExceptions := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_" + ExceptionsTotal,
			Help: "Total number of user exceptions of " + prefix,
		}, labelNames)
		processLatency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_" + ProcessLatencyUs,
			Help: "Process latency in microsecond of " + prefix,
		}, labelNames)
		bufferLength := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_" + BufferLength,
			Help: "The total buffered entries of the input channels of " + prefix,
		}, labelNames)
		prometheus.MustRegister(totalRecordsIn, totalRecordsOut, totalExceptions, processLatency, bufferLength)
		vecs = append(vecs, &MetricGroup{
			TotalRecordsIn:  totalRecordsIn,
			TotalRecordsOut: totalRecordsOut,
			TotalExceptions: totalExceptions,
			ProcessLatency:  processLatency,
			BufferLength:    bufferLength,
		})
	}
	ruleLabel := []string{"rule"}
	taskLabels := []string{"rule", "op", "instance"}
	cg := &CheckpointGroup{
		Triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + CheckpointsTriggered,
			Help: "Total number of triggered checkpoints",
		}, ruleLabel),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + CheckpointsCompleted,
			Help: "Total number of completed checkpoints",
		}, ruleLabel),
		Aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + CheckpointsAborted,
			Help: "Total number of aborted or subsumed checkpoints",
		}, ruleLabel),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + CheckpointsRejected,
			Help: "Total number of triggers rejected by the concurrency limit",
		}, ruleLabel),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "barrierflow_checkpoint_" + CheckpointDurationMs,
			Help:    "Duration from trigger to completion in millisecond",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, ruleLabel),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + AlignmentFallbacks,
			Help: "Total number of aligned checkpoints which timed out and fell back to unaligned",
		}, taskLabels),
		InFlightCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barrierflow_checkpoint_" + InFlightRecordsCaptured,
			Help: "Total number of in-flight records captured in unaligned snapshots",
		}, taskLabels),
	}
	prometheus.MustRegister(cg.Triggered, cg.Completed, cg.Aborted, cg.Rejected, cg.Duration, cg.Fallbacks, cg.InFlightCaptured)
	return &PrometheusMetrics{vecs: vecs, checkpoint: cg}
}

func (m *PrometheusMetrics) GetMetricsGroup(opType string) *MetricGroup {
	switch opType {
	case "source":
		return m.vecs[0]
	case "op":
		return m.vecs[1]
	case "sink":
		return m.vecs[2]
	}
	return nil
}

func (m *PrometheusMetrics) GetCheckpointGroup() *CheckpointGroup {
	return m.checkpoint
}
