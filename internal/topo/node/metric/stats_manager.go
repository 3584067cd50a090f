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
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/pkg/api"
)

const (
	RecordsInTotal   = "records_in_total"
	RecordsOutTotal  = "records_out_total"
	ProcessLatencyUs = "process_latency_us"
	LastInvocation   = "last_invocation"
	BufferLength     = "buffer_length"
	ExceptionsTotal  = "exceptions_total"

	CheckpointsTriggered    = "triggered_total"
	CheckpointsCompleted    = "completed_total"
	CheckpointsAborted      = "aborted_total"
	CheckpointsRejected     = "rejected_total"
	CheckpointDurationMs    = "duration_ms"
	AlignmentFallbacks      = "alignment_fallbacks_total"
	InFlightRecordsCaptured = "inflight_records_captured_total"
)

var MetricNames = []string{RecordsInTotal, RecordsOutTotal, ExceptionsTotal, ProcessLatencyUs, BufferLength, LastInvocation}

type StatManager interface {
	IncTotalRecordsIn()
	IncTotalRecordsOut()
	IncTotalExceptions()
	ProcessTimeStart()
	ProcessTimeEnd()
	SetBufferLength(l int64)
	GetMetrics() []any
}

// DefaultStatManager is read by the metric collectors while the task updates it
type DefaultStatManager struct {
	sync.Mutex
	// metrics
	totalRecordsIn  int64
	totalRecordsOut int64
	totalExceptions int64
	processLatency  int64
	lastInvocation  time.Time
	bufferLength    int64
	// configs
	opType           string // "source", "op", "sink"
	prefix           string
	processTimeStart time.Time
	opId             string
	instanceId       int
}

type PrometheusStatManager struct {
	*DefaultStatManager
	// prometheus metrics
	pTotalRecordsIn  prometheus.Counter
	pTotalRecordsOut prometheus.Counter
	pTotalExceptions prometheus.Counter
	pProcessLatency  prometheus.Gauge
	pBufferLength    prometheus.Gauge
}

func NewStatManager(opType string, ctx api.StreamContext) (StatManager, error) {
	var prefix string
	switch opType {
	case "source":
		prefix = "source_"
	case "op":
		prefix = "op_"
	case "sink":
		prefix = "sink_"
	default:
		return nil, fmt.Errorf("invalid opType %s, must be \"source\", \"sink\" or \"op\"", opType)
	}
	dsm := &DefaultStatManager{
		opType:     opType,
		prefix:     prefix,
		opId:       ctx.GetOpId(),
		instanceId: ctx.GetInstanceId(),
	}
	if conf.Config == nil || !conf.Config.Basic.Prometheus {
		return dsm, nil
	}
	ctx.GetLogger().Debugf("Create prometheus stat manager")
	mg := GetPrometheusMetrics().GetMetricsGroup(opType)
	strInId := strconv.Itoa(ctx.GetInstanceId())
	return &PrometheusStatManager{
		DefaultStatManager: dsm,
		pTotalRecordsIn:    mg.TotalRecordsIn.WithLabelValues(ctx.GetRuleId(), opType, ctx.GetOpId(), strInId),
		pTotalRecordsOut:   mg.TotalRecordsOut.WithLabelValues(ctx.GetRuleId(), opType, ctx.GetOpId(), strInId),
		pTotalExceptions:   mg.TotalExceptions.WithLabelValues(ctx.GetRuleId(), opType, ctx.GetOpId(), strInId),
		pProcessLatency:    mg.ProcessLatency.WithLabelValues(ctx.GetRuleId(), opType, ctx.GetOpId(), strInId),
		pBufferLength:      mg.BufferLength.WithLabelValues(ctx.GetRuleId(), opType, ctx.GetOpId(), strInId),
	}, nil
}

func (sm *DefaultStatManager) IncTotalRecordsIn() {
	sm.Lock()
	sm.totalRecordsIn++
	sm.Unlock()
}

func (sm *DefaultStatManager) IncTotalRecordsOut() {
	sm.Lock()
	sm.totalRecordsOut++
	sm.Unlock()
}

func (sm *DefaultStatManager) IncTotalExceptions() {
	sm.Lock()
	sm.totalExceptions++
	var t time.Time
	sm.processTimeStart = t
	sm.Unlock()
}

func (sm *DefaultStatManager) ProcessTimeStart() {
	sm.Lock()
	sm.lastInvocation = time.Now()
	sm.processTimeStart = sm.lastInvocation
	sm.Unlock()
}

func (sm *DefaultStatManager) ProcessTimeEnd() {
	sm.Lock()
	sm.processTimeEnd()
	sm.Unlock()
}

func (sm *DefaultStatManager) processTimeEnd() {
	if !sm.processTimeStart.IsZero() {
		sm.processLatency = int64(time.Since(sm.processTimeStart) / time.Microsecond)
	}
}

func (sm *DefaultStatManager) SetBufferLength(l int64) {
	sm.Lock()
	sm.bufferLength = l
	sm.Unlock()
}

func (sm *DefaultStatManager) GetMetrics() []any {
	sm.Lock()
	defer sm.Unlock()
	result := []any{
		sm.totalRecordsIn, sm.totalRecordsOut, sm.totalExceptions, sm.processLatency, sm.bufferLength,
	}
	if !sm.lastInvocation.IsZero() {
		result = append(result, sm.lastInvocation.Format("2006-01-02T15:04:05.999999"))
	} else {
		result = append(result, 0)
	}
	return result
}

func (sm *PrometheusStatManager) IncTotalRecordsIn() {
	sm.DefaultStatManager.IncTotalRecordsIn()
	sm.pTotalRecordsIn.Inc()
}

func (sm *PrometheusStatManager) IncTotalRecordsOut() {
	sm.DefaultStatManager.IncTotalRecordsOut()
	sm.pTotalRecordsOut.Inc()
}

func (sm *PrometheusStatManager) IncTotalExceptions() {
	sm.DefaultStatManager.IncTotalExceptions()
	sm.pTotalExceptions.Inc()
}

func (sm *PrometheusStatManager) ProcessTimeEnd() {
	sm.Lock()
	sm.processTimeEnd()
	l := sm.processLatency
	sm.Unlock()
	sm.pProcessLatency.Set(float64(l))
}

func (sm *PrometheusStatManager) SetBufferLength(l int64) {
	sm.DefaultStatManager.SetBufferLength(l)
	sm.pBufferLength.Set(float64(l))
}
