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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/internal/topo/context"
)

func TestGetMetrics(t *testing.T) {
	ctx := context.Background().WithMeta("rule1", "op1")
	sm, err := NewStatManager("op", ctx)
	require.NoError(t, err)
	sm.ProcessTimeStart()
	sm.IncTotalRecordsIn()
	sm.IncTotalRecordsOut()
	sm.ProcessTimeEnd()
	sm.SetBufferLength(20)
	a := sm.GetMetrics()
	require.Len(t, a, 6)
	assert.Equal(t, []any{int64(1), int64(1), int64(0)}, a[:3])
	assert.Equal(t, int64(20), a[4])
	assert.NotEqual(t, 0, a[5])

	_, err = NewStatManager("window", ctx)
	assert.Error(t, err)
}

func TestPrometheusStat(t *testing.T) {
	conf.Config.Basic.Prometheus = true
	defer func() {
		conf.Config.Basic.Prometheus = false
	}()
	ctx := context.Background().WithMeta("promRule", "sink").WithInstance(1)
	sm, err := NewStatManager("sink", ctx)
	require.NoError(t, err)
	psm, ok := sm.(*PrometheusStatManager)
	require.True(t, ok)
	psm.IncTotalRecordsIn()
	psm.IncTotalRecordsIn()
	psm.IncTotalExceptions()
	psm.SetBufferLength(7)
	assert.Equal(t, float64(2), value(t, psm.pTotalRecordsIn))
	assert.Equal(t, float64(1), value(t, psm.pTotalExceptions))
	assert.Equal(t, float64(7), value(t, psm.pBufferLength))

	cs := NewCheckpointStat("promRule")
	cs.IncTriggered()
	cs.IncCompleted(0)
	cs.IncRejected()
	cs.IncFallback("map_1", 0)
	cs.AddInFlight("map_1", 0, 3)
	g := GetPrometheusMetrics().GetCheckpointGroup()
	assert.Equal(t, float64(1), value(t, g.Triggered.WithLabelValues("promRule")))
	assert.Equal(t, float64(1), value(t, g.Rejected.WithLabelValues("promRule")))
	assert.Equal(t, float64(1), value(t, g.Fallbacks.WithLabelValues("promRule", "map_1", "0")))
	assert.Equal(t, float64(3), value(t, g.InFlightCaptured.WithLabelValues("promRule", "map_1", "0")))
}

func TestCheckpointStatDisabled(t *testing.T) {
	cs := NewCheckpointStat("noProm")
	assert.NotPanics(t, func() {
		cs.IncTriggered()
		cs.IncCompleted(0)
		cs.IncAborted()
		cs.IncRejected()
		cs.IncFallback("op", 0)
		cs.AddInFlight("op", 0, 1)
	})
}

func value(t *testing.T, m prometheus.Metric) float64 {
	d := &dto.Metric{}
	require.NoError(t, m.Write(d))
	switch {
	case d.Counter != nil:
		return d.Counter.GetValue()
	case d.Gauge != nil:
		return d.Gauge.GetValue()
	}
	return 0
}
