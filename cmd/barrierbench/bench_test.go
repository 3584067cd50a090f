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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/conf"
)

func smallConf() *conf.BarrierConf {
	c := conf.Default()
	c.Bench.NumVertices = 2
	c.Bench.Parallelism = 2
	c.Bench.NumFinishedCheckpoints = 2
	c.Bench.SinkDelay = 100
	c.Bench.BufferLength = 8
	c.Store.Type = "memory"
	return c
}

func TestRunModes(t *testing.T) {
	results, err := runModes(smallConf(), []string{"0", "ALIGNED"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, m := range []string{"0", "ALIGNED"} {
		r := results[i]
		assert.Equal(t, m, r.Mode)
		assert.Equal(t, 2, r.Completed)
		assert.NotEmpty(t, r.RunId)
		require.NotNil(t, r.LatestCut)
		assert.True(t, r.Consistent, r.LatestCut.String())
		assert.Greater(t, r.Checkpoints, 0.0)
	}
	assert.NotEqual(t, results[0].RunId, results[1].RunId)
}

func TestRunInvalid(t *testing.T) {
	c := smallConf()
	c.Bench.Mode = "fast"
	_, err := runOnce(c)
	assert.Error(t, err)
}

func TestPrometheusDisabled(t *testing.T) {
	stop := startPrometheus(&conf.BasicConf{})
	stop()
}
