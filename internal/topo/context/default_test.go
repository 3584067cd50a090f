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

package context

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState(t *testing.T) {
	ctx := Background().WithMeta("testStateRule", "op1").(*DefaultContext)
	require.NoError(t, ctx.IncrCounter("key1", 20))
	require.NoError(t, ctx.IncrCounter("key1", 1))
	v, err := ctx.GetCounter("key1")
	require.NoError(t, err)
	assert.Equal(t, int64(21), v)
	v, err = ctx.GetCounter("notexist")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	require.NoError(t, ctx.PutState("key2", 5))
	s := ctx.Snapshot()
	assert.Equal(t, map[string]int64{"key1": 21, "key2": 5}, s)
	// snapshot is a copy
	require.NoError(t, ctx.IncrCounter("key2", 1))
	assert.Equal(t, int64(5), s["key2"])

	ctx.state.Store("bad", "str")
	assert.Error(t, ctx.IncrCounter("bad", 1))
	_, err = ctx.GetCounter("bad")
	assert.Error(t, err)
}

func TestStateNotInitialized(t *testing.T) {
	ctx := Background()
	assert.Error(t, ctx.IncrCounter("a", 1))
	_, err := ctx.GetCounter("a")
	assert.Error(t, err)
	assert.Error(t, ctx.PutState("a", 1))
	assert.Empty(t, ctx.Snapshot())
}

func TestMeta(t *testing.T) {
	ctx := Background().WithMeta("rule1", "map_1")
	ictx := ctx.WithInstance(2)
	assert.Equal(t, "rule1", ictx.GetRuleId())
	assert.Equal(t, "map_1", ictx.GetOpId())
	assert.Equal(t, 2, ictx.GetInstanceId())
	l, ok := ictx.GetLogger().(*logrus.Entry)
	require.True(t, ok)
	assert.Equal(t, logrus.Fields{"rule": "rule1", "op": "map_1", "instance": 2}, l.Data)
	// instances do not share state
	require.NoError(t, ctx.IncrCounter("c", 1))
	v, err := ictx.GetCounter("c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	cctx, cancel := ictx.WithCancel()
	require.NoError(t, cctx.IncrCounter("c", 3))
	v, err = ictx.GetCounter("c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	cancel()
	<-cctx.Done()
	assert.Error(t, cctx.Err())
	assert.NoError(t, ictx.Err())
}
