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

package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/topo/context"
	"github.com/lf-edge/barrierflow/pkg/api"
)

func TestIdentityMap(t *testing.T) {
	ctx := context.Background().WithMeta("rule1", "map")
	r := &api.Record{Source: 1, Seq: 1}
	result, err := IdentityMap{}.Apply(ctx, r)
	require.NoError(t, err)
	assert.Same(t, r, result)
	_, err = IdentityMap{}.Apply(ctx, r)
	require.NoError(t, err)
	c, err := ctx.GetCounter(ProcessedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c)

	_, err = IdentityMap{}.Apply(context.Background(), r)
	assert.Error(t, err)
}
