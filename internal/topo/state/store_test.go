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

package state

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/pkg/errorx"
)

func testStore(t *testing.T, s Store, typ string) {
	h, err := s.Persist("src_0", 1, []byte("a1"))
	require.NoError(t, err)
	assert.Equal(t, typ+"://rule1/1/src_0", h)
	_, err = s.Persist("sink_0", 1, []byte("b1"))
	require.NoError(t, err)
	// not completed yet
	_, err = s.Load(1)
	require.Error(t, err)
	c, ok := errorx.GetErrorCode(err)
	assert.True(t, ok)
	assert.Equal(t, errorx.NOT_FOUND, c)

	require.NoError(t, s.Complete(1))
	m, err := s.Load(1)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"src_0": []byte("a1"), "sink_0": []byte("b1")}, m)

	// 2 is aborted, 3 is subsumed by 4
	_, err = s.Persist("src_0", 2, []byte("a2"))
	require.NoError(t, err)
	require.NoError(t, s.Discard(2))
	_, err = s.Persist("src_0", 3, []byte("a3"))
	require.NoError(t, err)
	_, err = s.Persist("src_0", 4, []byte("a4"))
	require.NoError(t, err)
	require.NoError(t, s.Complete(4))
	require.NoError(t, s.Complete(3))
	cps, err := s.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, cps)

	// discard never drops a completed checkpoint
	require.NoError(t, s.Discard(4))
	m, err = s.Load(4)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"src_0": []byte("a4")}, m)

	// retained 3
	_, err = s.Persist("src_0", 5, []byte("a5"))
	require.NoError(t, err)
	require.NoError(t, s.Complete(5))
	cps, err = s.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, cps)
	_, err = s.Load(1)
	assert.Error(t, err)
	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	s, err := CreateStore("rule1", &conf.StoreConf{Type: "memory"}, 3)
	require.NoError(t, err)
	testStore(t, s, "memory")
}

func TestMemoryStorePurge(t *testing.T) {
	s := NewMemoryStore("rule1", 1)
	_, _ = s.Persist("t", 1, []byte("1"))
	_, _ = s.Persist("t", 2, []byte("2"))
	_, _ = s.Persist("t", 3, []byte("3"))
	require.NoError(t, s.Complete(2))
	assert.Len(t, s.snapshots, 2)
	require.NoError(t, s.Complete(3))
	assert.Len(t, s.snapshots, 1)
	_, ok := s.snapshots[3]
	assert.True(t, ok)
}

func TestSqliteStore(t *testing.T) {
	s, err := CreateStore("rule1", &conf.StoreConf{Type: "sqlite", Sqlite: conf.SqliteConf{Path: t.TempDir()}}, 3)
	require.NoError(t, err)
	testStore(t, s, "sqlite")
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	s, err := CreateStore("rule1", &conf.StoreConf{Type: "redis", Redis: conf.RedisConf{Addr: mr.Addr(), Timeout: 1000}}, 3)
	require.NoError(t, err)
	testStore(t, s, "redis")
}

func TestRedisStoreReset(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	c := &conf.RedisConf{Addr: mr.Addr(), Timeout: 1000}
	s, err := NewRedisStore("rule2", c, 3)
	require.NoError(t, err)
	for i := int64(1); i <= 2; i++ {
		_, err = s.Persist("t", i, []byte(strconv.FormatInt(i, 10)))
		require.NoError(t, err)
	}
	require.NoError(t, s.Complete(2))
	assert.False(t, mr.Exists(s.key(1)))
	assert.True(t, mr.Exists(s.key(2)))
	require.NoError(t, s.Close())
	// a new store of the same rule starts empty
	s, err = NewRedisStore("rule2", c, 3)
	require.NoError(t, err)
	cps, err := s.Checkpoints()
	require.NoError(t, err)
	assert.Empty(t, cps)
	require.NoError(t, s.Close())
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisStore("rule3", &conf.RedisConf{Addr: addr, Timeout: 50}, 3)
	assert.Error(t, err)
}

func TestCreateStoreUnknown(t *testing.T) {
	_, err := CreateStore("rule1", &conf.StoreConf{Type: "badger"}, 3)
	assert.EqualError(t, err, "unknown store type badger")
}
