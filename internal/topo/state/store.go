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
	"fmt"
	"sort"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/pkg/errorx"
)

// Store is the snapshot sink of a job. All methods are safe for concurrent use.
// Persist is called by the tasks, the others by the coordinator.
type Store interface {
	// Persist saves the sealed snapshot of a task synchronously and returns its handle
	Persist(taskId string, checkpointId int64, data []byte) (string, error)
	// Load reads back all task snapshots of a completed checkpoint keyed by task id
	Load(checkpointId int64) (map[string][]byte, error)
	// Complete marks the checkpoint completed. Incomplete checkpoints before it are subsumed and purged,
	// completed ones are kept up to the retained number
	Complete(checkpointId int64) error
	// Discard drops the partial snapshots of an aborted checkpoint
	Discard(checkpointId int64) error
	// Checkpoints lists the retained completed checkpoints in ascending order
	Checkpoints() ([]int64, error)
	Close() error
}

const defaultRetained = 3

func CreateStore(ruleId string, c *conf.StoreConf, retained int) (Store, error) {
	if retained <= 0 {
		retained = defaultRetained
	}
	switch c.Type {
	case "", "memory":
		return NewMemoryStore(ruleId, retained), nil
	case "sqlite":
		return NewSqliteStore(ruleId, &c.Sqlite, retained)
	case "redis":
		return NewRedisStore(ruleId, &c.Redis, retained)
	default:
		return nil, fmt.Errorf("unknown store type %s", c.Type)
	}
}

func handle(typ, ruleId string, checkpointId int64, taskId string) string {
	return fmt.Sprintf("%s://%s/%d/%s", typ, ruleId, checkpointId, taskId)
}

func notCompleted(checkpointId int64) error {
	return errorx.NewWithCode(errorx.NOT_FOUND, fmt.Sprintf("checkpoint %d is not completed", checkpointId))
}

// retain adds id to the sorted completed list and returns the new list and the evicted ids
func retain(completed []int64, id int64, max int) ([]int64, []int64) {
	i := sort.Search(len(completed), func(i int) bool { return completed[i] >= id })
	if i < len(completed) && completed[i] == id {
		return completed, nil
	}
	completed = append(completed, 0)
	copy(completed[i+1:], completed[i:])
	completed[i] = id
	if len(completed) <= max {
		return completed, nil
	}
	n := len(completed) - max
	evicted := append([]int64{}, completed[:n]...)
	return append([]int64{}, completed[n:]...), evicted
}

func contains(completed []int64, id int64) bool {
	i := sort.Search(len(completed), func(i int) bool { return completed[i] >= id })
	return i < len(completed) && completed[i] == id
}
