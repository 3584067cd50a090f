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

package checkpoint

import (
	"fmt"

	"github.com/pingcap/failpoint"

	"github.com/lf-edge/barrierflow/internal/topo/node/metric"
	"github.com/lf-edge/barrierflow/internal/topo/state"
	"github.com/lf-edge/barrierflow/pkg/errorx"
)

// Responder runs the task side of a checkpoint. All methods are called by the task under its checkpoint lock.
type Responder interface {
	GetName() string
	// TriggerCheckpoint forwards the barrier to the outputs and snapshots the operator state
	TriggerCheckpoint(b *Barrier) (*TaskSnapshotState, error)
	// Seal persists the snapshot and acknowledges it to the coordinator
	Seal(s *TaskSnapshotState) error
	// Decline reports the checkpoint as failed in this task
	Decline(checkpointId int64, reason error)
}

// Acknowledger receives the checkpoint results of the tasks. It is implemented by the coordinator.
type Acknowledger interface {
	Acknowledge(taskId string, checkpointId int64, handle string)
	ReportFailure(taskId string, checkpointId int64, reason error)
}

type ResponderExecutor struct {
	coordinator Acknowledger
	task        StreamTask
	store       state.Store
	stat        *metric.CheckpointStat
}

func NewResponderExecutor(coordinator Acknowledger, task StreamTask, store state.Store, stat *metric.CheckpointStat) *ResponderExecutor {
	return &ResponderExecutor{
		coordinator: coordinator,
		task:        task,
		store:       store,
		stat:        stat,
	}
}

func (re *ResponderExecutor) GetName() string {
	return re.task.GetName()
}

func (re *ResponderExecutor) TriggerCheckpoint(b *Barrier) (*TaskSnapshotState, error) {
	name := re.GetName()
	ctx := re.task.GetStreamContext()
	ctx.GetLogger().Debugf("Starting checkpoint %d on task %s", b.CheckpointId, name)
	// broadcast barrier
	if err := re.task.Broadcast(b.forward(name)); err != nil {
		return nil, fmt.Errorf("broadcast barrier %d error: %v", b.CheckpointId, err)
	}
	s, err := re.task.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot operator state error: %v", err)
	}
	return NewTaskSnapshotState(name, b.CheckpointId, s), nil
}

func (re *ResponderExecutor) Seal(s *TaskSnapshotState) error {
	name := re.GetName()
	ctx := re.task.GetStreamContext()
	logger := ctx.GetLogger()
	s.Seal()
	if s.Unaligned {
		re.stat.AddInFlight(ctx.GetOpId(), ctx.GetInstanceId(), s.InFlightCount())
	}
	data, err := s.Encode()
	if err != nil {
		re.Decline(s.CheckpointId, err)
		return err
	}
	var h string
	h, err = re.store.Persist(name, s.CheckpointId, data)
	failpoint.Inject("persistSnapshotErr", func() {
		err = errorx.NewIOErr("persistSnapshotErr")
	})
	if err != nil {
		logger.Infof("save checkpoint %d error %s", s.CheckpointId, err)
		re.Decline(s.CheckpointId, err)
		return err
	}
	logger.Debugf("Complete checkpoint %d on task %s with %d in-flight records", s.CheckpointId, name, s.InFlightCount())
	re.coordinator.Acknowledge(name, s.CheckpointId, h)
	return nil
}

func (re *ResponderExecutor) Decline(checkpointId int64, reason error) {
	re.task.GetStreamContext().GetLogger().Infof("Decline checkpoint %d on task %s: %v", checkpointId, re.GetName(), reason)
	re.coordinator.ReportFailure(re.GetName(), checkpointId, reason)
}
