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
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/lf-edge/barrierflow/pkg/api"
)

type Mode int

const (
	Aligned Mode = iota
	Unaligned
)

func (m Mode) String() string {
	if m == Unaligned {
		return "unaligned"
	}
	return "aligned"
}

// Barrier is immutable once injected.
// AlignmentTimeout only matters for an aligned barrier. 0 means the task never falls back.
type Barrier struct {
	CheckpointId     int64
	OpId             string
	Mode             Mode
	AlignmentTimeout time.Duration
}

func (b *Barrier) String() string {
	return fmt.Sprintf("barrier(%d, %s, %s, %v)", b.CheckpointId, b.OpId, b.Mode, b.AlignmentTimeout)
}

// forward returns the copy sent to the downstream tasks of op
func (b *Barrier) forward(op string) *Barrier {
	return &Barrier{
		CheckpointId:     b.CheckpointId,
		OpId:             op,
		Mode:             b.Mode,
		AlignmentTimeout: b.AlignmentTimeout,
	}
}

type Message int

const (
	STOP Message = iota
	ACK
	DEC
	TRIGGER
)

type Signal struct {
	Message Message
	Barrier
	// Handle of the persisted snapshot for ACK
	Handle string
	// Reason of DEC
	Reason error
	reply  chan triggerResult
}

type triggerResult struct {
	checkpointId int64
	err          error
}

type StreamTask interface {
	// Broadcast sends the barrier to every output in a fixed order
	Broadcast(b *Barrier) error
	GetName() string
	GetStreamContext() api.StreamContext
	// Snapshot returns a copy of the operator state
	Snapshot() (map[string]int64, error)
}

type NonSourceTask interface {
	StreamTask
	GetInputs() []InputChannel
	SetBarrierHandler(BarrierHandler)
}

// SourceTask hosts the barrier injector. InjectBarrier must not block, the barrier is emitted by the task itself
type SourceTask interface {
	StreamTask
	InjectBarrier(b *Barrier) error
	SetResponder(r Responder)
}

type CheckpointListener interface {
	NotifyCheckpointComplete(checkpointId int64)
	NotifyCheckpointAborted(checkpointId int64)
}

// InputChannel is the consumer view of an input used to capture in-flight records
type InputChannel interface {
	GetName() string
	// InFlight returns the buffered records after seq and ahead of barrier(checkpointId), the sequence of the last
	// scanned entry and whether the barrier was found in the buffer
	InFlight(checkpointId int64, after uint64) ([]*api.Record, uint64, bool)
}

// TaskSnapshotState is the local snapshot of one task for one checkpoint
type TaskSnapshotState struct {
	TaskId        string                   `cbor:"1,keyasint"`
	CheckpointId  int64                    `cbor:"2,keyasint"`
	Unaligned     bool                     `cbor:"3,keyasint"`
	OperatorState map[string]int64         `cbor:"4,keyasint,omitempty"`
	ChannelState  map[string][]*api.Record `cbor:"5,keyasint,omitempty"`
	sealed        bool
}

func NewTaskSnapshotState(taskId string, checkpointId int64, operatorState map[string]int64) *TaskSnapshotState {
	return &TaskSnapshotState{
		TaskId:        taskId,
		CheckpointId:  checkpointId,
		OperatorState: operatorState,
	}
}

func (s *TaskSnapshotState) AddInFlight(channel string, records ...*api.Record) {
	if s.sealed {
		panic(fmt.Sprintf("add in-flight records to sealed snapshot %d of %s", s.CheckpointId, s.TaskId))
	}
	if len(records) == 0 {
		return
	}
	if s.ChannelState == nil {
		s.ChannelState = make(map[string][]*api.Record)
	}
	s.ChannelState[channel] = append(s.ChannelState[channel], records...)
}

func (s *TaskSnapshotState) InFlightCount() int {
	n := 0
	for _, rs := range s.ChannelState {
		n += len(rs)
	}
	return n
}

func (s *TaskSnapshotState) Seal() {
	s.sealed = true
}

func (s *TaskSnapshotState) IsSealed() bool {
	return s.sealed
}

func (s *TaskSnapshotState) Encode() ([]byte, error) {
	return cbor.Marshal(s)
}

func DecodeSnapshot(data []byte) (*TaskSnapshotState, error) {
	s := &TaskSnapshotState{}
	if err := cbor.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode snapshot error: %v", err)
	}
	s.sealed = true
	return s, nil
}
