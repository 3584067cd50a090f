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
	"sort"
	"time"

	"github.com/lf-edge/barrierflow/internal/topo/node/metric"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/errorx"
	"github.com/lf-edge/barrierflow/pkg/timex"
)

// BarrierHandler is owned by a task with inputs. All methods are called under the checkpoint lock of the task.
// Inputs are identified by their index in the task input list.
type BarrierHandler interface {
	ProcessBarrier(ctx api.StreamContext, input int, b *Barrier)
	// ProcessRecord is called for every record before the task processes it
	ProcessRecord(ctx api.StreamContext, input int, seq uint64, r *api.Record)
	// IsBlocked tells whether the task must stop polling the input
	IsBlocked(input int) bool
	// IsPriority tells whether the barrier is processed as soon as it is buffered, overtaking the records ahead of it
	IsPriority(b *Barrier) bool
	InputClosed(ctx api.StreamContext, input int)
	// CheckTimeout runs the fallback of the alignments whose deadline has passed
	CheckTimeout(ctx api.StreamContext)
	NextDeadline() (time.Time, bool)
	Abort(ctx api.StreamContext, checkpointId int64)
}

// BarrierTracker is for qos 1, simply track barriers without blocking any input
type BarrierTracker struct {
	responder          Responder
	inputCount         int
	pendingCheckpoints map[int64]int
	latest             int64
	closed             int
}

func NewBarrierTracker(responder Responder, inputCount int) *BarrierTracker {
	return &BarrierTracker{
		responder:          responder,
		inputCount:         inputCount,
		pendingCheckpoints: make(map[int64]int),
	}
}

func (h *BarrierTracker) ProcessBarrier(ctx api.StreamContext, _ int, b *Barrier) {
	if b.CheckpointId <= h.latest {
		return
	}
	c, ok := h.pendingCheckpoints[b.CheckpointId]
	if !ok && h.closed > 0 {
		h.latest = b.CheckpointId
		h.responder.Decline(b.CheckpointId, errorx.NewAlignmentFailure(b.CheckpointId, fmt.Sprintf("%d inputs are closed", h.closed)))
		return
	}
	c++
	if c < h.inputCount {
		h.pendingCheckpoints[b.CheckpointId] = c
		return
	}
	delete(h.pendingCheckpoints, b.CheckpointId)
	for cid := range h.pendingCheckpoints {
		if cid < b.CheckpointId {
			delete(h.pendingCheckpoints, cid)
		}
	}
	h.latest = b.CheckpointId
	s, err := h.responder.TriggerCheckpoint(b)
	if err != nil {
		ctx.GetLogger().Errorf("trigger checkpoint for %s err: %s", h.responder.GetName(), err)
		h.responder.Decline(b.CheckpointId, err)
		return
	}
	_ = h.responder.Seal(s)
}

func (h *BarrierTracker) ProcessRecord(api.StreamContext, int, uint64, *api.Record) {}

func (h *BarrierTracker) IsBlocked(int) bool {
	return false
}

func (h *BarrierTracker) IsPriority(*Barrier) bool {
	return false
}

func (h *BarrierTracker) InputClosed(_ api.StreamContext, _ int) {
	h.closed++
	for cid := range h.pendingCheckpoints {
		h.responder.Decline(cid, errorx.NewAlignmentFailure(cid, "input closed before the barrier"))
		delete(h.pendingCheckpoints, cid)
		if cid > h.latest {
			h.latest = cid
		}
	}
}

func (h *BarrierTracker) CheckTimeout(api.StreamContext) {}

func (h *BarrierTracker) NextDeadline() (time.Time, bool) {
	return time.Time{}, false
}

func (h *BarrierTracker) Abort(_ api.StreamContext, checkpointId int64) {
	delete(h.pendingCheckpoints, checkpointId)
}

type AlignState int

const (
	StateIdle AlignState = iota
	StateCollecting
	StateAligned
	StateSnapshotting
	StateAcked
	// StateCapturing is after an unaligned snapshot while waiting for the remaining barriers
	StateCapturing
)

func (s AlignState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCollecting:
		return "Collecting"
	case StateAligned:
		return "Aligned"
	case StateSnapshotting:
		return "Snapshotting"
	case StateAcked:
		return "Acked"
	case StateCapturing:
		return "Capturing"
	}
	return "Unknown"
}

type alignment struct {
	barrier       *Barrier
	state         AlignState
	received      []bool
	receivedCount int
	deadline      time.Time
	fellBack      bool
	snapshot      *TaskSnapshotState
	// records of an input with seq up to it are already captured
	capturedUntil []uint64
}

// BarrierAligner is for qos 2. In aligned mode it blocks an input once its barrier arrived until all barriers are received.
// In unaligned mode, or after the alignment timeout, it snapshots at once and captures the records which are overtaken
// by the barrier as channel state.
type BarrierAligner struct {
	responder Responder
	inputs    []InputChannel
	stat      *metric.CheckpointStat
	pending   map[int64]*alignment
	// the highest checkpoint whose first barrier has arrived
	latestStarted int64
	// aborted before the first barrier arrived
	skipped   map[int64]bool
	closed    []bool
	fallbacks int
}

func NewBarrierAligner(responder Responder, inputs []InputChannel, stat *metric.CheckpointStat) *BarrierAligner {
	return &BarrierAligner{
		responder: responder,
		inputs:    inputs,
		stat:      stat,
		pending:   make(map[int64]*alignment),
		skipped:   make(map[int64]bool),
		closed:    make([]bool, len(inputs)),
	}
}

func (h *BarrierAligner) ProcessBarrier(ctx api.StreamContext, input int, b *Barrier) {
	logger := ctx.GetLogger()
	if a, ok := h.pending[b.CheckpointId]; ok {
		h.onBarrier(ctx, a, input)
		return
	}
	if b.CheckpointId <= h.latestStarted {
		logger.Debugf("Ignore barrier %d from %s, the checkpoint is done", b.CheckpointId, h.inputs[input].GetName())
		return
	}
	h.latestStarted = b.CheckpointId
	aborted := h.skipped[b.CheckpointId]
	for cid := range h.skipped {
		if cid <= b.CheckpointId {
			delete(h.skipped, cid)
		}
	}
	if aborted {
		logger.Debugf("Ignore barrier %d, the checkpoint is aborted", b.CheckpointId)
		return
	}
	for i, c := range h.closed {
		if c {
			h.responder.Decline(b.CheckpointId, errorx.NewAlignmentFailure(b.CheckpointId, fmt.Sprintf("input %s is closed", h.inputs[i].GetName())))
			return
		}
	}
	a := &alignment{
		barrier:       b,
		received:      make([]bool, len(h.inputs)),
		capturedUntil: make([]uint64, len(h.inputs)),
	}
	h.pending[b.CheckpointId] = a
	logger.Debugf("Starting %s alignment for checkpoint %d", b.Mode, b.CheckpointId)
	if b.Mode == Unaligned {
		a.received[input] = true
		a.receivedCount = 1
		if !h.snapshot(ctx, a) {
			return
		}
		h.capture(a)
		h.captureAhead(a, input)
		h.tryComplete(ctx, a)
		return
	}
	a.state = StateCollecting
	if b.AlignmentTimeout > 0 {
		a.deadline = timex.GetNow().Add(b.AlignmentTimeout)
	}
	h.onBarrier(ctx, a, input)
}

func (h *BarrierAligner) onBarrier(ctx api.StreamContext, a *alignment, input int) {
	if a.received[input] {
		return
	}
	if a.state == StateCapturing {
		h.captureAhead(a, input)
	}
	a.received[input] = true
	a.receivedCount++
	ctx.GetLogger().Debugf("Received barrier %d from channel %s", a.barrier.CheckpointId, h.inputs[input].GetName())
	h.tryComplete(ctx, a)
}

func (h *BarrierAligner) tryComplete(ctx api.StreamContext, a *alignment) {
	if a.receivedCount < len(h.inputs) {
		return
	}
	switch a.state {
	case StateCollecting:
		ctx.GetLogger().Debugf("Received all barriers, triggering checkpoint %d", a.barrier.CheckpointId)
		a.state = StateAligned
		if !h.snapshot(ctx, a) {
			return
		}
	case StateCapturing:
	default:
		return
	}
	delete(h.pending, a.barrier.CheckpointId)
	if err := h.responder.Seal(a.snapshot); err == nil {
		a.state = StateAcked
	}
}

// snapshot forwards the barrier and takes the operator state
func (h *BarrierAligner) snapshot(ctx api.StreamContext, a *alignment) bool {
	a.state = StateSnapshotting
	s, err := h.responder.TriggerCheckpoint(a.barrier)
	if err != nil {
		ctx.GetLogger().Errorf("trigger checkpoint for %s err: %s", h.responder.GetName(), err)
		delete(h.pending, a.barrier.CheckpointId)
		h.responder.Decline(a.barrier.CheckpointId, err)
		return false
	}
	a.snapshot = s
	return true
}

// capture takes the buffered records ahead of the barrier of every input which has not delivered it yet.
// The later records are captured in ProcessRecord until the barrier arrives.
func (h *BarrierAligner) capture(a *alignment) {
	a.state = StateCapturing
	a.snapshot.Unaligned = true
	for i, in := range h.inputs {
		if a.received[i] {
			continue
		}
		rs, last, _ := in.InFlight(a.barrier.CheckpointId, a.capturedUntil[i])
		a.snapshot.AddInFlight(in.GetName(), rs...)
		a.capturedUntil[i] = last
	}
}

// captureAhead takes the records overtaken by a barrier which is processed while still buffered
func (h *BarrierAligner) captureAhead(a *alignment, input int) {
	in := h.inputs[input]
	rs, last, found := in.InFlight(a.barrier.CheckpointId, a.capturedUntil[input])
	if !found {
		return
	}
	a.snapshot.AddInFlight(in.GetName(), rs...)
	a.capturedUntil[input] = last
}

func (h *BarrierAligner) ProcessRecord(_ api.StreamContext, input int, seq uint64, r *api.Record) {
	for _, a := range h.pending {
		if a.state == StateCapturing && !a.received[input] && seq > a.capturedUntil[input] {
			a.snapshot.AddInFlight(h.inputs[input].GetName(), r)
			a.capturedUntil[input] = seq
		}
	}
}

func (h *BarrierAligner) IsBlocked(input int) bool {
	for _, a := range h.pending {
		if a.state == StateCollecting && a.received[input] {
			return true
		}
	}
	return false
}

// IsPriority is true for an unaligned barrier or the barrier of a checkpoint which has fallen back
func (h *BarrierAligner) IsPriority(b *Barrier) bool {
	if b.Mode == Unaligned {
		return true
	}
	a, ok := h.pending[b.CheckpointId]
	return ok && a.state == StateCapturing
}

func (h *BarrierAligner) InputClosed(ctx api.StreamContext, input int) {
	h.closed[input] = true
	for _, cid := range h.pendingIds() {
		a := h.pending[cid]
		if a.received[input] {
			continue
		}
		delete(h.pending, cid)
		ctx.GetLogger().Infof("Input %s closed before barrier %d, discard the %s alignment", h.inputs[input].GetName(), cid, a.state)
		h.responder.Decline(cid, errorx.NewAlignmentFailure(cid, fmt.Sprintf("input %s closed before the barrier", h.inputs[input].GetName())))
	}
}

func (h *BarrierAligner) CheckTimeout(ctx api.StreamContext) {
	now := timex.GetNow()
	for _, cid := range h.pendingIds() {
		a, ok := h.pending[cid]
		if !ok || a.state != StateCollecting || a.fellBack || a.deadline.IsZero() || now.Before(a.deadline) {
			continue
		}
		a.fellBack = true
		h.fallbacks++
		h.stat.IncFallback(ctx.GetOpId(), ctx.GetInstanceId())
		ctx.GetLogger().Infof("Alignment of checkpoint %d timed out after %v with %d/%d barriers, fall back to unaligned", cid, a.barrier.AlignmentTimeout, a.receivedCount, len(h.inputs))
		if !h.snapshot(ctx, a) {
			continue
		}
		h.capture(a)
		h.tryComplete(ctx, a)
	}
}

func (h *BarrierAligner) NextDeadline() (time.Time, bool) {
	var (
		result time.Time
		found  bool
	)
	for _, a := range h.pending {
		if a.state != StateCollecting || a.fellBack || a.deadline.IsZero() {
			continue
		}
		if !found || a.deadline.Before(result) {
			result = a.deadline
			found = true
		}
	}
	return result, found
}

func (h *BarrierAligner) Abort(ctx api.StreamContext, checkpointId int64) {
	if a, ok := h.pending[checkpointId]; ok {
		ctx.GetLogger().Debugf("Discard the %s alignment of aborted checkpoint %d", a.state, checkpointId)
		delete(h.pending, checkpointId)
		return
	}
	if checkpointId > h.latestStarted {
		h.skipped[checkpointId] = true
	}
}

// State of a checkpoint in this task. A finished or unknown checkpoint is StateIdle
func (h *BarrierAligner) State(checkpointId int64) AlignState {
	if a, ok := h.pending[checkpointId]; ok {
		return a.state
	}
	return StateIdle
}

func (h *BarrierAligner) Fallbacks() int {
	return h.fallbacks
}

func (h *BarrierAligner) pendingIds() []int64 {
	ids := make([]int64, 0, len(h.pending))
	for cid := range h.pending {
		ids = append(ids, cid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
