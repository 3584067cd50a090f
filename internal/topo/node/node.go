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

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lf-edge/barrierflow/internal/topo/channel"
	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	"github.com/lf-edge/barrierflow/internal/topo/node/metric"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/timex"
)

type Node interface {
	GetName() string
	AddOutput(output *channel.Channel) error
	Open(ctx api.StreamContext, errCh chan<- error)
	GetMetrics() []any
}

type stateSnapshotter interface {
	Snapshot() map[string]int64
}

// defaultNode is the output side of a task. The checkpoint lock mu is held for a single record or barrier op.
type defaultNode struct {
	name        string
	outputs     []*channel.Channel
	statManager metric.StatManager
	ctx         api.StreamContext
	mu          sync.Mutex

	// round-robin cursor of the rebalance partitioner
	next int
	// closed when the task routine exits
	done chan struct{}
}

func newDefaultNode(name string) *defaultNode {
	return &defaultNode{
		name: name,
		done: make(chan struct{}),
	}
}

func (o *defaultNode) GetName() string {
	return o.name
}

func (o *defaultNode) AddOutput(output *channel.Channel) error {
	for _, out := range o.outputs {
		if out.GetName() == output.GetName() {
			return fmt.Errorf("fail to add output %s, node %s already has an output of the same name", output.GetName(), o.name)
		}
	}
	o.outputs = append(o.outputs, output)
	return nil
}

func (o *defaultNode) GetStreamContext() api.StreamContext {
	return o.ctx
}

func (o *defaultNode) GetMetrics() []any {
	if o.statManager == nil {
		return nil
	}
	return o.statManager.GetMetrics()
}

// Done is closed when the task has exited and closed its outputs
func (o *defaultNode) Done() <-chan struct{} {
	return o.done
}

// Broadcast sends the barrier to all outputs in their fixed order. Called under the checkpoint lock.
func (o *defaultNode) Broadcast(b *checkpoint.Barrier) error {
	for _, out := range o.outputs {
		if err := out.PushBarrier(o.ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot copies the counters kept in the task context
func (o *defaultNode) Snapshot() (map[string]int64, error) {
	if s, ok := o.ctx.(stateSnapshotter); ok {
		return s.Snapshot(), nil
	}
	return map[string]int64{}, nil
}

// emit sends the record to the next output in round-robin order
func (o *defaultNode) emit(r *api.Record) error {
	if len(o.outputs) == 0 {
		return nil
	}
	out := o.outputs[o.next%len(o.outputs)]
	o.next++
	if err := out.PushRecord(o.ctx, r); err != nil {
		return err
	}
	o.statManager.IncTotalRecordsOut()
	return nil
}

func (o *defaultNode) closeOutputs() {
	for _, out := range o.outputs {
		out.Close()
	}
}

// prepare binds the task context and the stat manager before the task routine starts
func (o *defaultNode) prepare(ctx api.StreamContext, opType string) error {
	o.ctx = ctx
	stats, err := metric.NewStatManager(opType, ctx)
	if err != nil {
		return err
	}
	o.statManager = stats
	return nil
}

func isCancelled(ctx api.StreamContext, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// defaultSinkNode is a task with inputs. It polls the inputs round-robin and skips the inputs blocked by the aligner.
type defaultSinkNode struct {
	*defaultNode
	inputs         []*channel.Channel
	finished       []bool
	finishedCount  int
	cursor         int
	barrierHandler checkpoint.BarrierHandler
	abortMu        sync.Mutex
	aborts         []int64

	// seq of the latest barrier of each input processed ahead of its records
	overtaken []uint64
	// wake-up of the task, shared by all inputs
	notify chan struct{}
}

func newDefaultSinkNode(name string) *defaultSinkNode {
	return &defaultSinkNode{
		defaultNode: newDefaultNode(name),
		notify:      make(chan struct{}, 1),
	}
}

// NewInput creates an input channel consumed by this task
func (o *defaultSinkNode) NewInput(name string, capacity int) *channel.Channel {
	ch := channel.New(name, capacity, o.notify)
	o.inputs = append(o.inputs, ch)
	o.finished = append(o.finished, false)
	o.overtaken = append(o.overtaken, 0)
	return ch
}

func (o *defaultSinkNode) GetInputs() []checkpoint.InputChannel {
	result := make([]checkpoint.InputChannel, len(o.inputs))
	for i, in := range o.inputs {
		result[i] = in
	}
	return result
}

func (o *defaultSinkNode) SetBarrierHandler(bh checkpoint.BarrierHandler) {
	o.barrierHandler = bh
}

func (o *defaultSinkNode) GetBarrierHandler() checkpoint.BarrierHandler {
	return o.barrierHandler
}

func (o *defaultSinkNode) NotifyCheckpointComplete(int64) {}

// NotifyCheckpointAborted is called by the coordinator routine. The abort is queued and run by the task under its lock.
func (o *defaultSinkNode) NotifyCheckpointAborted(checkpointId int64) {
	o.abortMu.Lock()
	o.aborts = append(o.aborts, checkpointId)
	o.abortMu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *defaultSinkNode) runAborts(ctx api.StreamContext) {
	o.abortMu.Lock()
	aborts := o.aborts
	o.aborts = nil
	o.abortMu.Unlock()
	if o.barrierHandler == nil {
		return
	}
	for _, cid := range aborts {
		o.barrierHandler.Abort(ctx, cid)
	}
}

// run consumes the inputs until all of them are closed and drained or the context is done.
// The process func is called under the checkpoint lock for each record.
func (o *defaultSinkNode) run(ctx api.StreamContext, process func(r *api.Record) error) error {
	logger := ctx.GetLogger()
	for {
		if ctx.Err() != nil {
			logger.Infof("node %s done", o.name)
			return nil
		}
		progress, deadline, err := o.step(ctx, process)
		if err != nil {
			if isCancelled(ctx, err) {
				return nil
			}
			return err
		}
		if o.finishedCount == len(o.inputs) {
			logger.Infof("all inputs of node %s are closed", o.name)
			return nil
		}
		if progress {
			continue
		}
		o.wait(ctx, deadline)
	}
}

// step handles at most one entry. It returns whether anything is done and the next alignment deadline if idle.
func (o *defaultSinkNode) step(ctx api.StreamContext, process func(r *api.Record) error) (bool, time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runAborts(ctx)
	bh := o.barrierHandler
	if bh != nil {
		bh.CheckTimeout(ctx)
	}
	n := len(o.inputs)
	if bh != nil {
		for i := 0; i < n; i++ {
			if o.finished[i] || bh.IsBlocked(i) {
				continue
			}
			if e, ok := o.inputs[i].PeekBarrier(o.overtaken[i]); ok && bh.IsPriority(e.Barrier) {
				o.overtaken[i] = e.Seq
				bh.ProcessBarrier(ctx, i, e.Barrier)
				return true, time.Time{}, nil
			}
		}
	}
	for k := 0; k < n; k++ {
		i := (o.cursor + k) % n
		if o.finished[i] || (bh != nil && bh.IsBlocked(i)) {
			continue
		}
		e, ok, closed := o.inputs[i].Poll()
		if !ok {
			if closed {
				ctx.GetLogger().Debugf("input %s of node %s is closed", o.inputs[i].GetName(), o.name)
				o.finished[i] = true
				o.finishedCount++
				if bh != nil {
					bh.InputClosed(ctx, i)
				}
				return true, time.Time{}, nil
			}
			continue
		}
		o.cursor = i + 1
		if e.IsBarrier() {
			if e.Seq <= o.overtaken[i] {
				// already processed
				return true, time.Time{}, nil
			}
			if bh != nil {
				bh.ProcessBarrier(ctx, i, e.Barrier)
			}
			return true, time.Time{}, nil
		}
		if bh != nil {
			bh.ProcessRecord(ctx, i, e.Seq, e.Record)
		}
		o.statManager.IncTotalRecordsIn()
		o.statManager.SetBufferLength(int64(o.inputs[i].Len()))
		return true, time.Time{}, process(e.Record)
	}
	if bh != nil {
		if d, ok := bh.NextDeadline(); ok {
			return false, d, nil
		}
	}
	return false, time.Time{}, nil
}

func (o *defaultSinkNode) wait(ctx api.StreamContext, deadline time.Time) {
	var tc <-chan time.Time
	if !deadline.IsZero() {
		d := deadline.Sub(timex.GetNow())
		if d <= 0 {
			return
		}
		timer := timex.GetTimer(d)
		defer timer.Stop()
		tc = timer.C
	}
	select {
	case <-o.notify:
	case <-tc:
	case <-ctx.Done():
	}
}
