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
	"fmt"
	"sync"

	"github.com/pingcap/failpoint"

	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/errorx"
	"github.com/lf-edge/barrierflow/pkg/infra"
)

const (
	EmittedKey  = "emitted"
	ChecksumKey = "checksum"

	triggerQueueSize = 64
)

// SourceNode produces an unbounded sequence of fixed size records and hosts the barrier injector.
// It is finite in checkpoints: after target completions it cancels itself and closes its outputs.
type SourceNode struct {
	*defaultNode
	index      int
	recordSize int
	target     int
	seq        int64
	payload    []byte
	triggers   chan *checkpoint.Barrier
	responder  checkpoint.Responder

	cancelMu  sync.Mutex
	cancel    func()
	completed int
	stopped   bool
}

// NewSourceNode creates the source instance index. A target of 0 never stops.
func NewSourceNode(name string, index int, recordSize int, target int) *SourceNode {
	if recordSize < 0 {
		recordSize = 0
	}
	return &SourceNode{
		defaultNode: newDefaultNode(name),
		index:       index,
		recordSize:  recordSize,
		target:      target,
		payload:     make([]byte, recordSize),
		triggers:    make(chan *checkpoint.Barrier, triggerQueueSize),
	}
}

func (m *SourceNode) SetResponder(r checkpoint.Responder) {
	m.responder = r
}

// InjectBarrier queues the barrier for the source routine. It never blocks.
func (m *SourceNode) InjectBarrier(b *checkpoint.Barrier) error {
	failpoint.Inject("injectBarrierErr", func() {
		failpoint.Return(errorx.New("injectBarrierErr"))
	})
	select {
	case m.triggers <- b:
		return nil
	default:
		return fmt.Errorf("trigger queue of source %s is full", m.name)
	}
}

// NotifyCheckpointComplete counts the completions and stops the source at the target
func (m *SourceNode) NotifyCheckpointComplete(checkpointId int64) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	m.completed++
	if m.target > 0 && m.completed >= m.target && !m.stopped {
		m.stopped = true
		if m.cancel != nil {
			m.cancel()
		}
	}
}

func (m *SourceNode) NotifyCheckpointAborted(int64) {}

// GetCompleted returns the number of completion notifications received
func (m *SourceNode) GetCompleted() int {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	return m.completed
}

func (m *SourceNode) Open(ctx api.StreamContext, errCh chan<- error) {
	logger := ctx.GetLogger()
	logger.Infof("open source node %s", m.name)
	sctx, cancel := ctx.WithCancel()
	m.cancelMu.Lock()
	m.cancel = cancel
	stopped := m.stopped
	m.cancelMu.Unlock()
	if stopped {
		cancel()
	}
	if err := m.prepare(sctx, "source"); err != nil {
		infra.DrainError(ctx, err, errCh)
		close(m.done)
		return
	}
	go func() {
		defer close(m.done)
		defer m.closeOutputs()
		defer cancel()
		err := infra.SafeRun(func() error {
			return m.run(sctx)
		})
		if err != nil {
			infra.DrainError(ctx, err, errCh)
		}
	}()
}

func (m *SourceNode) run(ctx api.StreamContext) error {
	logger := ctx.GetLogger()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("source %s done after %d records", m.name, m.seq)
			return nil
		case b := <-m.triggers:
			m.inject(ctx, b)
		default:
			if err := m.produce(); err != nil {
				if isCancelled(ctx, err) {
					logger.Infof("source %s done after %d records", m.name, m.seq)
					return nil
				}
				return err
			}
		}
	}
}

// inject emits the barrier to all outputs and snapshots the emitted counters under the checkpoint lock
func (m *SourceNode) inject(ctx api.StreamContext, b *checkpoint.Barrier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responder == nil {
		ctx.GetLogger().Warnf("source %s has no responder, drop barrier %s", m.name, b)
		return
	}
	s, err := m.responder.TriggerCheckpoint(b)
	if err != nil {
		ctx.GetLogger().Infof("inject barrier %s error: %v", b, err)
		m.responder.Decline(b.CheckpointId, err)
		return
	}
	_ = m.responder.Seal(s)
}

func (m *SourceNode) produce() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statManager.ProcessTimeStart()
	// records share the payload, they are read only
	r := &api.Record{Source: m.index, Seq: m.seq + 1, Payload: m.payload}
	if err := m.emit(r); err != nil {
		return err
	}
	m.seq++
	_ = m.ctx.IncrCounter(EmittedKey, 1)
	_ = m.ctx.IncrCounter(ChecksumKey, r.Key())
	m.statManager.ProcessTimeEnd()
	return nil
}
