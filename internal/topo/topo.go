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

package topo

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/internal/topo/channel"
	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	kctx "github.com/lf-edge/barrierflow/internal/topo/context"
	"github.com/lf-edge/barrierflow/internal/topo/node"
	"github.com/lf-edge/barrierflow/internal/topo/node/metric"
	"github.com/lf-edge/barrierflow/internal/topo/operator"
	"github.com/lf-edge/barrierflow/internal/topo/sink"
	"github.com/lf-edge/barrierflow/internal/topo/state"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/infra"
)

// Topo is a job of NumVertices stages with Parallelism tasks each: sources, identity maps and slow sinks.
// Consecutive stages are connected all to all by rebalance channels.
type Topo struct {
	name        string
	qos         api.Qos
	conf        *conf.BarrierConf
	selector    checkpoint.ModeSelector
	sources     []*node.SourceNode
	ops         [][]*node.OperatorNode
	sinks       []*node.SinkNode
	channels    []*channel.Channel
	listeners   []checkpoint.CheckpointListener
	ctx         api.StreamContext
	cancel      context.CancelFunc
	drain       chan error
	store       state.Store
	coordinator *checkpoint.Coordinator
	opened      bool
	openErr     error
	mu          sync.Mutex
}

func NewTopo(name string, c *conf.BarrierConf) (*Topo, error) {
	b := &c.Bench
	if b.NumVertices < 2 {
		return nil, fmt.Errorf("a topo needs at least 2 vertices, got %d", b.NumVertices)
	}
	if b.Parallelism < 1 {
		return nil, fmt.Errorf("parallelism must be greater than 0, got %d", b.Parallelism)
	}
	selector := checkpoint.NewModeSelector(&c.Checkpoint)
	if b.Mode != "" {
		var err error
		if selector, err = checkpoint.ParseMode(b.Mode); err != nil {
			return nil, err
		}
	}
	s := &Topo{
		name:     name,
		qos:      api.AtLeastOnce,
		conf:     c,
		selector: selector,
	}
	if c.Checkpoint.ExactlyOnce {
		s.qos = api.ExactlyOnce
	}
	s.build()
	return s, nil
}

func (s *Topo) build() {
	b := &s.conf.Bench
	for i := 0; i < b.Parallelism; i++ {
		s.sources = append(s.sources, node.NewSourceNode(fmt.Sprintf("source_%d", i), i, b.RecordSize, b.NumFinishedCheckpoints))
	}
	upstream := make([]node.Node, 0, b.Parallelism)
	for _, src := range s.sources {
		upstream = append(upstream, src)
	}
	for v := 1; v < b.NumVertices-1; v++ {
		stage := make([]*node.OperatorNode, 0, b.Parallelism)
		next := make([]node.Node, 0, b.Parallelism)
		for i := 0; i < b.Parallelism; i++ {
			op := node.NewOperatorNode(fmt.Sprintf("map%d_%d", v, i), operator.IdentityMap{})
			s.connect(upstream, op.NewInput, op.GetName())
			stage = append(stage, op)
			next = append(next, op)
		}
		s.ops = append(s.ops, stage)
		upstream = next
	}
	delay := time.Duration(b.SinkDelay) * time.Microsecond
	for i := 0; i < b.Parallelism; i++ {
		snk := node.NewSinkNode(fmt.Sprintf("sink_%d", i), sink.NewSlowDiscardSink(delay))
		s.connect(upstream, snk.NewInput, snk.GetName())
		s.sinks = append(s.sinks, snk)
	}
}

// connect adds one channel from every upstream task to the downstream task
func (s *Topo) connect(upstream []node.Node, newInput func(name string, capacity int) *channel.Channel, to string) {
	for _, from := range upstream {
		ch := newInput(from.GetName()+"->"+to, s.conf.Bench.BufferLength)
		// AddOutput only fails on a duplicated name which cannot happen here
		_ = from.AddOutput(ch)
		s.channels = append(s.channels, ch)
	}
}

// AddListener registers a checkpoint listener. It must be called before Open and must not block.
func (s *Topo) AddListener(l checkpoint.CheckpointListener) {
	s.listeners = append(s.listeners, l)
}

func (s *Topo) GetName() string {
	return s.name
}

func (s *Topo) GetContext() api.StreamContext {
	return s.ctx
}

func (s *Topo) GetCoordinator() *checkpoint.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator
}

func (s *Topo) GetStore() state.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Topo) GetSources() []*node.SourceNode {
	return s.sources
}

// GetOperators returns the map tasks by stage
func (s *Topo) GetOperators() [][]*node.OperatorNode {
	return s.ops
}

func (s *Topo) GetSinks() []*node.SinkNode {
	return s.sinks
}

func (s *Topo) GetChannels() []*channel.Channel {
	return s.channels
}

func (s *Topo) prepareContext() {
	contextLogger := conf.Log.WithField("rule", s.name)
	ctx := kctx.WithValue(kctx.Background(), kctx.LoggerKey, contextLogger)
	s.ctx, s.cancel = ctx.WithCancel()
}

// Open starts all tasks and activates the coordinator. The returned chan receives the first runtime error.
// A topo can only be opened once.
func (s *Topo) Open() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		s.ctx.GetLogger().Infoln("topo is already opened, do nothing")
		return s.drain
	}
	s.opened = true
	s.prepareContext()
	s.drain = make(chan error, 1)
	log := s.ctx.GetLogger()
	log.Infof("Opening topo %s with mode %s", s.name, s.selector)
	err := infra.SafeRun(func() error {
		var err error
		if s.store, err = state.CreateStore(s.name, &s.conf.Store, s.conf.Checkpoint.Retained); err != nil {
			return fmt.Errorf("topo %s create store error %v", s.name, err)
		}
		s.enableCheckpoint()
		for i, snk := range s.sinks {
			snk.Open(s.taskContext("sink", i), s.drain)
		}
		for v, stage := range s.ops {
			for i, op := range stage {
				op.Open(s.taskContext("map"+strconv.Itoa(v+1), i), s.drain)
			}
		}
		for i, src := range s.sources {
			src.Open(s.taskContext("source", i), s.drain)
		}
		return s.coordinator.Activate()
	})
	if err != nil {
		s.openErr = err
		infra.DrainError(s.ctx, err, s.drain)
	}
	return s.drain
}

// taskContext gives each task its own state
func (s *Topo) taskContext(opId string, instance int) api.StreamContext {
	return s.ctx.WithMeta(s.name, opId).WithInstance(instance)
}

func (s *Topo) enableCheckpoint() {
	sources := make([]checkpoint.SourceTask, 0, len(s.sources))
	for _, r := range s.sources {
		sources = append(sources, r)
	}
	var ops []checkpoint.NonSourceTask
	for _, stage := range s.ops {
		for _, r := range stage {
			ops = append(ops, r)
		}
	}
	sinks := make([]checkpoint.NonSourceTask, 0, len(s.sinks))
	for _, r := range s.sinks {
		sinks = append(sinks, r)
	}
	c := checkpoint.NewCoordinator(s.name, sources, ops, sinks, s.qos, s.store, &s.conf.Checkpoint, s.conf.Bench.NumFinishedCheckpoints, s.ctx)
	c.SetModeSelector(s.selector)
	for _, l := range s.listeners {
		c.AddListener(l)
	}
	s.coordinator = c
}

// Wait blocks until every task has finished, then stops the coordinator. On the first runtime error the topo is
// cancelled and the error is returned. It must be called after Open.
func (s *Topo) Wait() error {
	s.mu.Lock()
	openErr := s.openErr
	s.mu.Unlock()
	if openErr != nil {
		return openErr
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for _, src := range s.sources {
			<-src.Done()
		}
		for _, stage := range s.ops {
			for _, op := range stage {
				<-op.Done()
			}
		}
		for _, snk := range s.sinks {
			<-snk.Done()
		}
	}()
	var err error
	select {
	case <-finished:
		select {
		case err = <-s.drain:
		default:
		}
	case err = <-s.drain:
		s.ctx.GetLogger().Errorf("topo %s stops on error: %v", s.name, err)
		s.Cancel()
		<-finished
	}
	if c := s.GetCoordinator(); c != nil && c.IsActivated() {
		_ = c.Deactivate()
		<-c.Done()
	}
	return err
}

// Cancel may be called multiple times so must be idempotent
func (s *Topo) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, ch := range s.channels {
		ch.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.ctx.GetLogger().Warnf("close store of topo %s error: %v", s.name, err)
		}
		s.store = nil
	}
}

func (s *Topo) GetMetrics() (keys []string, values []any) {
	add := func(prefix string, name string, metrics []any) {
		for i, v := range metrics {
			keys = append(keys, prefix+"_"+name+"_"+metric.MetricNames[i])
			values = append(values, v)
		}
	}
	for _, src := range s.sources {
		add("source", src.GetName(), src.GetMetrics())
	}
	for _, stage := range s.ops {
		for _, op := range stage {
			add("op", op.GetName(), op.GetMetrics())
		}
	}
	for _, snk := range s.sinks {
		add("sink", snk.GetName(), snk.GetMetrics())
	}
	return
}
