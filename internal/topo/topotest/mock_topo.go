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

package topotest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/internal/topo"
	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	"github.com/lf-edge/barrierflow/internal/topo/node"
	"github.com/lf-edge/barrierflow/internal/topo/sink"
)

// RecordingListener keeps the checkpoint notifications in arrival order
type RecordingListener struct {
	sync.Mutex
	completed []int64
	aborted   []int64
}

func (l *RecordingListener) NotifyCheckpointComplete(checkpointId int64) {
	l.Lock()
	defer l.Unlock()
	l.completed = append(l.completed, checkpointId)
}

func (l *RecordingListener) NotifyCheckpointAborted(checkpointId int64) {
	l.Lock()
	defer l.Unlock()
	l.aborted = append(l.aborted, checkpointId)
}

func (l *RecordingListener) Completed() []int64 {
	l.Lock()
	defer l.Unlock()
	return append([]int64(nil), l.completed...)
}

func (l *RecordingListener) Aborted() []int64 {
	l.Lock()
	defer l.Unlock()
	return append([]int64(nil), l.aborted...)
}

// BenchConf returns the default job shape with the given mode in a memory store
func BenchConf(mode string) *conf.BarrierConf {
	c := conf.Default()
	c.Bench.Mode = mode
	c.Store.Type = "memory"
	return c
}

type RunResult struct {
	Topo     *topo.Topo
	Listener *RecordingListener
	Elapsed  time.Duration
}

// RunTopo runs a job until the sources have seen the target number of completions
func RunTopo(t *testing.T, name string, c *conf.BarrierConf) *RunResult {
	tp, err := topo.NewTopo(name, c)
	require.NoError(t, err)
	l := &RecordingListener{}
	tp.AddListener(l)
	start := time.Now()
	tp.Open()
	t.Cleanup(tp.Cancel)
	done := make(chan error, 1)
	go func() {
		done <- tp.Wait()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(60 * time.Second):
		t.Fatalf("topo %s does not finish", name)
	}
	return &RunResult{Topo: tp, Listener: l, Elapsed: time.Since(start)}
}

// Totals sums up the emitted records of the sources and the collected records of the sinks
func Totals(t *testing.T, tp *topo.Topo) (emitted int64, emittedSum int64, collected int64, collectedSum int64) {
	for _, src := range tp.GetSources() {
		emitted += counter(t, src.GetStreamContext(), node.EmittedKey)
		emittedSum += counter(t, src.GetStreamContext(), node.ChecksumKey)
	}
	for _, snk := range tp.GetSinks() {
		collected += counter(t, snk.GetStreamContext(), sink.CountKey)
		collectedSum += counter(t, snk.GetStreamContext(), sink.ChecksumKey)
	}
	return
}

type counterGetter interface {
	GetCounter(key string) (int64, error)
}

func counter(t *testing.T, ctx counterGetter, key string) int64 {
	v, err := ctx.GetCounter(key)
	require.NoError(t, err)
	return v
}

// Fallbacks counts the alignment fallbacks of all tasks with inputs
func Fallbacks(tp *topo.Topo) int {
	var handlers []checkpoint.BarrierHandler
	for _, stage := range tp.GetOperators() {
		for _, op := range stage {
			handlers = append(handlers, op.GetBarrierHandler())
		}
	}
	for _, snk := range tp.GetSinks() {
		handlers = append(handlers, snk.GetBarrierHandler())
	}
	result := 0
	for _, h := range handlers {
		if a, ok := h.(*checkpoint.BarrierAligner); ok {
			result += a.Fallbacks()
		}
	}
	return result
}

func RuleName(t *testing.T, mode string) string {
	return fmt.Sprintf("%s_%s", t.Name(), mode)
}
