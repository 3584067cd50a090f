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
	"fmt"

	"github.com/lf-edge/barrierflow/internal/topo/checkpoint"
	"github.com/lf-edge/barrierflow/internal/topo/node"
	"github.com/lf-edge/barrierflow/internal/topo/sink"
	"github.com/lf-edge/barrierflow/internal/topo/state"
)

// Cut sums up a completed checkpoint. In an exactly-once cut every record emitted by the sources before the
// barrier is either collected by a sink before its snapshot or captured as in-flight, exactly once.
type Cut struct {
	CheckpointId     int64
	SourceCount      int64
	SourceChecksum   int64
	SinkCount        int64
	SinkChecksum     int64
	InFlightCount    int64
	InFlightChecksum int64
	Unaligned        int
}

func (c *Cut) IsConsistent() bool {
	return c.SourceCount == c.SinkCount+c.InFlightCount && c.SourceChecksum == c.SinkChecksum+c.InFlightChecksum
}

func (c *Cut) String() string {
	return fmt.Sprintf("checkpoint %d: source %d/%d, sink %d/%d, in-flight %d/%d, %d unaligned snapshots", c.CheckpointId,
		c.SourceCount, c.SourceChecksum, c.SinkCount, c.SinkChecksum, c.InFlightCount, c.InFlightChecksum, c.Unaligned)
}

// LoadCut reads back all task snapshots of a completed checkpoint
func (s *Topo) LoadCut(checkpointId int64) (*Cut, error) {
	store := s.GetStore()
	if store == nil {
		return nil, fmt.Errorf("topo %s is not opened", s.name)
	}
	return loadCut(store, checkpointId, s.sourceNames(), s.sinkNames())
}

func (s *Topo) sourceNames() map[string]bool {
	result := make(map[string]bool, len(s.sources))
	for _, src := range s.sources {
		result[src.GetName()] = true
	}
	return result
}

func (s *Topo) sinkNames() map[string]bool {
	result := make(map[string]bool, len(s.sinks))
	for _, snk := range s.sinks {
		result[snk.GetName()] = true
	}
	return result
}

func loadCut(store state.Store, checkpointId int64, sources map[string]bool, sinks map[string]bool) (*Cut, error) {
	snapshots, err := store.Load(checkpointId)
	if err != nil {
		return nil, err
	}
	c := &Cut{CheckpointId: checkpointId}
	for task, data := range snapshots {
		ts, err := checkpoint.DecodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot of %s error: %v", task, err)
		}
		switch {
		case sources[task]:
			c.SourceCount += ts.OperatorState[node.EmittedKey]
			c.SourceChecksum += ts.OperatorState[node.ChecksumKey]
		case sinks[task]:
			c.SinkCount += ts.OperatorState[sink.CountKey]
			c.SinkChecksum += ts.OperatorState[sink.ChecksumKey]
		}
		if ts.Unaligned {
			c.Unaligned++
		}
		for _, records := range ts.ChannelState {
			for _, r := range records {
				c.InFlightCount++
				c.InFlightChecksum += r.Key()
			}
		}
	}
	for task := range sources {
		if _, ok := snapshots[task]; !ok {
			return nil, fmt.Errorf("snapshot of %s is missing in checkpoint %d", task, checkpointId)
		}
	}
	for task := range sinks {
		if _, ok := snapshots[task]; !ok {
			return nil, fmt.Errorf("snapshot of %s is missing in checkpoint %d", task, checkpointId)
		}
	}
	return c, nil
}
