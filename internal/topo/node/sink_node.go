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

	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/infra"
)

type SinkNode struct {
	*defaultSinkNode
	sink api.Sink
}

func NewSinkNode(name string, sink api.Sink) *SinkNode {
	return &SinkNode{
		defaultSinkNode: newDefaultSinkNode(name),
		sink:            sink,
	}
}

func (m *SinkNode) Open(ctx api.StreamContext, errCh chan<- error) {
	logger := ctx.GetLogger()
	logger.Infof("open sink node %s", m.name)
	if err := m.prepare(ctx, "sink"); err != nil {
		infra.DrainError(ctx, err, errCh)
		close(m.done)
		return
	}
	go func() {
		defer close(m.done)
		err := infra.SafeRun(func() error {
			return m.run(ctx, m.collect)
		})
		if err != nil {
			infra.DrainError(ctx, err, errCh)
		}
	}()
}

func (m *SinkNode) collect(r *api.Record) error {
	m.statManager.ProcessTimeStart()
	err := m.sink.Collect(m.ctx, r)
	m.statManager.ProcessTimeEnd()
	if err != nil {
		m.statManager.IncTotalExceptions()
		return fmt.Errorf("sink %s collect record %d of source %d error: %v", m.name, r.Seq, r.Source, err)
	}
	m.statManager.IncTotalRecordsOut()
	return nil
}
