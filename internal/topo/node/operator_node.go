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

// OperatorNode runs an api.Operator for each record and forwards the result round-robin
type OperatorNode struct {
	*defaultSinkNode
	op api.Operator
}

func NewOperatorNode(name string, op api.Operator) *OperatorNode {
	return &OperatorNode{
		defaultSinkNode: newDefaultSinkNode(name),
		op:              op,
	}
}

func (o *OperatorNode) Open(ctx api.StreamContext, errCh chan<- error) {
	ctx.GetLogger().Infof("open operator node %s", o.name)
	if err := o.prepare(ctx, "op"); err != nil {
		infra.DrainError(ctx, err, errCh)
		close(o.done)
		return
	}
	go func() {
		defer close(o.done)
		defer o.closeOutputs()
		err := infra.SafeRun(func() error {
			return o.run(ctx, o.process)
		})
		if err != nil {
			infra.DrainError(ctx, err, errCh)
		}
	}()
}

// process fails the task on an apply error. The record is never dropped.
func (o *OperatorNode) process(r *api.Record) error {
	o.statManager.ProcessTimeStart()
	result, err := o.op.Apply(o.ctx, r)
	o.statManager.ProcessTimeEnd()
	if err != nil {
		o.statManager.IncTotalExceptions()
		return fmt.Errorf("operator %s apply record %d of source %d error: %v", o.name, r.Seq, r.Source, err)
	}
	if result == nil {
		return nil
	}
	return o.emit(result)
}
