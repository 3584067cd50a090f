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

package context

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/pkg/api"
)

const LoggerKey = "$$logger"

type DefaultContext struct {
	ruleId     string
	opId       string
	instanceId int
	ctx        context.Context
	// Only initialized after withMeta set
	state *sync.Map
}

func Background() *DefaultContext {
	c := &DefaultContext{
		ctx: context.Background(),
	}
	return c
}

func WithContext(ctx context.Context) *DefaultContext {
	return &DefaultContext{
		ctx: ctx,
	}
}

func WithValue(parent *DefaultContext, key, val interface{}) *DefaultContext {
	parent.ctx = context.WithValue(parent.ctx, key, val)
	return parent
}

// Deadline Implement context interface
func (c *DefaultContext) Deadline() (deadline time.Time, ok bool) {
	return c.ctx.Deadline()
}

func (c *DefaultContext) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *DefaultContext) Err() error {
	return c.ctx.Err()
}

func (c *DefaultContext) Value(key interface{}) interface{} {
	return c.ctx.Value(key)
}

func (c *DefaultContext) GetContext() context.Context {
	return c.ctx
}

func (c *DefaultContext) GetLogger() api.Logger {
	l, ok := c.ctx.Value(LoggerKey).(*logrus.Entry)
	if l != nil && ok {
		return l
	}
	return conf.Log.WithField("caller", "default")
}

func (c *DefaultContext) GetRuleId() string {
	return c.ruleId
}

func (c *DefaultContext) GetOpId() string {
	return c.opId
}

func (c *DefaultContext) GetInstanceId() int {
	return c.instanceId
}

// WithMeta creates the context of an operator with an empty state and a logger scoped by the rule and op
func (c *DefaultContext) WithMeta(ruleId string, opId string) api.StreamContext {
	logger := conf.Log.WithField("rule", ruleId).WithField("op", opId)
	return &DefaultContext{
		ruleId:     ruleId,
		opId:       opId,
		instanceId: 0,
		ctx:        context.WithValue(c.ctx, LoggerKey, logger),
		state:      &sync.Map{},
	}
}

// WithInstance shares nothing with the other instances, each instance is a task with its own state
func (c *DefaultContext) WithInstance(instanceId int) api.StreamContext {
	ctx := c.ctx
	if l, ok := c.ctx.Value(LoggerKey).(*logrus.Entry); ok && l != nil {
		ctx = context.WithValue(c.ctx, LoggerKey, l.WithField("instance", instanceId))
	}
	return &DefaultContext{
		instanceId: instanceId,
		ruleId:     c.ruleId,
		opId:       c.opId,
		ctx:        ctx,
		state:      &sync.Map{},
	}
}

func (c *DefaultContext) WithCancel() (api.StreamContext, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.ctx)
	return &DefaultContext{
		ruleId:     c.ruleId,
		opId:       c.opId,
		instanceId: c.instanceId,
		ctx:        ctx,
		state:      c.state,
	}, cancel
}

func (c *DefaultContext) IncrCounter(key string, amount int64) error {
	if c.state == nil {
		return fmt.Errorf("state of %s is not initialized", c.opId)
	}
	for {
		if v, ok := c.state.Load(key); ok {
			vi, ok := v.(int64)
			if !ok {
				return fmt.Errorf("state[%s] must be an int64", key)
			}
			if c.state.CompareAndSwap(key, vi, vi+amount) {
				break
			}
		} else {
			if _, loaded := c.state.LoadOrStore(key, amount); !loaded {
				break
			}
		}
	}
	return nil
}

func (c *DefaultContext) GetCounter(key string) (int64, error) {
	if c.state == nil {
		return 0, fmt.Errorf("state of %s is not initialized", c.opId)
	}
	if v, ok := c.state.Load(key); ok {
		if vi, ok := v.(int64); ok {
			return vi, nil
		}
		return 0, fmt.Errorf("state[%s] is not an int64, but %v", key, v)
	}
	return 0, nil
}

func (c *DefaultContext) PutState(key string, value int64) error {
	if c.state == nil {
		return fmt.Errorf("state of %s is not initialized", c.opId)
	}
	c.state.Store(key, value)
	return nil
}

// Snapshot copies the operator state
func (c *DefaultContext) Snapshot() map[string]int64 {
	m := make(map[string]int64)
	if c.state == nil {
		return m
	}
	c.state.Range(func(key, value interface{}) bool {
		if v, ok := value.(int64); ok {
			m[key.(string)] = v
		}
		return true
	})
	return m
}
