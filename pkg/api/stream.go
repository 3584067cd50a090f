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

package api

import (
	"context"
)

// Record is the fixed size data element flowing through a job.
// Records are immutable once emitted so they can be shared by reference.
type Record struct {
	Source  int    `cbor:"1,keyasint"`
	Seq     int64  `cbor:"2,keyasint"`
	Payload []byte `cbor:"3,keyasint,omitempty"`
}

// Key identifies a record globally inside one job run
func (r *Record) Key() int64 {
	return int64(r.Source)<<40 | r.Seq
}

type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugln(args ...interface{})
	Infoln(args ...interface{})
	Warnln(args ...interface{})
	Errorln(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type StreamContext interface {
	context.Context
	GetLogger() Logger
	GetRuleId() string
	GetOpId() string
	GetInstanceId() int
	WithMeta(ruleId string, opId string) StreamContext
	WithInstance(instanceId int) StreamContext
	WithCancel() (StreamContext, context.CancelFunc)
	// IncrCounter State handling. Operator state is a set of int64 counters
	IncrCounter(key string, amount int64) error
	GetCounter(key string) (int64, error)
	PutState(key string, value int64) error
}

// Sink is the user function run by a sink task for each record
type Sink interface {
	Collect(ctx StreamContext, data *Record) error
}

// Operator is the user function run by an intermediate task. It returns the record to forward or nil to drop it.
type Operator interface {
	Apply(ctx StreamContext, data *Record) (*Record, error)
}

const (
	AtMostOnce Qos = iota
	AtLeastOnce
	ExactlyOnce
)

type Qos int

func (q Qos) String() string {
	switch q {
	case AtMostOnce:
		return "AtMostOnce"
	case AtLeastOnce:
		return "AtLeastOnce"
	case ExactlyOnce:
		return "ExactlyOnce"
	}
	return "Unknown"
}
