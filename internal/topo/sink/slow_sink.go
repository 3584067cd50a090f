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

package sink

import (
	"time"

	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/timex"
)

const (
	CountKey    = "count"
	ChecksumKey = "checksum"
)

// SlowDiscardSink sleeps a fixed delay for every record to backpressure the job, then drops it.
// The count and the checksum of the collected records are kept in the task state.
type SlowDiscardSink struct {
	Delay time.Duration
}

func NewSlowDiscardSink(delay time.Duration) *SlowDiscardSink {
	return &SlowDiscardSink{Delay: delay}
}

func (s *SlowDiscardSink) Collect(ctx api.StreamContext, data *api.Record) error {
	if s.Delay > 0 {
		timex.Sleep(s.Delay)
	}
	if err := ctx.IncrCounter(CountKey, 1); err != nil {
		return err
	}
	return ctx.IncrCounter(ChecksumKey, data.Key())
}
