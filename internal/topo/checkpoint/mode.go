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

package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lf-edge/barrierflow/internal/conf"
)

// ModeSelector stamps the mode and the alignment timeout on each new checkpoint
type ModeSelector struct {
	Enabled          bool
	AlignmentTimeout time.Duration
}

func NewModeSelector(c *conf.CheckpointConf) ModeSelector {
	return ModeSelector{
		Enabled:          c.Unaligned,
		AlignmentTimeout: time.Duration(c.AlignmentTimeout) * time.Millisecond,
	}
}

// Select returns the mode of the next checkpoint.
// Disabled: aligned without fallback. Enabled with 0: unaligned. Enabled with T: aligned, fall back after T.
func (s ModeSelector) Select() (Mode, time.Duration) {
	if !s.Enabled {
		return Aligned, 0
	}
	if s.AlignmentTimeout <= 0 {
		return Unaligned, 0
	}
	return Aligned, s.AlignmentTimeout
}

func (s ModeSelector) String() string {
	if !s.Enabled {
		return "ALIGNED"
	}
	return strconv.FormatInt(s.AlignmentTimeout.Milliseconds(), 10)
}

// ParseMode parses the benchmark mode parameter: ALIGNED or an alignment timeout in milliseconds
func ParseMode(s string) (ModeSelector, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "ALIGNED") {
		return ModeSelector{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return ModeSelector{}, fmt.Errorf("invalid checkpoint mode %q, must be ALIGNED or a non negative alignment timeout in milliseconds", s)
	}
	return ModeSelector{Enabled: true, AlignmentTimeout: time.Duration(ms) * time.Millisecond}, nil
}
