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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lf-edge/barrierflow/internal/conf"
)

func TestModeSelector(t *testing.T) {
	tests := []struct {
		s       ModeSelector
		mode    Mode
		timeout time.Duration
	}{
		{s: ModeSelector{Enabled: false, AlignmentTimeout: 5 * time.Millisecond}, mode: Aligned, timeout: 0},
		{s: ModeSelector{Enabled: true}, mode: Unaligned, timeout: 0},
		{s: ModeSelector{Enabled: true, AlignmentTimeout: time.Millisecond}, mode: Aligned, timeout: time.Millisecond},
	}
	for i, tt := range tests {
		m, to := tt.s.Select()
		assert.Equal(t, tt.mode, m, "case %d", i)
		assert.Equal(t, tt.timeout, to, "case %d", i)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in  string
		s   ModeSelector
		err bool
	}{
		{in: "0", s: ModeSelector{Enabled: true}},
		{in: "1", s: ModeSelector{Enabled: true, AlignmentTimeout: time.Millisecond}},
		{in: "5", s: ModeSelector{Enabled: true, AlignmentTimeout: 5 * time.Millisecond}},
		{in: "ALIGNED", s: ModeSelector{}},
		{in: "aligned", s: ModeSelector{}},
		{in: "-1", err: true},
		{in: "fast", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseMode(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.s, s)
			assert.Equal(t, tt.in == "aligned" || tt.in == "ALIGNED", s.String() == "ALIGNED")
		})
	}
}

func TestNewModeSelector(t *testing.T) {
	s := NewModeSelector(&conf.CheckpointConf{Unaligned: true, AlignmentTimeout: 5})
	assert.Equal(t, ModeSelector{Enabled: true, AlignmentTimeout: 5 * time.Millisecond}, s)
	assert.Equal(t, "5", s.String())
}
