// Copyright 2023-2024 EMQ Technologies Co., Ltd.
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

package errorx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorResult(t *testing.T) {
	err := New("general error")

	assert.Equal(t, &Error{
		"general error",
		GENERAL_ERR,
	}, err)
	assert.Equal(t, "general error", err.Error())
	assert.Equal(t, GENERAL_ERR, err.Code())

	err = NewWithCode(NOT_FOUND, "not found")
	assert.Equal(t, &Error{
		"not found",
		NOT_FOUND,
	}, err)
	assert.Equal(t, "not found", err.Error())
	assert.Equal(t, NOT_FOUND, err.Code())
}

func TestCheckpointErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  ErrorCode
		msg   string
	}{
		{
			name:  "alignment",
			err:   NewAlignmentFailure(3, "input src_1 closed"),
			check: IsAlignmentFailure,
			code:  AlignmentFailure,
			msg:   "alignment of checkpoint 3 failed: input src_1 closed",
		},
		{
			name:  "rejected",
			err:   NewTriggerRejected(2),
			check: IsTriggerRejected,
			code:  TriggerRejected,
			msg:   "trigger rejected: 2 checkpoints are already in flight",
		},
		{
			name:  "closed",
			err:   NewChannelClosed("a->b"),
			check: IsChannelClosed,
			code:  ChannelClosed,
			msg:   "channel a->b is closed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.msg, tt.err.Error())
			wrapped := fmt.Errorf("wrap: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			c, ok := GetErrorCode(wrapped)
			assert.True(t, ok)
			assert.Equal(t, tt.code, c)
		})
	}
	assert.False(t, IsTriggerRejected(errors.New("plain")))
	assert.False(t, IsAlignmentFailure(NewTriggerRejected(1)))
	_, ok := GetErrorCode(errors.New("plain"))
	assert.False(t, ok)
}
