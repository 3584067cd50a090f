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

package errorx

import (
	"errors"
	"fmt"
)

type Error struct {
	msg  string
	code ErrorCode
}

func New(message string) *Error {
	return &Error{message, GENERAL_ERR}
}

func NewWithCode(code ErrorCode, message string) *Error {
	return &Error{message, code}
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Code() ErrorCode {
	return e.code
}

type ErrorWithCode interface {
	Error() string
	Code() ErrorCode
}

func GetErrorCode(err error) (ErrorCode, bool) {
	var withCode ErrorWithCode
	if errors.As(err, &withCode) {
		return withCode.Code(), true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := GetErrorCode(err)
	return ok && c == code
}

// NewAlignmentFailure is reported by a task which cannot align a checkpoint because one of its inputs is gone
func NewAlignmentFailure(checkpointId int64, reason string) error {
	return &Error{
		code: AlignmentFailure,
		msg:  fmt.Sprintf("alignment of checkpoint %d failed: %s", checkpointId, reason),
	}
}

func IsAlignmentFailure(err error) bool {
	return hasCode(err, AlignmentFailure)
}

// NewTriggerRejected is retriable. The caller should trigger again later.
func NewTriggerRejected(inFlight int) error {
	return &Error{
		code: TriggerRejected,
		msg:  fmt.Sprintf("trigger rejected: %d checkpoints are already in flight", inFlight),
	}
}

func IsTriggerRejected(err error) bool {
	return hasCode(err, TriggerRejected)
}

func NewChannelClosed(name string) error {
	return &Error{
		code: ChannelClosed,
		msg:  fmt.Sprintf("channel %s is closed", name),
	}
}

func IsChannelClosed(err error) bool {
	return hasCode(err, ChannelClosed)
}
