// Copyright 2024 EMQ Technologies Co., Ltd.
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

package timex

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	assert.True(t, IsTesting)
	m := UseMock()
	defer Reset()
	m.Set(time.UnixMilli(1000))
	assert.Equal(t, int64(1000), GetNowInMilli())

	timer := GetTimer(5 * time.Millisecond)
	select {
	case <-timer.C:
		assert.Fail(t, "timer should not fire before the mock advances")
	default:
	}
	m.Add(5 * time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		assert.Fail(t, "timer should fire after the mock advanced")
	}
	assert.Equal(t, 5*time.Millisecond, Since(time.UnixMilli(1000)))
}

func TestReset(t *testing.T) {
	UseMock()
	Reset()
	_, isMock := Clock().(*clock.Mock)
	assert.False(t, isMock)
	start := GetNow()
	Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, Since(start), time.Millisecond)
}
