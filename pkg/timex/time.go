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

package timex

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	mu        sync.RWMutex
	c         clock.Clock = clock.New()
	IsTesting bool
)

func init() {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			IsTesting = true
			break
		}
	}
}

// Clock returns the clock used by checkpoint timers and the slow sink.
// It is the wall clock unless a test switched to a mock with UseMock.
func Clock() clock.Clock {
	mu.RLock()
	defer mu.RUnlock()
	return c
}

// UseMock installs a mock clock, only use in test
func UseMock() *clock.Mock {
	m := clock.NewMock()
	mu.Lock()
	c = m
	mu.Unlock()
	return m
}

// Reset restores the wall clock
func Reset() {
	mu.Lock()
	c = clock.New()
	mu.Unlock()
}

// GetTicker Time related. For Mock
func GetTicker(duration time.Duration) *clock.Ticker {
	return Clock().Ticker(duration)
}

func GetTimer(duration time.Duration) *clock.Timer {
	return Clock().Timer(duration)
}

func After(duration time.Duration) <-chan time.Time {
	return Clock().After(duration)
}

func Sleep(duration time.Duration) {
	Clock().Sleep(duration)
}

func GetNow() time.Time {
	return Clock().Now()
}

func GetNowInMilli() int64 {
	return Clock().Now().UnixMilli()
}

func Since(t time.Time) time.Duration {
	return Clock().Since(t)
}
