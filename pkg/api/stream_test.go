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

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordKey(t *testing.T) {
	r1 := &Record{Source: 0, Seq: 5}
	r2 := &Record{Source: 1, Seq: 5}
	r3 := &Record{Source: 1, Seq: 6}
	assert.Equal(t, int64(5), r1.Key())
	assert.NotEqual(t, r1.Key(), r2.Key())
	assert.Equal(t, r2.Key()+1, r3.Key())
}

func TestQosString(t *testing.T) {
	assert.Equal(t, "AtMostOnce", AtMostOnce.String())
	assert.Equal(t, "AtLeastOnce", AtLeastOnce.String())
	assert.Equal(t, "ExactlyOnce", ExactlyOnce.String())
	assert.Equal(t, "Unknown", Qos(9).String())
}
