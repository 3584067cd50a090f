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

package operator

import (
	"github.com/lf-edge/barrierflow/pkg/api"
)

const ProcessedKey = "processed"

// IdentityMap forwards every record as is and counts them in the task state
type IdentityMap struct{}

func (IdentityMap) Apply(ctx api.StreamContext, data *api.Record) (*api.Record, error) {
	if err := ctx.IncrCounter(ProcessedKey, 1); err != nil {
		return nil, err
	}
	return data, nil
}
