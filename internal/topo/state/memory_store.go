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

package state

import (
	"sync"
)

type MemoryStore struct {
	sync.Mutex
	ruleId    string
	retained  int
	snapshots map[int64]map[string][]byte
	completed []int64
}

func NewMemoryStore(ruleId string, retained int) *MemoryStore {
	return &MemoryStore{
		ruleId:    ruleId,
		retained:  retained,
		snapshots: make(map[int64]map[string][]byte),
	}
}

func (s *MemoryStore) Persist(taskId string, checkpointId int64, data []byte) (string, error) {
	s.Lock()
	defer s.Unlock()
	m, ok := s.snapshots[checkpointId]
	if !ok {
		m = make(map[string][]byte)
		s.snapshots[checkpointId] = m
	}
	m[taskId] = data
	return handle("memory", s.ruleId, checkpointId, taskId), nil
}

func (s *MemoryStore) Load(checkpointId int64) (map[string][]byte, error) {
	s.Lock()
	defer s.Unlock()
	if !contains(s.completed, checkpointId) {
		return nil, notCompleted(checkpointId)
	}
	result := make(map[string][]byte, len(s.snapshots[checkpointId]))
	for k, v := range s.snapshots[checkpointId] {
		result[k] = v
	}
	return result, nil
}

func (s *MemoryStore) Complete(checkpointId int64) error {
	s.Lock()
	defer s.Unlock()
	var evicted []int64
	s.completed, evicted = retain(s.completed, checkpointId, s.retained)
	for _, id := range evicted {
		delete(s.snapshots, id)
	}
	for id := range s.snapshots {
		if id < checkpointId && !contains(s.completed, id) {
			delete(s.snapshots, id)
		}
	}
	return nil
}

func (s *MemoryStore) Discard(checkpointId int64) error {
	s.Lock()
	defer s.Unlock()
	if !contains(s.completed, checkpointId) {
		delete(s.snapshots, checkpointId)
	}
	return nil
}

func (s *MemoryStore) Checkpoints() ([]int64, error) {
	s.Lock()
	defer s.Unlock()
	return append([]int64{}, s.completed...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
