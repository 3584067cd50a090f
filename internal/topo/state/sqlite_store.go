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
	"database/sql"
	"fmt"
	"os"
	"path"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lf-edge/barrierflow/internal/conf"
)

// SqliteStore keeps the snapshots of all jobs in one database file, partitioned by rule id
type SqliteStore struct {
	mu        sync.Mutex
	db        *sql.DB
	ruleId    string
	retained  int
	completed []int64
}

func NewSqliteStore(ruleId string, c *conf.SqliteConf, retained int) (*SqliteStore, error) {
	dir := c.Path
	if dir == "" {
		d, err := conf.GetDataLoc()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	name := "checkpoint.db"
	if c.Name != "" {
		name = c.Name
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path.Join(dir, name))
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(-1)
	s := &SqliteStore{
		db:       db,
		ruleId:   ruleId,
		retained: retained,
	}
	err = s.apply(func(db *sql.DB) error {
		_, err := db.Exec("CREATE TABLE IF NOT EXISTS 'snapshot'('rule' VARCHAR(255), 'checkpoint' INTEGER, 'task' VARCHAR(255), 'val' BLOB, PRIMARY KEY('rule', 'checkpoint', 'task'));")
		if err != nil {
			return err
		}
		_, err = db.Exec("CREATE TABLE IF NOT EXISTS 'completed'('rule' VARCHAR(255), 'checkpoint' INTEGER, PRIMARY KEY('rule', 'checkpoint'));")
		if err != nil {
			return err
		}
		// a previous run of the same rule id is not recovered
		if _, err = db.Exec("DELETE FROM 'snapshot' WHERE rule=?;", ruleId); err != nil {
			return err
		}
		_, err = db.Exec("DELETE FROM 'completed' WHERE rule=?;", ruleId)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot init sqlite store: %v", err)
	}
	return s, nil
}

func (s *SqliteStore) apply(f func(db *sql.DB) error) error {
	s.mu.Lock()
	err := f(s.db)
	s.mu.Unlock()
	return err
}

func (s *SqliteStore) Persist(taskId string, checkpointId int64, data []byte) (string, error) {
	err := s.apply(func(db *sql.DB) error {
		stmt, err := db.Prepare("REPLACE INTO 'snapshot'(rule,checkpoint,task,val) values(?,?,?,?);")
		if err != nil {
			return err
		}
		_, err = stmt.Exec(s.ruleId, checkpointId, taskId, data)
		stmt.Close()
		return err
	})
	if err != nil {
		return "", err
	}
	return handle("sqlite", s.ruleId, checkpointId, taskId), nil
}

func (s *SqliteStore) Load(checkpointId int64) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.apply(func(db *sql.DB) error {
		if !contains(s.completed, checkpointId) {
			return notCompleted(checkpointId)
		}
		rows, err := db.Query("SELECT task, val FROM 'snapshot' WHERE rule=? AND checkpoint=?;", s.ruleId, checkpointId)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				task string
				val  []byte
			)
			if err := rows.Scan(&task, &val); err != nil {
				return err
			}
			result[task] = val
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SqliteStore) Complete(checkpointId int64) error {
	return s.apply(func(db *sql.DB) error {
		completed, evicted := retain(s.completed, checkpointId, s.retained)
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		_, err = tx.Exec("REPLACE INTO 'completed'(rule,checkpoint) values(?,?);", s.ruleId, checkpointId)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, id := range evicted {
			if _, err = tx.Exec("DELETE FROM 'completed' WHERE rule=? AND checkpoint=?;", s.ruleId, id); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		// subsumed partial snapshots and evicted completed ones
		_, err = tx.Exec("DELETE FROM 'snapshot' WHERE rule=? AND checkpoint<? AND checkpoint NOT IN (SELECT checkpoint FROM 'completed' WHERE rule=?);", s.ruleId, checkpointId, s.ruleId)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err = tx.Commit(); err != nil {
			return err
		}
		s.completed = completed
		return nil
	})
}

func (s *SqliteStore) Discard(checkpointId int64) error {
	return s.apply(func(db *sql.DB) error {
		if contains(s.completed, checkpointId) {
			return nil
		}
		_, err := db.Exec("DELETE FROM 'snapshot' WHERE rule=? AND checkpoint=?;", s.ruleId, checkpointId)
		return err
	})
}

func (s *SqliteStore) Checkpoints() ([]int64, error) {
	var result []int64
	err := s.apply(func(db *sql.DB) error {
		rows, err := db.Query("SELECT checkpoint FROM 'completed' WHERE rule=? ORDER BY checkpoint;", s.ruleId)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			result = append(result, id)
		}
		return rows.Err()
	})
	return result, err
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}
