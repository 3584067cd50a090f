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
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/lf-edge/barrierflow/internal/conf"
)

const redisPrefix = "barrierflow:checkpoint"

// RedisStore saves each checkpoint as a hash of task snapshots.
// The completed checkpoints are kept in a sorted set scored by id.
type RedisStore struct {
	cli      *redis.Client
	ruleId   string
	retained int
	timeout  time.Duration
}

func NewRedisStore(ruleId string, c *conf.RedisConf, retained int) (*RedisStore, error) {
	timeout := time.Duration(c.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	cli := redis.NewClient(&redis.Options{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.Db,
		DialTimeout: timeout,
	})
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(3*timeout),
	)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := cli.Ping(ctx).Err()
		if err != nil {
			conf.Log.Debugf("connect to redis %s error: %v, retrying", c.Addr, err)
		}
		return err
	}, b)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cannot connect to redis %s: %v", c.Addr, err)
	}
	s := &RedisStore{
		cli:      cli,
		ruleId:   ruleId,
		retained: retained,
		timeout:  timeout,
	}
	if err := s.reset(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) key(checkpointId int64) string {
	return fmt.Sprintf("%s:%s:%d", redisPrefix, s.ruleId, checkpointId)
}

func (s *RedisStore) completedKey() string {
	return fmt.Sprintf("%s:%s:completed", redisPrefix, s.ruleId)
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) reset() error {
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.cli.Keys(ctx, fmt.Sprintf("%s:%s:*", redisPrefix, s.ruleId)).Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return s.cli.Del(ctx, keys...).Err()
	}
	return nil
}

func (s *RedisStore) Persist(taskId string, checkpointId int64, data []byte) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.cli.HSet(ctx, s.key(checkpointId), taskId, data).Err(); err != nil {
		return "", err
	}
	return handle("redis", s.ruleId, checkpointId, taskId), nil
}

func (s *RedisStore) Load(checkpointId int64) (map[string][]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.cli.ZScore(ctx, s.completedKey(), strconv.FormatInt(checkpointId, 10)).Err()
	if err == redis.Nil {
		return nil, notCompleted(checkpointId)
	} else if err != nil {
		return nil, err
	}
	m, err := s.cli.HGetAll(ctx, s.key(checkpointId)).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(m))
	for k, v := range m {
		result[k] = []byte(v)
	}
	return result, nil
}

func (s *RedisStore) Complete(checkpointId int64) error {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.cli.ZAdd(ctx, s.completedKey(), redis.Z{Score: float64(checkpointId), Member: strconv.FormatInt(checkpointId, 10)}).Err()
	if err != nil {
		return err
	}
	completed, err := s.checkpoints(ctx)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	if n := len(completed) - s.retained; n > 0 {
		for _, id := range completed[:n] {
			pipe.ZRem(ctx, s.completedKey(), strconv.FormatInt(id, 10))
			pipe.Del(ctx, s.key(id))
		}
		completed = completed[n:]
	}
	// subsumed partial snapshots
	keys, err := s.cli.Keys(ctx, fmt.Sprintf("%s:%s:*", redisPrefix, s.ruleId)).Result()
	if err != nil {
		return err
	}
	prefix := fmt.Sprintf("%s:%s:", redisPrefix, s.ruleId)
	for _, k := range keys {
		id, err := strconv.ParseInt(k[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		if id < checkpointId && !contains(completed, id) {
			pipe.Del(ctx, k)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Discard(checkpointId int64) error {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.cli.ZScore(ctx, s.completedKey(), strconv.FormatInt(checkpointId, 10)).Err()
	if err == nil {
		return nil
	} else if err != redis.Nil {
		return err
	}
	return s.cli.Del(ctx, s.key(checkpointId)).Err()
}

func (s *RedisStore) Checkpoints() ([]int64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.checkpoints(ctx)
}

func (s *RedisStore) checkpoints(ctx context.Context) ([]int64, error) {
	members, err := s.cli.ZRange(ctx, s.completedKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	result := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid completed checkpoint %s: %v", m, err)
		}
		result = append(result, id)
	}
	return result, nil
}

func (s *RedisStore) Close() error {
	return s.cli.Close()
}
