// Copyright 2026 fanjia1024
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

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "finagent:thread:"
	redisLockPrefix   = "finagent:lock:"
	defaultLockTTL    = 2 * time.Minute
	lockRetryInterval = 50 * time.Millisecond
)

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore 以 list 保存每条消息的 JSON，键为 finagent:thread:<id>
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// LockTTL 线程锁的过期时间，需长于单轮上限；默认 2 分钟
	LockTTL time.Duration
}

// NewRedisStore 创建并探活
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RedisStore{client: client, ttl: cfg.TTL, lockTTL: lockTTL}, nil
}

func redisKey(threadID string) string {
	return redisKeyPrefix + threadID
}

// Load 实现 Store
func (s *RedisStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, redisKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeMessages(raw)
}

// Append 实现 Store；RPUSH 与续期放在同一个 pipeline
func (s *RedisStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	key := redisKey(threadID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, values...)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return err
}

// LockThread 实现 ThreadLocker：SET NX PX 抢锁，失败则轮询直到 ctx 结束
func (s *RedisStore) LockThread(ctx context.Context, threadID string) (func(), error) {
	key := redisLockPrefix + threadID
	token := uuid.NewString()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock thread %s: %w", threadID, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = unlockScript.Run(ctx, s.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 实现 Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeMessages(msgs []Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func decodeMessages(raw []string) ([]Message, error) {
	out := make([]Message, 0, len(raw))
	for i, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode thread message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
