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
	"sync"
)

// Store 会话历史存储：只追加，已写入的记录不可修改
type Store interface {
	// Load 返回线程的完整历史；不存在时返回空切片
	Load(ctx context.Context, threadID string) ([]Message, error)
	// Append 追加记录
	Append(ctx context.Context, threadID string, msgs ...Message) error
	Close() error
}

// ThreadLocker 跨进程线程锁；Store 实现它时 Manager 在进程内锁之后再取一次
type ThreadLocker interface {
	// LockThread 阻塞至取得锁或 ctx 结束
	LockThread(ctx context.Context, threadID string) (unlock func(), err error)
}

// MemoryStore 内存实现（map + mutex）
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Message)}
}

// Load 实现 Store；返回副本
func (m *MemoryStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.threads[threadID]
	out := make([]Message, len(src))
	copy(out, src)
	return out, nil
}

// Append 实现 Store
func (m *MemoryStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = append(m.threads[threadID], msgs...)
	return nil
}

// Close 实现 Store
func (m *MemoryStore) Close() error { return nil }

// Len 当前保存的线程数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}
