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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "finagent/pkg/errors"
	"finagent/pkg/metrics"
)

// Manager 会话入口：分配线程 ID、串行化同一线程的轮次、读写历史
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// NewManager 创建 Manager；store 为 nil 时使用内存存储
func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{store: store, now: time.Now, locks: make(map[string]*threadLock)}
}

// NewThreadID 生成线程 ID
func NewThreadID() string {
	return "thread-" + uuid.New().String()
}

// Resolve 规范化调用方传入的线程 ID，为空时分配新 ID
func (m *Manager) Resolve(threadID string) string {
	if id := strings.TrimSpace(threadID); id != "" {
		return id
	}
	return NewThreadID()
}

// Acquire 获取线程锁，等待可被 ctx 取消；返回的 release 可重复调用。
// 存储实现 ThreadLocker 时（redis）同一线程跨进程串行，否则只在本进程内串行
func (m *Manager) Acquire(ctx context.Context, threadID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[threadID]
	if !ok {
		l = &threadLock{sem: make(chan struct{}, 1)}
		m.locks[threadID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(threadID, l)
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrThreadBusy, ctx.Err())
	}
	unlock := func() {}
	if locker, ok := m.store.(ThreadLocker); ok {
		u, err := locker.LockThread(ctx, threadID)
		if err != nil {
			<-l.sem
			m.unref(threadID, l)
			return nil, fmt.Errorf("%w: %w", pkgerrors.ErrThreadBusy, err)
		}
		unlock = u
	}
	metrics.ThreadsActive.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			<-l.sem
			metrics.ThreadsActive.Dec()
			m.unref(threadID, l)
		})
	}, nil
}

func (m *Manager) unref(threadID string, l *threadLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 && m.locks[threadID] == l {
		delete(m.locks, threadID)
	}
}

// History 读取线程历史
func (m *Manager) History(ctx context.Context, threadID string) ([]Message, error) {
	msgs, err := m.store.Load(ctx, threadID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "load thread %s", threadID)
	}
	return msgs, nil
}

// Record 追加一轮问答
func (m *Manager) Record(ctx context.Context, threadID, question, answer, tool string) error {
	now := m.now()
	err := m.store.Append(ctx, threadID,
		Message{Role: RoleUser, Content: question, CreatedAt: now},
		Message{Role: RoleAssistant, Content: answer, Tool: tool, CreatedAt: now},
	)
	return pkgerrors.Wrapf(err, "append thread %s", threadID)
}

// Close 关闭底层存储
func (m *Manager) Close() error {
	return m.store.Close()
}
