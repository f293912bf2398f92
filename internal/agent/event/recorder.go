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

package event

import (
	"context"
	"strings"
	"sync"
)

// Recorder 记录所有事件（CLI eval 与测试使用）
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit 实现 Sink
func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events 事件副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds 事件类型序列
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// Count 某类事件数量
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Text 拼接所有 token
func (r *Recorder) Text() string {
	var b strings.Builder
	for _, e := range r.Events() {
		if d, ok := e.Data.(TokenData); ok {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// Done 最后的 done 负载
func (r *Recorder) Done() (DoneData, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if d, ok := events[i].Data.(DoneData); ok {
			return d, true
		}
	}
	return DoneData{}, false
}

// Err 最后的 error 负载
func (r *Recorder) Err() (ErrorData, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if d, ok := events[i].Data.(ErrorData); ok {
			return d, true
		}
	}
	return ErrorData{}, false
}
