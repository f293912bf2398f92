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
	"sync"

	"finagent/internal/tool"
	pkgerrors "finagent/pkg/errors"
)

// Kind 事件类型
type Kind string

const (
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindToken      Kind = "token"
	KindDone       Kind = "done"
	KindError      Kind = "error"
)

// Terminal done 与 error 为终止事件
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Event 一条流事件
type Event struct {
	Kind Kind
	Data any
}

// ThinkingData thinking 事件
type ThinkingData struct {
	Message string `json:"message"`
}

// ToolCallData tool_call 事件
type ToolCallData struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Attempt int            `json:"attempt"`
}

// ToolResultData tool_result 事件
type ToolResultData struct {
	Tool       string      `json:"tool"`
	Success    bool        `json:"success"`
	Outcome    string      `json:"outcome"`
	Error      *tool.Error `json:"error,omitempty"`
	Attempt    int         `json:"attempt"`
	DurationMS int64       `json:"duration_ms"`
}

// TokenData token 事件
type TokenData struct {
	Text string `json:"content"`
}

// Citation 答案引用：只来自本轮工具输出
type Citation struct {
	Label       string `json:"label"`
	Tool        string `json:"tool"`
	Field       string `json:"field"`
	DisplayName string `json:"display_name"`
	Value       string `json:"value"`
}

// ToolCallRecord 本轮的一次工具调用
type ToolCallRecord struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Success bool           `json:"success"`
	Error   *tool.Error    `json:"error,omitempty"`
	Attempt int            `json:"attempt"`
}

// TokenUsage 模型 token 用量
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// 回复类别
const (
	CategoryAnalysis      = "analysis"
	CategoryClarification = "clarification"
)

// Response 最终回复
type Response struct {
	Message    string     `json:"message"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Category   string     `json:"category"`
}

// DoneData done 事件
type DoneData struct {
	ThreadID        string           `json:"thread_id"`
	Response        Response         `json:"response"`
	ToolCallHistory []ToolCallRecord `json:"tool_call_history"`
	TokenUsage      TokenUsage       `json:"token_usage"`
}

// ErrorData error 事件
type ErrorData struct {
	ThreadID string `json:"thread_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Sink 事件接收方
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc 函数适配为 Sink
type SinkFunc func(ctx context.Context, e Event) error

// Emit 实现 Sink
func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard 丢弃所有事件
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Stream 保证流的顺序约束：ctx 取消或已发出终止事件后不再下发
type Stream struct {
	sink Sink

	mu     sync.Mutex
	closed bool
	final  Kind
}

// NewStream 包装 sink
func NewStream(sink Sink) *Stream {
	if sink == nil {
		sink = Discard
	}
	return &Stream{sink: sink}
}

// Emit 下发事件；流已关闭时返回 ErrClosed
func (s *Stream) Emit(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pkgerrors.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.closed = true
		return err
	}
	if e.Kind.Terminal() {
		s.closed = true
		s.final = e.Kind
	}
	return s.sink.Emit(ctx, e)
}

// Close 之后的 Emit 均被拒绝
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Final 已发出的终止事件类型，未发出时为空
func (s *Stream) Final() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}
