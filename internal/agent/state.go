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

package agent

import (
	"time"

	"finagent/internal/agent/event"
	"finagent/internal/model/llm"
	"finagent/internal/runtime/session"
	"finagent/internal/tool"
)

// State 编排状态机节点
type State string

const (
	StateRouting      State = "ROUTING"
	StateExecuting    State = "EXECUTING"
	StateValidating   State = "VALIDATING"
	StateDeciding     State = "DECIDING"
	StateSynthesizing State = "SYNTHESIZING"
	StateClarifying   State = "CLARIFYING"
	StateErroring     State = "ERRORING"
	StateDone         State = "DONE"
	StateClarified    State = "CLARIFIED"
	StateErrored      State = "ERRORED"
)

// Terminal 终态
func (s State) Terminal() bool {
	return s == StateDone || s == StateClarified || s == StateErrored
}

// Step chain_history 中的一条：{tool, args, result}，按执行顺序追加
type Step struct {
	Tool     string
	Args     map[string]any
	Result   tool.Result
	Verdict  Verdict
	Attempt  int
	Duration time.Duration
}

// TerminalKind 轮次结局
type TerminalKind string

const (
	TerminalAnswer        TerminalKind = "answer"
	TerminalClarification TerminalKind = "clarification"
	TerminalError         TerminalKind = "error"
)

// TerminalOutcome 轮次结局：Response 与 Error 二选一
type TerminalOutcome struct {
	Kind     TerminalKind
	Response *event.Response
	Error    *ErrorInfo
}

// AgentState 单轮唯一可变状态，只由当前持有控制权的节点修改
type AgentState struct {
	ThreadID string
	Query    string
	// History 本轮开始前的会话历史，只读
	History []session.Message

	// Plan 尚未执行的后续工具
	Plan          []string
	SelectedTool  string
	ToolArgs      map[string]any
	RouteStrategy Strategy

	ToolResult *tool.Result
	Validation *Verdict

	ChainHistory []Step
	// RetryCount 当前工具的重试次数，换工具时归零
	RetryCount int
	// ChainDepth 本轮已执行的不同工具数
	ChainDepth int
	// Retries 本轮累计重试次数
	Retries int

	// PendingError 进入 ERRORING 时携带的原始错误码
	PendingError string
	Terminal     *TerminalOutcome
	Usage        llm.Usage
}

// Executed 本轮是否执行过该工具
func (s *AgentState) Executed(name string) bool {
	for _, step := range s.ChainHistory {
		if step.Tool == name {
			return true
		}
	}
	return false
}

// Planned 工具是否在剩余计划中
func (s *AgentState) Planned(name string) bool {
	for _, p := range s.Plan {
		if p == name {
			return true
		}
	}
	return false
}

// Records 转为 done 事件中的 tool_call_history
func (s *AgentState) Records() []event.ToolCallRecord {
	out := make([]event.ToolCallRecord, 0, len(s.ChainHistory))
	for _, step := range s.ChainHistory {
		out = append(out, event.ToolCallRecord{
			Tool:    step.Tool,
			Args:    step.Args,
			Success: step.Result.Success,
			Error:   step.Result.Error,
			Attempt: step.Attempt,
		})
	}
	return out
}

// LastTool 最近一次成功执行的工具
func (s *AgentState) LastTool() string {
	for i := len(s.ChainHistory) - 1; i >= 0; i-- {
		if s.ChainHistory[i].Verdict.Outcome == OutcomeValid {
			return s.ChainHistory[i].Tool
		}
	}
	return ""
}
