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
	"fmt"
	"time"
)

// 默认上限
const (
	DefaultMaxRetries    = 2
	DefaultMaxChainDepth = 3
	DefaultToolTimeout   = 10 * time.Second
	DefaultModelTimeout  = 30 * time.Second
)

// Limits 编排上限
type Limits struct {
	MaxRetries    int
	MaxChainDepth int
	ToolTimeout   time.Duration
	// ModelTimeout 单次模型调用预算（路由与合成各一次）
	ModelTimeout time.Duration
	// TurnTimeout 为 0 时由 TurnBudget 推导
	TurnTimeout time.Duration
	// FailOnChainOverflow 计划超过链深时报错而非截断
	FailOnChainOverflow bool
}

// DefaultLimits 默认上限
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:    DefaultMaxRetries,
		MaxChainDepth: DefaultMaxChainDepth,
		ToolTimeout:   DefaultToolTimeout,
		ModelTimeout:  DefaultModelTimeout,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	if l.MaxChainDepth <= 0 {
		l.MaxChainDepth = DefaultMaxChainDepth
	}
	if l.ToolTimeout <= 0 {
		l.ToolTimeout = DefaultToolTimeout
	}
	if l.ModelTimeout <= 0 {
		l.ModelTimeout = DefaultModelTimeout
	}
	return l
}

// TurnBudget 单轮硬上限：(重试+1) × 工具超时 × 链深 + 模型预算
func (l Limits) TurnBudget() time.Duration {
	l = l.withDefaults()
	if l.TurnTimeout > 0 {
		return l.TurnTimeout
	}
	tools := time.Duration(l.MaxRetries+1) * l.ToolTimeout * time.Duration(l.MaxChainDepth)
	// 每个链节点最多一次路由，外加一次合成
	model := time.Duration(l.MaxChainDepth+1) * l.ModelTimeout
	return tools + model
}

// Transition DECIDING 的决策结果
type Transition struct {
	To State
	// Code 进入 ERRORING 时的错误码
	Code string
	// DropPlan 链深已满时丢弃剩余计划
	DropPlan bool
	Reason   string
}

// Decide 纯函数：按顺序应用决策规则
func Decide(st *AgentState, lim Limits) Transition {
	lim = lim.withDefaults()
	v := st.Validation
	if v == nil {
		return Transition{To: StateErroring, Code: string(CodeInternal), Reason: "no validation outcome"}
	}
	switch v.Outcome {
	case OutcomeToolError:
		if !v.Retryable {
			return Transition{To: StateErroring, Code: v.Code, Reason: "non-retryable " + v.Code}
		}
		if st.RetryCount < lim.MaxRetries {
			return Transition{To: StateExecuting, Reason: fmt.Sprintf("retry %d/%d after %s", st.RetryCount+1, lim.MaxRetries, v.Code)}
		}
		return Transition{To: StateErroring, Code: string(CodeMaxRetriesExceeded), Reason: "retries exhausted after " + v.Code}
	case OutcomeEmpty:
		return Transition{To: StateErroring, Code: string(CodeEmptyPortfolio), Reason: "empty result"}
	case OutcomeSchemaViolation:
		return Transition{To: StateErroring, Code: string(CodeSchemaViolation), Reason: "malformed result"}
	}

	if len(st.Plan) > 0 {
		if st.ChainDepth < lim.MaxChainDepth {
			return Transition{To: StateRouting, Reason: "chain to " + st.Plan[0]}
		}
		if lim.FailOnChainOverflow {
			return Transition{To: StateErroring, Code: string(CodeMaxChainDepthExceeded), Reason: "plan exceeds chain depth"}
		}
		return Transition{To: StateSynthesizing, DropPlan: true, Reason: "chain depth reached"}
	}
	return Transition{To: StateSynthesizing, Reason: "plan complete"}
}

var allowedTransitions = map[State][]State{
	StateRouting:      {StateExecuting, StateClarifying, StateErroring},
	StateExecuting:    {StateValidating, StateErroring},
	StateValidating:   {StateDeciding},
	StateDeciding:     {StateExecuting, StateRouting, StateSynthesizing, StateErroring},
	StateSynthesizing: {StateDone, StateErroring},
	StateClarifying:   {StateClarified},
	StateErroring:     {StateErrored},
}

// CanTransition 状态转移表
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
