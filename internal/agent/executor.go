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
	"context"
	"errors"
	"fmt"
	"time"

	"finagent/internal/tool"
	"finagent/internal/tool/registry"
	"finagent/pkg/log"
	"finagent/pkg/metrics"
	"finagent/pkg/tracing"
)

// Executor 调用工具：单次超时、捕获 panic、结果写入 chain_history，从不向外抛错
type Executor struct {
	reg     *registry.Registry
	timeout time.Duration
	logger  *log.Logger
}

// NewExecutor 创建 Executor；timeout <= 0 时用默认值
func NewExecutor(reg *registry.Registry, timeout time.Duration, logger *log.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{reg: reg, timeout: timeout, logger: logger}
}

type callOutcome struct {
	res tool.Result
	err error
}

// Execute 以 st.SelectedTool / st.ToolArgs 调用工具，追加一条 Step 并返回
func (e *Executor) Execute(ctx context.Context, st *AgentState) Step {
	name := st.SelectedTool
	attempt := st.RetryCount + 1
	start := time.Now()

	res := e.call(ctx, name, st.ToolArgs, attempt)
	res = res.Normalize(name, string(CodeToolError))

	step := Step{
		Tool:     name,
		Args:     cloneArgs(st.ToolArgs),
		Result:   res,
		Attempt:  attempt,
		Duration: time.Since(start),
	}
	metrics.ToolDuration.WithLabelValues(name).Observe(step.Duration.Seconds())
	st.ToolResult = &step.Result
	st.ChainHistory = append(st.ChainHistory, step)
	return step
}

func (e *Executor) call(ctx context.Context, name string, args map[string]any, attempt int) tool.Result {
	def, ok := e.reg.Get(name)
	if !ok {
		return tool.Fail(string(CodeToolError), "tool is not registered")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	callCtx, span := tracing.StartToolSpan(callCtx, name, attempt)

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callOutcome{err: fmt.Errorf("tool panic: %v", p)}
			}
		}()
		res, err := def.Handler.Call(callCtx, cloneArgs(args))
		done <- callOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			tracing.EndSpan(span, nil)
			return out.res
		}
		tracing.EndSpan(span, out.err)
		if errors.Is(ctx.Err(), context.Canceled) {
			return tool.Fail(string(CodeToolError), "tool call cancelled").WithMeta("cancelled", true)
		}
		if errors.Is(out.err, context.DeadlineExceeded) || ctx.Err() != nil {
			return tool.Fail(string(CodeToolTimeout), "tool call timed out")
		}
		e.logger.Error("tool handler failed", "tool", name, "attempt", attempt, "error", out.err)
		return tool.Fail(string(CodeToolError), "tool call failed")
	case <-callCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			tracing.EndSpan(span, ctx.Err())
			return tool.Fail(string(CodeToolError), "tool call cancelled").WithMeta("cancelled", true)
		}
		tracing.EndSpan(span, callCtx.Err())
		e.logger.Warn("tool call timed out", "tool", name, "attempt", attempt, "timeout", e.timeout)
		return tool.Fail(string(CodeToolTimeout), "tool call timed out")
	}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
