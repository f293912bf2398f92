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
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"finagent/internal/agent/event"
	"finagent/internal/model/llm"
	"finagent/internal/runtime/session"
	"finagent/internal/tool/registry"
	pkgerrors "finagent/pkg/errors"
	"finagent/pkg/log"
	"finagent/pkg/metrics"
	"finagent/pkg/tracing"
)

// ThinkingMessage 轮次开始时的 thinking 文案
const ThinkingMessage = "Analyzing your request..."

// ErrInternal 编排内部故障
var ErrInternal = errors.New("orchestrator internal error")

// Threads 会话能力：分配 ID、同线程串行、历史读写
type Threads interface {
	Resolve(threadID string) string
	Acquire(ctx context.Context, threadID string) (func(), error)
	History(ctx context.Context, threadID string) ([]session.Message, error)
	Record(ctx context.Context, threadID, question, answer, tool string) error
}

// Request 一轮请求
type Request struct {
	Message  string
	ThreadID string
	// Credential 调用方携带的 Bearer；RequireCredential 时必填
	Credential string
}

// Result 一轮的结局
type Result struct {
	ThreadID   string
	State      State
	Response   *event.Response
	Error      *ErrorInfo
	Steps      []Step
	ChainDepth int
	Retries    int
	Usage      llm.Usage
	Strategy   Strategy
}

// Config 编排配置
type Config struct {
	Limits            Limits
	RequireCredential bool
	Logger            *log.Logger
}

// Orchestrator 状态机驱动：ROUTING → EXECUTING → VALIDATING → DECIDING → ...
type Orchestrator struct {
	reg               *registry.Registry
	router            *Router
	executor          *Executor
	synth             *Synthesizer
	threads           Threads
	limits            Limits
	requireCredential bool
	logger            *log.Logger
}

// NewOrchestrator 组装编排器
func NewOrchestrator(reg *registry.Registry, router *Router, executor *Executor, synth *Synthesizer, threads Threads, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Orchestrator{
		reg:               reg,
		router:            router,
		executor:          executor,
		synth:             synth,
		threads:           threads,
		limits:            cfg.Limits.withDefaults(),
		requireCredential: cfg.RequireCredential,
		logger:            logger,
	}
}

// Limits 生效的上限
func (o *Orchestrator) Limits() Limits { return o.limits }

// Handle 后台轮次句柄
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	res    *Result
	err    error
}

// Start 在后台执行一轮
func (o *Orchestrator) Start(ctx context.Context, req Request, sink event.Sink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.res, h.err = o.Run(ctx, req, sink)
	}()
	return h
}

// Cancel 取消轮次，可重复调用
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
}

// Done 轮次结束时关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait 等待轮次结束
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.res, h.err
}

// turn 单轮运行期上下文
type turn struct {
	o      *Orchestrator
	parent context.Context // 调用方 ctx：取消即停止下发
	work   context.Context // 带轮次硬上限
	stream *event.Stream
	st     *AgentState
	logger *log.Logger
	// locked 持有线程锁时才允许写历史
	locked bool
}

// Run 同步执行一轮。调用方取消时返回 ctx 错误且不再下发事件；
// 其余失败都以 error 事件收尾，返回 nil。
func (o *Orchestrator) Run(ctx context.Context, req Request, sink event.Sink) (res *Result, err error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, pkgerrors.Wrap(pkgerrors.ErrInvalidArg, "message is required")
	}
	threadID := o.threads.Resolve(req.ThreadID)
	start := time.Now()
	logger := o.logger.With("thread_id", threadID)

	work, cancel := context.WithTimeout(ctx, o.limits.TurnBudget())
	defer cancel()
	work, span := tracing.StartTurnSpan(work, threadID)

	t := &turn{
		o:      o,
		parent: ctx,
		work:   work,
		stream: event.NewStream(sink),
		st:     &AgentState{ThreadID: threadID, Query: msg},
		logger: logger,
	}
	defer t.stream.Close()

	outcome := "cancelled"
	defer func() {
		metrics.TurnTotal.WithLabelValues(outcome).Inc()
		metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	if err := t.emit(event.KindThinking, event.ThinkingData{Message: ThinkingMessage}); err != nil {
		return nil, err
	}
	release, err := o.threads.Acquire(work, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome = "errored"
		t.st.PendingError = string(CodeToolTimeout)
		return t.finish(StateErrored), nil
	}
	defer release()
	t.locked = true

	defer func() {
		if p := recover(); p != nil {
			logger.Error("orchestrator panic", "panic", p, "tool", t.st.SelectedTool, "stack", string(debug.Stack()))
			outcome = "errored"
			res, err = t.internalFault(), fmt.Errorf("%w: %v", ErrInternal, p)
		}
	}()

	history, err := o.threads.History(work, threadID)
	if err != nil {
		logger.Error("load thread history failed", "error", err)
		outcome = "errored"
		return t.internalFault(), fmt.Errorf("%w: %w", ErrInternal, err)
	}
	t.st.History = history

	state := StateRouting
	if o.requireCredential && strings.TrimSpace(req.Credential) == "" {
		t.st.PendingError = string(CodeAuthRequired)
		state = StateErroring
	}

	for !state.Terminal() {
		if ctx.Err() != nil {
			return t.result(state), ctx.Err()
		}
		next := t.step(state)
		if ctx.Err() != nil {
			return t.result(state), ctx.Err()
		}
		if !CanTransition(state, next) {
			logger.Error("illegal transition", "state", state, "next", next)
			outcome = "errored"
			return t.internalFault(), fmt.Errorf("%w: illegal transition %s -> %s", ErrInternal, state, next)
		}
		logger.Debug("transition", "state", state, "next", next, "tool", t.st.SelectedTool)
		state = next
	}

	metrics.ChainDepth.Observe(float64(t.st.ChainDepth))
	res = t.finish(state)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	switch state {
	case StateDone:
		outcome = "done"
	case StateClarified:
		outcome = "clarified"
	default:
		outcome = "errored"
	}
	return res, nil
}

func (t *turn) emit(kind event.Kind, data any) error {
	return t.stream.Emit(t.parent, event.Event{Kind: kind, Data: data})
}

// budgetExceeded 轮次硬上限已到而调用方未取消
func (t *turn) budgetExceeded() bool {
	return t.work.Err() != nil && t.parent.Err() == nil
}

func (t *turn) fail(code string) State {
	t.st.PendingError = code
	return StateErroring
}

// step 执行当前节点，返回下一个状态
func (t *turn) step(state State) State {
	switch state {
	case StateRouting:
		return t.route()
	case StateExecuting:
		return t.execute()
	case StateValidating:
		return t.validate()
	case StateDeciding:
		return t.decide()
	case StateSynthesizing:
		return t.synthesize()
	case StateClarifying:
		resp := Clarify()
		t.st.Terminal = &TerminalOutcome{Kind: TerminalClarification, Response: &resp}
		return StateClarified
	case StateErroring:
		info := HandleError(t.st.PendingError)
		t.st.Terminal = &TerminalOutcome{Kind: TerminalError, Error: &info}
		return StateErrored
	}
	panic(fmt.Sprintf("unknown state %s", state))
}

func (t *turn) route() State {
	st := t.st
	if t.budgetExceeded() {
		return t.fail(string(CodeToolTimeout))
	}
	if len(st.ChainHistory) == 0 {
		d := t.o.router.Route(t.work, st.Query, st.History)
		st.Usage = st.Usage.Add(d.Usage)
		st.RouteStrategy = d.Strategy
		if d.OutOfScope {
			t.logger.Info("request out of scope", "strategy", d.Strategy, "reason", d.Reason)
			return StateClarifying
		}
		st.SelectedTool, st.ToolArgs, st.Plan = d.Tool, d.Args, d.Plan
	} else {
		next := st.Plan[0]
		st.Plan = st.Plan[1:]
		if def, ok := t.o.reg.Get(next); ok {
			_ = t.emit(event.KindThinking, event.ThinkingData{Message: "Running " + def.DisplayName + " next..."})
		}
		d, err := t.o.router.Resolve(next, st.Query)
		if err != nil {
			t.logger.Warn("chained tool arguments unresolved", "tool", next, "error", err)
			return t.fail(string(CodeToolError))
		}
		st.SelectedTool, st.ToolArgs = d.Tool, d.Args
	}
	st.RetryCount = 0
	st.ChainDepth++
	t.logger.Info("tool selected", "tool", st.SelectedTool, "strategy", st.RouteStrategy, "chain_depth", st.ChainDepth)
	return StateExecuting
}

func (t *turn) execute() State {
	st := t.st
	if t.budgetExceeded() {
		return t.fail(string(CodeToolTimeout))
	}
	_ = t.emit(event.KindToolCall, event.ToolCallData{Tool: st.SelectedTool, Args: st.ToolArgs, Attempt: st.RetryCount + 1})
	t.o.executor.Execute(t.work, st)
	return StateValidating
}

func (t *turn) validate() State {
	st := t.st
	last := &st.ChainHistory[len(st.ChainHistory)-1]
	def, _ := t.o.reg.Get(last.Tool)
	v := Classify(def, last.Result)
	last.Verdict = v
	st.Validation = &v
	metrics.ToolCallsTotal.WithLabelValues(last.Tool, string(v.Outcome)).Inc()
	if v.Outcome != OutcomeValid {
		t.logger.Warn("tool result rejected", "tool", last.Tool, "attempt", last.Attempt, "verdict", v.String())
	}

	_ = t.emit(event.KindToolResult, event.ToolResultData{
		Tool:       last.Tool,
		Success:    last.Result.Success,
		Outcome:    string(v.Outcome),
		Error:      last.Result.Error,
		Attempt:    last.Attempt,
		DurationMS: last.Duration.Milliseconds(),
	})

	if v.Outcome == OutcomeValid && def.FollowUps != nil {
		for _, name := range def.FollowUps(last.Result.Data) {
			if _, ok := t.o.reg.Get(name); ok && !st.Executed(name) && !st.Planned(name) {
				st.Plan = append(st.Plan, name)
			}
		}
	}
	return StateDeciding
}

func (t *turn) decide() State {
	st := t.st
	tr := Decide(st, t.o.limits)
	t.logger.Debug("decision", "tool", st.SelectedTool, "next", tr.To, "reason", tr.Reason)
	switch tr.To {
	case StateExecuting:
		if t.budgetExceeded() {
			return t.fail(string(CodeToolTimeout))
		}
		st.RetryCount++
		st.Retries++
		metrics.ToolRetriesTotal.WithLabelValues(st.SelectedTool).Inc()
	case StateErroring:
		st.PendingError = tr.Code
	case StateSynthesizing:
		if tr.DropPlan {
			t.logger.Info("chain depth reached, dropping remaining plan", "dropped", st.Plan)
			st.Plan = nil
		}
	}
	return tr.To
}

func (t *turn) synthesize() State {
	st := t.st
	syn, err := t.o.synth.Synthesize(t.work, st, func(text string) error {
		return t.emit(event.KindToken, event.TokenData{Text: text})
	})
	st.Usage = st.Usage.Add(syn.Usage)
	if err != nil {
		if t.budgetExceeded() {
			return t.fail(string(CodeToolTimeout))
		}
		// 调用方已取消，主循环负责退出
		return StateDone
	}
	st.Terminal = &TerminalOutcome{Kind: TerminalAnswer, Response: &syn.Response}
	return StateDone
}

// finish 写入会话历史并下发唯一的终止事件
func (t *turn) finish(state State) *Result {
	st := t.st
	if st.Terminal == nil && state == StateErrored {
		info := HandleError(st.PendingError)
		st.Terminal = &TerminalOutcome{Kind: TerminalError, Error: &info}
	}
	res := t.result(state)
	if st.Terminal == nil || t.parent.Err() != nil {
		return res
	}

	answer := ""
	if st.Terminal.Response != nil {
		answer = st.Terminal.Response.Message
	} else if st.Terminal.Error != nil {
		answer = st.Terminal.Error.Message
	}
	if t.locked {
		if err := t.o.threads.Record(t.parent, st.ThreadID, st.Query, answer, st.LastTool()); err != nil {
			t.logger.Error("record thread history failed", "error", err)
		}
	}

	switch st.Terminal.Kind {
	case TerminalAnswer, TerminalClarification:
		_ = t.emit(event.KindDone, event.DoneData{
			ThreadID:        st.ThreadID,
			Response:        *st.Terminal.Response,
			ToolCallHistory: st.Records(),
			TokenUsage: event.TokenUsage{
				Input:  st.Usage.Input,
				Output: st.Usage.Output,
				Total:  st.Usage.Total(),
			},
		})
	case TerminalError:
		t.logger.Warn("turn failed", "code", st.Terminal.Error.Code, "cause", st.PendingError)
		_ = t.emit(event.KindError, event.ErrorData{
			ThreadID: st.ThreadID,
			Code:     string(st.Terminal.Error.Code),
			Message:  st.Terminal.Error.Message,
		})
	}
	return res
}

func (t *turn) internalFault() *Result {
	info := HandleError(string(CodeInternal))
	t.st.Terminal = &TerminalOutcome{Kind: TerminalError, Error: &info}
	_ = t.emit(event.KindError, event.ErrorData{ThreadID: t.st.ThreadID, Code: string(info.Code), Message: info.Message})
	return t.result(StateErrored)
}

func (t *turn) result(state State) *Result {
	st := t.st
	res := &Result{
		ThreadID:   st.ThreadID,
		State:      state,
		Steps:      append([]Step(nil), st.ChainHistory...),
		ChainDepth: st.ChainDepth,
		Retries:    st.Retries,
		Usage:      st.Usage,
		Strategy:   st.RouteStrategy,
	}
	if st.Terminal != nil {
		res.Response = st.Terminal.Response
		res.Error = st.Terminal.Error
	}
	return res
}
