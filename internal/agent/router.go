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
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"finagent/internal/model/llm"
	"finagent/internal/runtime/session"
	"finagent/internal/tool"
	"finagent/internal/tool/registry"
	pkgerrors "finagent/pkg/errors"
	"finagent/pkg/log"
	"finagent/pkg/tracing"
)

// Strategy 路由来源
type Strategy string

const (
	StrategyModel    Strategy = "model"
	StrategyKeyword  Strategy = "keyword"
	StrategyFollowUp Strategy = "follow_up"
	StrategyChain    Strategy = "chain"
)

// Decision 路由结果；OutOfScope 为 true 时其余字段无意义
type Decision struct {
	Tool       string
	Args       map[string]any
	Plan       []string
	Strategy   Strategy
	Reason     string
	OutOfScope bool
	Usage      llm.Usage
}

func outOfScope(strategy Strategy, reason string) Decision {
	return Decision{OutOfScope: true, Strategy: strategy, Reason: reason}
}

// RouterOptions Router 依赖
type RouterOptions struct {
	// Model 为 nil 时只走关键词路由
	Model        model.ToolCallingChatModel
	ModelTimeout time.Duration
	Now          func() time.Time
	Logger       *log.Logger
}

// Router 意图路由：模型函数调用优先，关键词兜底
type Router struct {
	reg     *registry.Registry
	table   *KeywordTable
	model   model.ToolCallingChatModel
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
	prompt  string
}

// NewRouter 创建 Router；有模型时绑定注册表的函数调用描述
func NewRouter(reg *registry.Registry, table *KeywordTable, opts RouterOptions) (*Router, error) {
	r := &Router{
		reg:     reg,
		table:   table,
		timeout: opts.ModelTimeout,
		now:     opts.Now,
		logger:  opts.Logger,
		prompt:  RoutingPrompt(reg),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = log.Discard()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultModelTimeout
	}
	if opts.Model != nil {
		bound, err := opts.Model.WithTools(reg.Catalog())
		if err != nil {
			return nil, fmt.Errorf("bind tool catalog: %w", err)
		}
		r.model = bound
	}
	return r, nil
}

// Route 为新问题选择工具与后续计划
func (r *Router) Route(ctx context.Context, message string, history []session.Message) Decision {
	if IsInjection(message) {
		r.logger.Warn("prompt injection marker detected, routing to clarifier")
		return outOfScope(StrategyKeyword, "prompt injection marker")
	}
	if r.model == nil {
		return r.Fallback(message, history)
	}
	d, ok := r.routeWithModel(ctx, message, history)
	if !ok {
		fb := r.Fallback(message, history)
		fb.Usage = d.Usage
		return fb
	}
	return d
}

// routeWithModel ok 为 false 表示应退回关键词路由
func (r *Router) routeWithModel(ctx context.Context, message string, history []session.Message) (Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, span := tracing.StartModelSpan(ctx, "route")

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(r.prompt))
	msgs = append(msgs, session.ToSchema(history)...)
	msgs = append(msgs, schema.UserMessage(message))

	reply, err := r.model.Generate(ctx, msgs)
	tracing.EndSpan(span, err)
	if err != nil {
		r.logger.Warn("router model call failed, using keyword fallback", "error", err)
		return Decision{}, false
	}
	usage := llm.UsageOf(reply)
	if usage.Total() == 0 {
		usage = llm.Usage{Input: llm.EstimateMessages(msgs), Output: llm.EstimateTokens(reply.Content)}
	}
	if len(reply.ToolCalls) == 0 {
		d := outOfScope(StrategyModel, "model selected no tool")
		d.Usage = usage
		return d, true
	}

	first := reply.ToolCalls[0].Function
	def, ok := r.reg.Get(first.Name)
	if !ok {
		r.logger.Warn("router model chose unknown tool, using keyword fallback", "tool", first.Name)
		return Decision{Usage: usage}, false
	}
	raw := map[string]any{}
	if first.Arguments != "" {
		if err := json.Unmarshal([]byte(first.Arguments), &raw); err != nil {
			r.logger.Warn("router model arguments are not JSON, using keyword fallback", "tool", first.Name)
			return Decision{Usage: usage}, false
		}
	}
	args, err := def.InputSchema.ValidateArgs(raw)
	if err != nil {
		r.logger.Warn("router model arguments violate schema", "tool", def.Name, "error", err)
		d := outOfScope(StrategyModel, "arguments violate schema")
		d.Usage = usage
		return d, true
	}

	var plan []string
	seen := map[string]bool{def.Name: true}
	for _, tc := range reply.ToolCalls[1:] {
		if _, ok := r.reg.Get(tc.Function.Name); ok && !seen[tc.Function.Name] {
			seen[tc.Function.Name] = true
			plan = append(plan, tc.Function.Name)
		}
	}
	for _, name := range r.table.Plan(message) {
		if !seen[name] {
			seen[name] = true
			plan = append(plan, name)
		}
	}
	return Decision{
		Tool:     def.Name,
		Args:     args,
		Plan:     plan,
		Strategy: StrategyModel,
		Reason:   "model tool call",
		Usage:    usage,
	}, true
}

// Fallback 确定性关键词路由：同样的输入与触发词表总得到同样的结果
func (r *Router) Fallback(message string, history []session.Message) Decision {
	if IsInjection(message) {
		return outOfScope(StrategyKeyword, "prompt injection marker")
	}
	strategy := StrategyKeyword
	plan := r.table.Plan(message)
	if len(plan) == 0 && IsFollowUp(message) {
		if last := session.LastTool(history); last != "" {
			if _, ok := r.reg.Get(last); ok {
				plan = []string{last}
				strategy = StrategyFollowUp
			}
		}
	}
	if len(plan) == 0 {
		return outOfScope(strategy, "no trigger matched")
	}
	d, err := r.Resolve(plan[0], message)
	if err != nil {
		return outOfScope(strategy, err.Error())
	}
	d.Plan = plan[1:]
	d.Strategy = strategy
	d.Reason = "matched " + plan[0]
	return d
}

// Resolve 为指定工具抽取并校验参数（链式路由与关键词路由共用）。
// 抽取到但不合法的字段回退为默认值。
func (r *Router) Resolve(name, message string) (Decision, error) {
	def, ok := r.reg.Get(name)
	if !ok {
		return Decision{}, fmt.Errorf("tool %q not registered", name)
	}
	raw := ExtractArgs(def, message, r.now())
	args, err := def.InputSchema.ValidateArgs(raw)
	if err != nil {
		var verr *tool.ValidationError
		if pkgerrors.As(err, &verr) {
			for _, v := range verr.Violations {
				delete(raw, v.Field)
			}
			r.logger.Debug("dropping extracted arguments", "tool", name, "error", err)
		}
		args, err = def.InputSchema.ValidateArgs(raw)
		if err != nil {
			return Decision{}, fmt.Errorf("arguments for %s: %w", name, err)
		}
	}
	return Decision{Tool: name, Args: args, Strategy: StrategyChain}, nil
}
