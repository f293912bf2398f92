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

package llm

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"finagent/pkg/metrics"
)

// Limited 在真实模型调用前后执行限流并记录 token 用量
type Limited struct {
	inner    model.ToolCallingChatModel
	provider string
	limiter  *RateLimiter
}

var _ model.ToolCallingChatModel = (*Limited)(nil)

// NewLimited 包装模型；limiter 为 nil 时仅记录用量
func NewLimited(inner model.ToolCallingChatModel, provider string, limiter *RateLimiter) *Limited {
	return &Limited{inner: inner, provider: provider, limiter: limiter}
}

// Generate 实现 model.BaseChatModel
func (l *Limited) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := l.acquire(ctx, input); err != nil {
		return nil, err
	}
	defer l.release()

	msg, err := l.inner.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	RecordUsage(UsageOf(msg))
	return msg, nil
}

// Stream 实现 model.BaseChatModel；并发槽只覆盖建立流的阶段
func (l *Limited) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := l.acquire(ctx, input); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Stream(ctx, input, opts...)
}

// WithTools 实现 model.ToolCallingChatModel
func (l *Limited) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := l.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &Limited{inner: bound, provider: l.provider, limiter: l.limiter}, nil
}

func (l *Limited) acquire(ctx context.Context, input []*schema.Message) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx, l.provider, EstimateMessages(input))
}

func (l *Limited) release() {
	if l.limiter != nil {
		l.limiter.Release(l.provider)
	}
}

// Usage token 用量
type Usage struct {
	Input  int
	Output int
}

// Total 合计
func (u Usage) Total() int { return u.Input + u.Output }

// Add 累加
func (u Usage) Add(o Usage) Usage {
	return Usage{Input: u.Input + o.Input, Output: u.Output + o.Output}
}

// UsageOf 读取响应中的用量；缺失时为零值
func UsageOf(msg *schema.Message) Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := msg.ResponseMeta.Usage
	return Usage{Input: u.PromptTokens, Output: u.CompletionTokens}
}

// RecordUsage 写入 token 指标
func RecordUsage(u Usage) {
	if u.Input > 0 {
		metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(u.Input))
	}
	if u.Output > 0 {
		metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(u.Output))
	}
}

// EstimateTokens 粗略估算：约 4 字符一个 token
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len([]rune(text)) + 3) / 4
}

// EstimateMessages 估算一组消息的输入 token
func EstimateMessages(msgs []*schema.Message) int {
	n := 0
	for _, m := range msgs {
		if m != nil {
			n += EstimateTokens(m.Content)
		}
	}
	return n
}
