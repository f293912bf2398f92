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
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"finagent/internal/agent/event"
	"finagent/internal/model/llm"
	"finagent/internal/runtime/session"
	"finagent/internal/tool/registry"
	"finagent/pkg/log"
	"finagent/pkg/tracing"
)

// ChunkSize 确定性合成的分片长度（字符）
const ChunkSize = 64

// Synthesis 合成结果
type Synthesis struct {
	Response event.Response
	Usage    llm.Usage
	// Generated 为 true 表示文本来自模型
	Generated bool
}

// Synthesizer 把 chain_history 写成带引用与置信度的回答，边生成边下发 token
type Synthesizer struct {
	reg     *registry.Registry
	model   model.BaseChatModel
	timeout time.Duration
	logger  *log.Logger
}

// NewSynthesizer chat 为 nil 时只做确定性合成
func NewSynthesizer(reg *registry.Registry, chat model.BaseChatModel, timeout time.Duration, logger *log.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Synthesizer{reg: reg, model: chat, timeout: timeout, logger: logger}
}

// Synthesize emit 返回错误（通常是轮次已取消）时立即停止并返回该错误
func (s *Synthesizer) Synthesize(ctx context.Context, st *AgentState, emit func(text string) error) (Synthesis, error) {
	citations := BuildCitations(s.reg, st.ChainHistory)
	facts := s.facts(st.ChainHistory)
	out := Synthesis{Response: event.Response{
		Citations:  citations,
		Confidence: Confidence(st.ChainHistory, st.Retries),
		Category:   event.CategoryAnalysis,
	}}

	if s.model != nil {
		text, usage, emitted, err := s.generate(ctx, st, facts, citations, emit)
		out.Usage = usage
		switch {
		case err == nil && text != "":
			out.Response.Message = text
			out.Generated = true
			return out, nil
		case emitted:
			// 已下发的 token 不可撤回，保留部分文本收尾
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.Warn("synthesis stream interrupted", "error", err)
			out.Response.Message = text
			out.Generated = true
			return out, nil
		case ctx.Err() != nil:
			return out, ctx.Err()
		default:
			s.logger.Warn("synthesis model unavailable, using deterministic summary", "error", err)
		}
	}

	text := deterministicMessage(facts, citations)
	for _, chunk := range Chunks(text, ChunkSize) {
		if err := emit(chunk); err != nil {
			return out, err
		}
	}
	out.Response.Message = text
	return out, nil
}

func (s *Synthesizer) generate(ctx context.Context, st *AgentState, facts []string, citations []event.Citation, emit func(string) error) (string, llm.Usage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := tracing.StartModelSpan(ctx, "synthesize")

	lines := make([]string, len(citations))
	for i, c := range citations {
		lines[i] = citationLine(c)
	}
	msgs := make([]*schema.Message, 0, len(st.History)+2)
	msgs = append(msgs, schema.SystemMessage(SystemPrompt))
	msgs = append(msgs, session.ToSchema(st.History)...)
	msgs = append(msgs, schema.UserMessage(synthesisPrompt(st.Query, facts, lines)))

	stream, err := s.model.Stream(ctx, msgs)
	if err != nil {
		tracing.EndSpan(span, err)
		return "", llm.Usage{}, false, err
	}
	defer stream.Close()

	var b strings.Builder
	var usage llm.Usage
	emitted := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tracing.EndSpan(span, err)
			return b.String(), usage, emitted, err
		}
		if u := llm.UsageOf(chunk); u.Total() > 0 {
			usage = u
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := emit(chunk.Content); err != nil {
			tracing.EndSpan(span, err)
			return b.String(), usage, emitted, err
		}
		emitted = true
		b.WriteString(chunk.Content)
	}
	tracing.EndSpan(span, nil)

	text := b.String()
	if usage.Total() == 0 {
		usage = llm.Usage{Input: llm.EstimateMessages(msgs), Output: llm.EstimateTokens(text)}
	}
	llm.RecordUsage(usage)
	return text, usage, emitted, nil
}

// facts 每个成功结果一行摘要
func (s *Synthesizer) facts(steps []Step) []string {
	var out []string
	for _, step := range steps {
		if step.Verdict.Outcome != OutcomeValid {
			continue
		}
		def, ok := s.reg.Get(step.Tool)
		if !ok {
			continue
		}
		if def.Summarize != nil {
			out = append(out, def.Summarize(step.Result.Data))
			continue
		}
		out = append(out, def.DisplayName+" completed.")
	}
	return out
}

func deterministicMessage(facts []string, citations []event.Citation) string {
	var b strings.Builder
	b.WriteString(strings.Join(facts, "\n"))
	if len(citations) > 0 {
		b.WriteString("\n\nKey figures:")
		for _, c := range citations {
			b.WriteString("\n")
			b.WriteString(citationLine(c))
		}
	}
	return b.String()
}

// Chunks 按字符数切分，不拆开多字节字符
func Chunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	var out []string
	for len(text) > 0 {
		n, i := 0, 0
		for i < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[i:])
			i += w
			n++
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	return out
}
