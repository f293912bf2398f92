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
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"finagent/internal/agent/event"
	"finagent/internal/portfolio"
	"finagent/internal/runtime/session"
	"finagent/internal/tool"
	"finagent/internal/tool/builtin"
	"finagent/internal/tool/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = func() time.Time { return time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC) }

func builtinTools(t *testing.T) []tool.Definition {
	t.Helper()
	src, err := portfolio.NewMock()
	require.NoError(t, err)
	return builtin.Tools(src, builtin.Options{Now: fixedNow})
}

func planRules() []PlanRule {
	var out []PlanRule
	for _, p := range builtin.PlanPhrases() {
		out = append(out, PlanRule{Phrase: p.Phrase, Tools: p.Tools})
	}
	return out
}

type harness struct {
	reg     *registry.Registry
	router  *Router
	threads *session.Manager
	orch    *Orchestrator
}

type harnessConfig struct {
	limits            Limits
	chat              model.ToolCallingChatModel
	requireCredential bool
}

func newHarness(t *testing.T, defs []tool.Definition, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{limits: DefaultLimits()}
	cfg.limits.ToolTimeout = time.Second
	for _, o := range opts {
		o(&cfg)
	}
	reg, err := registry.NewBuilder().Register(defs...).Build()
	require.NoError(t, err)
	router, err := NewRouter(reg, NewKeywordTable(reg, planRules()...), RouterOptions{Model: cfg.chat, Now: fixedNow})
	require.NoError(t, err)
	threads := session.NewManager(session.NewMemoryStore())
	var synthModel model.BaseChatModel
	if cfg.chat != nil {
		synthModel = cfg.chat
	}
	orch := NewOrchestrator(reg, router,
		NewExecutor(reg, cfg.limits.ToolTimeout, nil),
		NewSynthesizer(reg, synthModel, 0, nil),
		threads,
		Config{Limits: cfg.limits, RequireCredential: cfg.requireCredential},
	)
	return &harness{reg: reg, router: router, threads: threads, orch: orch}
}

func (h *harness) run(t *testing.T, message string) (*Result, *event.Recorder) {
	t.Helper()
	rec := &event.Recorder{}
	res, err := h.orch.Run(context.Background(), Request{Message: message, ThreadID: "thread-test"}, rec)
	require.NoError(t, err)
	return res, rec
}

// scripted 按调用序号返回预设结果的工具
type scripted struct {
	mu      sync.Mutex
	calls   int
	results []tool.Result
}

func (s *scripted) Call(ctx context.Context, _ map[string]any) (tool.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var scoreSchema = tool.Schema{"score": {Type: tool.Number, Required: true, Minimum: tool.Bound(0)}}

func scriptedTool(name string, triggers []string, h tool.Handler) tool.Definition {
	return tool.Definition{
		Name:         name,
		Description:  name + " test tool",
		OutputSchema: scoreSchema,
		Triggers:     triggers,
		Highlights:   []tool.Highlight{{Field: "score", Format: tool.FormatCount}},
		Handler:      h,
	}
}

func okScore(v float64) tool.Result {
	return tool.OK(map[string]any{"score": v})
}

// fakeChat 可编排的 ChatModel
type fakeChat struct {
	mu        sync.Mutex
	reply     *schema.Message
	genErr    error
	chunks    []string
	streamErr error
	bound     []*schema.ToolInfo
	generated int
	streamed  int
}

func (f *fakeChat) Generate(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.reply, nil
}

func (f *fakeChat) Stream(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, &schema.Message{Role: schema.Assistant, Content: c})
	}
	if len(msgs) > 0 {
		msgs[len(msgs)-1].ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50}}
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.mu.Lock()
	f.bound = tools
	f.mu.Unlock()
	return f, nil
}

func toolCallReply(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 8, TotalTokens: 108}},
	}
}

// assertCausalOrder tool_call 与 tool_result 成对，终止事件唯一且在最后
func assertCausalOrder(t *testing.T, events []event.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	require.Equal(t, event.KindThinking, events[0].Kind)
	open := ""
	terminals := 0
	for i, e := range events {
		switch e.Kind {
		case event.KindToolCall:
			require.Empty(t, open, "tool_call at %d while another is open", i)
			open = e.Data.(event.ToolCallData).Tool
		case event.KindToolResult:
			require.Equal(t, open, e.Data.(event.ToolResultData).Tool, "tool_result at %d", i)
			open = ""
		case event.KindDone, event.KindError:
			terminals++
			require.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	require.Empty(t, open)
	require.Equal(t, 1, terminals)
}
