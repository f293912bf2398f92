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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/agent/event"
	"finagent/internal/tool"
	"finagent/internal/tool/builtin"
)

func TestScenarioA_PerformanceYTD(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	res, rec := h.run(t, "How is my portfolio doing ytd?")

	assert.Equal(t, StateDone, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, builtin.PerformanceToolName, res.Steps[0].Tool)
	assert.Equal(t, "ytd", res.Steps[0].Args["time_period"])
	assert.Equal(t, StrategyKeyword, res.Strategy)
	assert.Equal(t, 1, rec.Count(event.KindToolCall))
	assert.Equal(t, 1, rec.Count(event.KindToolResult))
	assertCausalOrder(t, rec.Events())

	done, ok := rec.Done()
	require.True(t, ok)
	assert.Equal(t, "thread-test", done.ThreadID)
	assert.Equal(t, event.CategoryAnalysis, done.Response.Category)
	assert.Equal(t, 1.0, done.Response.Confidence)
	require.Len(t, done.Response.Citations, 3)
	assert.Equal(t, "[1]", done.Response.Citations[0].Label)
	assert.Equal(t, "14.29%", done.Response.Citations[0].Value)
	assert.True(t, Grounded(done.Response.Citations, res.Steps))
	assert.Equal(t, done.Response.Message, rec.Text(), "tokens concatenate to the final message")
	require.Len(t, done.ToolCallHistory, 1)
	assert.True(t, done.ToolCallHistory[0].Success)
}

func TestScenarioB_OutOfScopeClarifies(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	res, rec := h.run(t, "What's the weather today?")

	assert.Equal(t, StateClarified, res.State)
	assert.Zero(t, rec.Count(event.KindToolCall))
	assert.Empty(t, res.Steps)
	assertCausalOrder(t, rec.Events())

	done, ok := rec.Done()
	require.True(t, ok)
	assert.Equal(t, Clarify().Message, done.Response.Message)
	assert.Equal(t, event.CategoryClarification, done.Response.Category)
	assert.Empty(t, done.Response.Citations)
	assert.Zero(t, done.Response.Confidence)
	assert.Empty(t, done.ToolCallHistory)
}

func TestScenarioC_EmptyDataFailsWithoutRetry(t *testing.T) {
	handler := &scripted{results: []tool.Result{tool.OK(map[string]any{})}}
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})
	res, rec := h.run(t, "how is my portfolio?")

	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, 1, handler.count())
	assert.Zero(t, res.Retries)
	assertCausalOrder(t, rec.Events())

	e, ok := rec.Err()
	require.True(t, ok)
	assert.Equal(t, string(CodeEmptyPortfolio), e.Code)
	assert.Equal(t, safeMessages[string(CodeEmptyPortfolio)], e.Message)
}

func TestScenarioD_RetriesThenSucceeds(t *testing.T) {
	handler := &scripted{results: []tool.Result{
		tool.Fail("API_TIMEOUT", "upstream slow"),
		tool.Fail(string(CodeToolError), "flaky"),
		okScore(7),
	}}
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})
	res, rec := h.run(t, "how is my portfolio?")

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 3, handler.count())
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 1, res.ChainDepth)
	assertCausalOrder(t, rec.Events())

	successes := 0
	for _, e := range rec.Events() {
		if d, ok := e.Data.(event.ToolResultData); ok && d.Success {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, rec.Count(event.KindToolResult))

	done, ok := rec.Done()
	require.True(t, ok)
	require.Len(t, done.ToolCallHistory, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{done.ToolCallHistory[0].Attempt, done.ToolCallHistory[1].Attempt, done.ToolCallHistory[2].Attempt})
	assert.Less(t, done.Response.Confidence, 1.0)
	assert.Greater(t, done.Response.Confidence, 0.0)
}

func TestScenarioE_ChainsTaxAndAllocation(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	res, rec := h.run(t, "Am I diversified and tax-efficient?")

	assert.Equal(t, StateDone, res.State)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, builtin.TaxToolName, res.Steps[0].Tool)
	assert.Equal(t, builtin.AllocationToolName, res.Steps[1].Tool)
	assert.Equal(t, 2, res.ChainDepth)
	assertCausalOrder(t, rec.Events())

	done, ok := rec.Done()
	require.True(t, ok)
	cited := map[string]bool{}
	for _, c := range done.Response.Citations {
		cited[c.Tool] = true
	}
	assert.True(t, cited[builtin.TaxToolName])
	assert.True(t, cited[builtin.AllocationToolName])
	assert.True(t, Grounded(done.Response.Citations, res.Steps))
	assert.Equal(t, 1, rec.Count(event.KindDone))
}

func TestOrchestrator_RetriesExhausted(t *testing.T) {
	handler := &scripted{results: []tool.Result{tool.Fail(string(CodeToolTimeout), "slow")}}
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})
	res, rec := h.run(t, "portfolio please")

	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, DefaultMaxRetries+1, handler.count())
	assert.Equal(t, DefaultMaxRetries, res.Retries)
	e, _ := rec.Err()
	assert.Equal(t, string(CodeMaxRetriesExceeded), e.Code)
	assertCausalOrder(t, rec.Events())
}

func TestOrchestrator_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		code string
		want Code
	}{
		{"AUTH_FAILED", CodeAuthRequired},
		{string(CodeEmptyPortfolio), CodeEmptyPortfolio},
		{"INVALID_TIME_PERIOD", CodeToolError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			handler := &scripted{results: []tool.Result{tool.Fail(tt.code, "raw upstream body")}}
			h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})
			_, rec := h.run(t, "portfolio")

			assert.Equal(t, 1, handler.count())
			e, ok := rec.Err()
			require.True(t, ok)
			assert.Equal(t, string(tt.want), e.Code)
			assert.NotContains(t, e.Message, "raw upstream body")
		})
	}
}

func TestOrchestrator_SchemaViolationNotRetried(t *testing.T) {
	handler := &scripted{results: []tool.Result{tool.OK(map[string]any{"other": 1})}}
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})
	res, rec := h.run(t, "portfolio")

	assert.Equal(t, 1, handler.count())
	assert.Equal(t, OutcomeSchemaViolation, res.Steps[0].Verdict.Outcome)
	e, _ := rec.Err()
	assert.Equal(t, string(CodeSchemaViolation), e.Code)
}

func fourTools(calls *[4]*scripted) []tool.Definition {
	names := []string{"alpha", "beta", "gamma", "delta"}
	defs := make([]tool.Definition, len(names))
	for i, n := range names {
		calls[i] = &scripted{results: []tool.Result{okScore(float64(i + 1))}}
		defs[i] = scriptedTool(n, []string{n}, calls[i])
	}
	return defs
}

func TestOrchestrator_ChainDepthBounded(t *testing.T) {
	var calls [4]*scripted
	h := newHarness(t, fourTools(&calls))
	res, rec := h.run(t, "alpha beta gamma delta")

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, DefaultMaxChainDepth, res.ChainDepth)
	assert.Len(t, res.Steps, 3)
	assert.Zero(t, calls[3].count(), "steps beyond the depth limit are dropped")
	assert.Equal(t, 3, rec.Count(event.KindToolCall))
	assertCausalOrder(t, rec.Events())
}

func TestOrchestrator_ChainOverflowCanFail(t *testing.T) {
	var calls [4]*scripted
	h := newHarness(t, fourTools(&calls), func(c *harnessConfig) { c.limits.FailOnChainOverflow = true })
	res, rec := h.run(t, "alpha beta gamma delta")

	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, DefaultMaxChainDepth, res.ChainDepth)
	e, _ := rec.Err()
	assert.Equal(t, string(CodeMaxChainDepthExceeded), e.Code)
}

func TestOrchestrator_FollowUpAddsCompliance(t *testing.T) {
	alloc := tool.Definition{
		Name:         "alloc",
		OutputSchema: scoreSchema,
		Triggers:     []string{"allocation"},
		FollowUps: func(data map[string]any) []string {
			return []string{"comply", "alloc", "missing"}
		},
		Handler: &scripted{results: []tool.Result{okScore(1)}},
	}
	comply := scriptedTool("comply", []string{"compliance"}, &scripted{results: []tool.Result{okScore(2)}})
	h := newHarness(t, []tool.Definition{alloc, comply})
	res, _ := h.run(t, "check my allocation")

	require.Len(t, res.Steps, 2)
	assert.Equal(t, "comply", res.Steps[1].Tool)
	assert.Equal(t, 2, res.ChainDepth)
}

func TestOrchestrator_RequiresCredential(t *testing.T) {
	handler := &scripted{results: []tool.Result{okScore(1)}}
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)},
		func(c *harnessConfig) { c.requireCredential = true })
	_, rec := h.run(t, "portfolio")

	assert.Equal(t, []event.Kind{event.KindThinking, event.KindError}, rec.Kinds())
	e, _ := rec.Err()
	assert.Equal(t, string(CodeAuthRequired), e.Code)
	assert.Zero(t, handler.count())

	rec = &event.Recorder{}
	res, err := h.orch.Run(context.Background(), Request{Message: "portfolio", Credential: "token"}, rec)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestOrchestrator_RejectsBlankMessage(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	_, err := h.orch.Run(context.Background(), Request{Message: "   "}, nil)
	assert.Error(t, err)
}

func TestOrchestrator_MintsThreadID(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	rec := &event.Recorder{}
	res, err := h.orch.Run(context.Background(), Request{Message: "What's the weather?"}, rec)
	require.NoError(t, err)
	done, _ := rec.Done()
	assert.NotEmpty(t, res.ThreadID)
	assert.Equal(t, res.ThreadID, done.ThreadID)
}

func TestOrchestrator_HistoryIsStrictAppend(t *testing.T) {
	h := newHarness(t, builtinTools(t))
	ctx := context.Background()
	_, _ = h.run(t, "How is my portfolio doing ytd?")
	first, err := h.threads.History(ctx, "thread-test")
	require.NoError(t, err)
	require.Len(t, first, 2)

	res, _ := h.run(t, "Based on that, what should I do next?")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, builtin.PerformanceToolName, res.Steps[0].Tool, "follow-up reuses the previous tool")
	assert.Equal(t, StrategyFollowUp, res.Strategy)

	all, err := h.threads.History(ctx, "thread-test")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, first, all[:2])
}

func TestOrchestrator_SerializesSameThread(t *testing.T) {
	var active, peak int32
	handler := tool.HandlerFunc(func(ctx context.Context, _ map[string]any) (tool.Result, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return okScore(1), nil
	})
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Run(context.Background(), Request{Message: "portfolio", ThreadID: "shared"}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)

	history, err := h.threads.History(context.Background(), "shared")
	require.NoError(t, err)
	assert.Len(t, history, 8)
}

func TestOrchestrator_CancelIsIdempotent(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	handler := tool.HandlerFunc(func(ctx context.Context, _ map[string]any) (tool.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return tool.Result{}, ctx.Err()
	})
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)})

	rec := &event.Recorder{}
	handle := h.orch.Start(context.Background(), Request{Message: "portfolio"}, rec)
	<-started
	handle.Cancel()
	handle.Cancel()

	_, err := handle.Wait()
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, rec.Count(event.KindDone)+rec.Count(event.KindError), "no terminal event after cancellation")
	assert.Zero(t, rec.Count(event.KindToolResult))
	handle.Cancel()
}

func TestOrchestrator_TurnDeadline(t *testing.T) {
	handler := tool.HandlerFunc(func(ctx context.Context, _ map[string]any) (tool.Result, error) {
		<-ctx.Done()
		return tool.Result{}, ctx.Err()
	})
	h := newHarness(t, []tool.Definition{scriptedTool("perf", []string{"portfolio"}, handler)},
		func(c *harnessConfig) { c.limits.TurnTimeout = 30 * time.Millisecond })
	res, rec := h.run(t, "portfolio")

	assert.Equal(t, StateErrored, res.State)
	e, ok := rec.Err()
	require.True(t, ok)
	assert.Equal(t, string(CodeToolTimeout), e.Code)
	assert.Zero(t, res.Retries, "an expired turn budget is not retried")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, string(CodeToolTimeout), res.Steps[0].Result.ErrorCode())
	assert.Equal(t, 1, rec.Count(event.KindToolCall))
	assertCausalOrder(t, rec.Events())
}

func TestOrchestrator_ModelRoutingAndStreaming(t *testing.T) {
	chat := &fakeChat{
		reply:  toolCallReply(builtin.PerformanceToolName, `{"time_period":"1y"}`),
		chunks: []string{"Your portfolio ", "is up 14.29% [1]."},
	}
	h := newHarness(t, builtinTools(t), func(c *harnessConfig) { c.chat = chat })
	res, rec := h.run(t, "How has it gone over the past year?")

	assert.Equal(t, StrategyModel, res.Strategy)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "1y", res.Steps[0].Args["time_period"])
	assert.Equal(t, "Your portfolio is up 14.29% [1].", rec.Text())
	assert.Equal(t, 2, rec.Count(event.KindToken))
	assert.Len(t, chat.bound, 6, "router binds the full catalog")

	done, _ := rec.Done()
	assert.Equal(t, event.TokenUsage{Input: 140, Output: 18, Total: 158}, done.TokenUsage)
}
