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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/agent"
	"finagent/internal/api/http/middleware"
	"finagent/internal/portfolio"
	"finagent/internal/runtime/session"
	"finagent/internal/tool/builtin"
	"finagent/internal/tool/registry"
)

var fixedNow = func() time.Time { return time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC) }

type testServer struct {
	h       *server.Hertz
	reg     *registry.Registry
	threads *session.Manager
}

func newTestServer(t *testing.T, requireCredential bool) *testServer {
	t.Helper()
	src, err := portfolio.NewMock()
	require.NoError(t, err)
	reg, err := builtin.NewRegistry(src, builtin.Options{Now: fixedNow})
	require.NoError(t, err)

	var rules []agent.PlanRule
	for _, p := range builtin.PlanPhrases() {
		rules = append(rules, agent.PlanRule{Phrase: p.Phrase, Tools: p.Tools})
	}
	router, err := agent.NewRouter(reg, agent.NewKeywordTable(reg, rules...), agent.RouterOptions{Now: fixedNow})
	require.NoError(t, err)
	threads := session.NewManager(nil)
	orch := agent.NewOrchestrator(reg, router,
		agent.NewExecutor(reg, 0, nil),
		agent.NewSynthesizer(reg, nil, 0, nil),
		threads,
		agent.Config{RequireCredential: requireCredential},
	)

	r := NewRouter(NewHandler(orch, reg, "test-build", nil), middleware.NewMiddleware([]string{"http://localhost:4200"}), nil)
	return &testServer{h: r.Build(":0"), reg: reg, threads: threads}
}

func jsonBody(v any) *ut.Body {
	b, _ := json.Marshal(v)
	return &ut.Body{Body: bytes.NewReader(b), Len: len(b)}
}

func emptyBody() *ut.Body {
	return &ut.Body{Body: bytes.NewReader(nil), Len: 0}
}

var jsonHeader = ut.Header{Key: "Content-Type", Value: "application/json"}

// sseEvents 解析 SSE 帧为 (kind, data) 列表
func sseEvents(t *testing.T, body []byte) ([]string, []map[string]any) {
	t.Helper()
	var kinds []string
	var data []map[string]any
	for _, frame := range strings.Split(strings.TrimSpace(string(body)), "\n\n") {
		var kind string
		var lines []string
		for _, line := range strings.Split(frame, "\n") {
			field, value, ok := strings.Cut(line, ":")
			require.True(t, ok, frame)
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				kind = value
			case "data":
				lines = append(lines, value)
			}
		}
		require.NotEmpty(t, kind, frame)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.Join(lines, "\n")), &m))
		kinds = append(kinds, kind)
		data = append(data, m)
	}
	return kinds, data
}

func TestChat_StreamsTurn(t *testing.T) {
	s := newTestServer(t, false)
	w := ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat",
		jsonBody(map[string]any{"message": "  How is my portfolio doing ytd?  "}), jsonHeader)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	kinds, data := sseEvents(t, resp.Body())
	require.NotEmpty(t, kinds)
	assert.Equal(t, "thinking", kinds[0])
	assert.Equal(t, agent.ThinkingMessage, data[0]["message"])
	assert.Contains(t, kinds, "tool_call")
	assert.Contains(t, kinds, "tool_result")
	assert.Contains(t, kinds, "token")
	assert.Equal(t, "done", kinds[len(kinds)-1])

	done := data[len(data)-1]
	threadID, _ := done["thread_id"].(string)
	assert.True(t, strings.HasPrefix(threadID, "thread-"))
	response := done["response"].(map[string]any)
	assert.Equal(t, "analysis", response["category"])
	assert.NotEmpty(t, response["citations"])
	history := done["tool_call_history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, builtin.PerformanceToolName, history[0].(map[string]any)["tool"])
	assert.Contains(t, done, "token_usage")

	msgs, err := s.threads.History(context.Background(), threadID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChat_ContinuesThread(t *testing.T) {
	s := newTestServer(t, false)
	body := map[string]any{"message": "Estimate my capital gains tax", "thread_id": "thread-abc"}
	w := ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat", jsonBody(body), jsonHeader)
	require.Equal(t, 200, w.Result().StatusCode())

	body["message"] = "Given that, what should I do next?"
	w = ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat", jsonBody(body), jsonHeader)
	kinds, data := sseEvents(t, w.Result().Body())
	require.Equal(t, "done", kinds[len(kinds)-1])
	done := data[len(data)-1]
	assert.Equal(t, "thread-abc", done["thread_id"])
	history := done["tool_call_history"].([]any)
	assert.Equal(t, builtin.TaxToolName, history[0].(map[string]any)["tool"])

	msgs, err := s.threads.History(context.Background(), "thread-abc")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChat_OutOfScopeClarifies(t *testing.T) {
	s := newTestServer(t, false)
	w := ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat",
		jsonBody(map[string]any{"message": "What's the weather today?"}), jsonHeader)
	kinds, data := sseEvents(t, w.Result().Body())
	assert.Equal(t, []string{"thinking", "done"}, kinds)
	response := data[1]["response"].(map[string]any)
	assert.Equal(t, "clarification", response["category"])
	assert.Equal(t, 0.0, response["confidence"])
}

func TestChat_BadRequest(t *testing.T) {
	s := newTestServer(t, false)
	tests := []struct {
		name string
		body *ut.Body
		want string
	}{
		{"blank message", jsonBody(map[string]any{"message": "   "}), "message is required"},
		{"missing body", &ut.Body{Body: bytes.NewReader(nil), Len: 0}, "message is required"},
		{"not json", &ut.Body{Body: strings.NewReader("hello"), Len: 5}, "JSON object"},
		{"json array", &ut.Body{Body: strings.NewReader(`["hi"]`), Len: 6}, "JSON object"},
		{"message not a string", &ut.Body{Body: strings.NewReader(`{"message":5}`), Len: 13}, "JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat", tt.body, jsonHeader)
			resp := w.Result()
			assert.Equal(t, 400, resp.StatusCode())
			assert.Contains(t, string(resp.Body()), tt.want)
		})
	}
}

func TestChat_RequiresBearer(t *testing.T) {
	s := newTestServer(t, true)
	w := ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat",
		jsonBody(map[string]any{"message": "How is my portfolio doing ytd?"}), jsonHeader)
	kinds, data := sseEvents(t, w.Result().Body())
	assert.Equal(t, []string{"thinking", "error"}, kinds)
	assert.Equal(t, "AUTH_REQUIRED", data[1]["code"])

	w = ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat",
		jsonBody(map[string]any{"message": "How is my portfolio doing ytd?"}), jsonHeader,
		ut.Header{Key: "Authorization", Value: "Bearer user-jwt"})
	kinds, _ = sseEvents(t, w.Result().Body())
	assert.Equal(t, "done", kinds[len(kinds)-1])
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, false)
	w := ut.PerformRequest(s.h.Engine, "GET", "/health", emptyBody())
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "version": "test-build"}, body)
}

func TestListTools(t *testing.T) {
	s := newTestServer(t, false)
	w := ut.PerformRequest(s.h.Engine, "GET", "/api/tools", emptyBody())
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var tools []registry.ToolSchemaForLLM
	require.NoError(t, json.Unmarshal(resp.Body(), &tools))
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	assert.Equal(t, s.reg.Names(), names)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, false)
	ut.PerformRequest(s.h.Engine, "POST", "/api/agent/chat",
		jsonBody(map[string]any{"message": "How is my portfolio doing ytd?"}), jsonHeader)

	w := ut.PerformRequest(s.h.Engine, "GET", "/metrics", emptyBody())
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	body := string(resp.Body())
	assert.Contains(t, body, "finagent_threads_active")
	assert.Contains(t, body, `finagent_turn_total{outcome="done"}`)
	assert.Contains(t, body, "finagent_tool_duration_seconds")
}
