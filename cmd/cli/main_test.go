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

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/agent/event"
	"finagent/internal/tool/builtin"
	"finagent/pkg/log"
)

func TestEvalCorpus_Passes(t *testing.T) {
	cases, err := loadEvalCases(evalCorpus)
	require.NoError(t, err)
	require.NotEmpty(t, cases)

	outcomes, err := runEval(context.Background(), log.Discard(), cases)
	require.NoError(t, err)
	require.Len(t, outcomes, len(cases))
	for _, o := range outcomes {
		assert.True(t, o.Passed, "%s: %v", o.Name, o.Failures)
	}

	var buf bytes.Buffer
	require.NoError(t, reportEval(&buf, outcomes, false))
	assert.Contains(t, buf.String(), "passed")
}

func TestLoadEvalCases_RequiresQuestion(t *testing.T) {
	_, err := loadEvalCases([]byte("- name: broken\n"))
	require.Error(t, err)
}

func TestReportEval_FailureReturnsError(t *testing.T) {
	var buf bytes.Buffer
	err := reportEval(&buf, []evalOutcome{
		{Name: "ok", Passed: true},
		{Name: "bad", Failures: []string{"tools [], want [x]"}},
	}, false)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "FAIL  bad")
	assert.Contains(t, buf.String(), "1/2 passed")
}

func frames(t *testing.T, events ...event.Event) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range events {
		require.NoError(t, event.Encode(&buf, e))
	}
	return buf.Bytes()
}

func TestReadFrames(t *testing.T) {
	raw := frames(t,
		event.Event{Kind: event.KindThinking, Data: event.ThinkingData{Message: "Analyzing your request..."}},
		event.Event{Kind: event.KindToken, Data: event.TokenData{Text: "Up 4%."}},
		event.Event{Kind: event.KindDone, Data: event.DoneData{ThreadID: "thread-1", Response: event.Response{Message: "Up 4%.", Confidence: 1, Category: event.CategoryAnalysis}}},
		event.Event{Kind: event.KindToken, Data: event.TokenData{Text: "after done"}},
	)
	rec := &event.Recorder{}
	require.NoError(t, readFrames(context.Background(), bytes.NewReader(raw), rec))

	assert.Equal(t, []event.Kind{event.KindThinking, event.KindToken, event.KindDone}, rec.Kinds())
	assert.Equal(t, "Up 4%.", rec.Text())
	done, ok := rec.Done()
	require.True(t, ok)
	assert.Equal(t, "thread-1", done.ThreadID)
}

func TestReadFrames_Truncated(t *testing.T) {
	raw := frames(t, event.Event{Kind: event.KindThinking, Data: event.ThinkingData{Message: "x"}})
	err := readFrames(context.Background(), bytes.NewReader(raw), &event.Recorder{})
	require.Error(t, err)
}

func TestReadFrames_UnknownEvent(t *testing.T) {
	err := readFrames(context.Background(), strings.NewReader("event: bogus\ndata: {}\n\n"), &event.Recorder{})
	require.Error(t, err)
}

func TestReadFrames_MultiLineData(t *testing.T) {
	raw := "event: token\ndata: {\"text\":\ndata:  \"two lines\"}\n\n" +
		"event:error\ndata:{\"code\":\"TOOL_ERROR\",\"message\":\"boom\"}\n\n"
	rec := &event.Recorder{}
	require.NoError(t, readFrames(context.Background(), strings.NewReader(raw), rec))

	assert.Equal(t, []event.Kind{event.KindToken, event.KindError}, rec.Kinds())
	assert.Equal(t, "two lines", rec.Text())
	e, ok := rec.Err()
	require.True(t, ok)
	assert.Equal(t, "TOOL_ERROR", e.Code)
}

func TestClient_Chat(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agent/chat", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_ = event.Encode(w, event.Event{Kind: event.KindError, Data: event.ErrorData{Code: "AUTH_REQUIRED", Message: "Please sign in."}})
	}))
	defer srv.Close()

	rec := &event.Recorder{}
	err := newClient(srv.URL+"/", "tok").Chat(context.Background(), chatRequest{Message: "hi", ThreadID: "t1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, chatRequest{Message: "hi", ThreadID: "t1"}, gotBody)
	e, ok := rec.Err()
	require.True(t, ok)
	assert.Equal(t, "AUTH_REQUIRED", e.Code)
}

func TestClient_ChatBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newClient(srv.URL, "").Chat(context.Background(), chatRequest{}, &event.Recorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is required")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestToolsCmd(t *testing.T) {
	out, err := execute(t, "tools", "--config", "")
	require.NoError(t, err)

	var catalog []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	var names []string
	for _, entry := range catalog {
		if name, ok := entry["name"].(string); ok {
			names = append(names, name)
		}
	}
	assert.Contains(t, names, builtin.PerformanceToolName)
	assert.Contains(t, names, builtin.MarketToolName)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "finagent dev\n", out)
}

func TestAskCmd_LocalJSON(t *testing.T) {
	out, err := execute(t, "ask", "--config", "", "--offline", "--json", "How is my portfolio doing ytd?")
	require.NoError(t, err)

	var kinds []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var line struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line.Event)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, "thinking", kinds[0])
	assert.Contains(t, kinds, "tool_call")
	assert.Equal(t, "done", kinds[len(kinds)-1])
}

func TestPrinter_Text(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	ctx := context.Background()
	require.NoError(t, p.Emit(ctx, event.Event{Kind: event.KindToolCall, Data: event.ToolCallData{Tool: "perf", Args: map[string]any{"b": 2, "a": 1}, Attempt: 1}}))
	require.NoError(t, p.Emit(ctx, event.Event{Kind: event.KindToken, Data: event.TokenData{Text: "Up"}}))
	require.NoError(t, p.Emit(ctx, event.Event{Kind: event.KindToken, Data: event.TokenData{Text: " 4%."}}))
	require.NoError(t, p.Emit(ctx, event.Event{Kind: event.KindDone, Data: event.DoneData{Response: event.Response{
		Confidence: 1,
		Category:   event.CategoryAnalysis,
		Citations:  []event.Citation{{Label: "[1]", DisplayName: "Net return", Value: "4.00%"}},
	}}}))

	assert.Equal(t, "→ perf(a=1, b=2) attempt 1\nUp 4%.\n  [1] Net return: 4.00%\nconfidence 1.00 · analysis\n", buf.String())
}
