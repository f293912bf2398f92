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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"finagent/internal/agent/event"
)

// client 远程 API 客户端
type client struct {
	rc *resty.Client
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

func newClient(baseURL, token string) *client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(5*time.Minute).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &client{rc: rc}
}

// Chat 发起一轮并把 SSE 事件逐个交给 sink
func (c *client) Chat(ctx context.Context, req chatRequest, sink event.Sink) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/api/agent/chat")
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return fmt.Errorf("POST /api/agent/chat: %s %s", resp.Status(), bytes.TrimSpace(msg))
	}
	return readFrames(ctx, body, sink)
}

// readFrames 解析 event:/data: 帧，直到流结束或终止事件。
// 不用 hertz-contrib/sse 的客户端：它断线即按 EventSource 语义重连重发，
// 而一次 chat 是带鉴权的 POST，重发会让工具调用再跑一遍；这里只读一条 resty 已打开的响应体。
func readFrames(ctx context.Context, r io.Reader, sink event.Sink) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var kind string
	var data [][]byte
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		case line == "":
			if kind == "" {
				continue
			}
			e, err := decodeEvent(event.Kind(kind), bytes.Join(data, []byte("\n")))
			if err != nil {
				return err
			}
			if err := sink.Emit(ctx, e); err != nil {
				return err
			}
			if e.Kind.Terminal() {
				return nil
			}
			kind, data = "", nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without done or error event")
}

func decodeEvent(kind event.Kind, data []byte) (event.Event, error) {
	switch kind {
	case event.KindThinking:
		return decodeAs[event.ThinkingData](kind, data)
	case event.KindToolCall:
		return decodeAs[event.ToolCallData](kind, data)
	case event.KindToolResult:
		return decodeAs[event.ToolResultData](kind, data)
	case event.KindToken:
		return decodeAs[event.TokenData](kind, data)
	case event.KindDone:
		return decodeAs[event.DoneData](kind, data)
	case event.KindError:
		return decodeAs[event.ErrorData](kind, data)
	}
	return event.Event{}, fmt.Errorf("unknown event %q", kind)
}

// decodeAs 解出与本地事件相同的值类型
func decodeAs[T any](kind event.Kind, data []byte) (event.Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return event.Event{}, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return event.Event{Kind: kind, Data: v}, nil
}
