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
	"context"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/sse"

	"finagent/internal/agent/event"
)

// sseWriter 把 StreamEvent 以 SSE 帧写入响应；写失败（客户端断开）即取消本轮
type sseWriter struct {
	c      *app.RequestContext
	cancel context.CancelFunc
	stream *sse.Stream

	mu     sync.Mutex
	failed bool
}

// newSSEWriter 写出响应头；有底层连接时由 sse.Stream 边写边刷，否则（ut 测试）帧追加到响应体
func newSSEWriter(c *app.RequestContext, cancel context.CancelFunc) *sseWriter {
	c.SetStatusCode(consts.StatusOK)
	c.Response.Header.Set("X-Accel-Buffering", "no")

	w := &sseWriter{c: c, cancel: cancel}
	if c.GetWriter() != nil {
		w.stream = sse.NewStream(c)
		return w
	}
	c.Response.Header.Set("Content-Type", "text/event-stream")
	c.Response.Header.Set("Cache-Control", "no-cache")
	return w
}

// Emit 实现 event.Sink
func (w *sseWriter) Emit(_ context.Context, e event.Event) error {
	ev, err := event.ToSSE(e)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		return context.Canceled
	}
	if w.stream != nil {
		err = w.stream.Publish(ev)
	} else {
		err = sse.Encode(w.c, ev)
	}
	if err != nil {
		return w.fail(err)
	}
	return nil
}

func (w *sseWriter) fail(err error) error {
	w.failed = true
	w.cancel()
	return err
}
