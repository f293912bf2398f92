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
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"finagent/internal/agent"
	"finagent/internal/agent/event"
	"finagent/internal/portfolio"
	pkgerrors "finagent/pkg/errors"
	"finagent/pkg/log"
	"finagent/pkg/metrics"
)

// TurnRunner 执行一轮对话并把事件写入 sink
type TurnRunner interface {
	Run(ctx context.Context, req agent.Request, sink event.Sink) (*agent.Result, error)
}

// Catalog 工具目录
type Catalog interface {
	CatalogJSON() ([]byte, error)
}

// Handler HTTP 处理器
type Handler struct {
	runner  TurnRunner
	catalog Catalog
	version string
	logger  *log.Logger
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(runner TurnRunner, catalog Catalog, version string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Handler{runner: runner, catalog: catalog, version: version, logger: logger}
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Chat POST /api/agent/chat：以 SSE 返回一轮的事件流
func (h *Handler) Chat(ctx context.Context, c *app.RequestContext) {
	var req chatRequest
	if len(bytes.TrimSpace(c.Request.Body())) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "request body must be a JSON object"})
			return
		}
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "message is required"})
		return
	}
	credential, _ := portfolio.BearerFrom(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := newSSEWriter(c, cancel)

	res, err := h.runner.Run(ctx, agent.Request{
		Message:    req.Message,
		ThreadID:   strings.TrimSpace(req.ThreadID),
		Credential: credential,
	}, w)
	switch {
	case err == nil:
	case pkgerrors.Is(err, context.Canceled):
		h.logger.Info("chat stream closed by client")
	default:
		h.logger.Error("chat turn failed", "error", err)
	}
	if res != nil {
		h.logger.Info("chat turn finished",
			"thread_id", res.ThreadID,
			"state", res.State,
			"strategy", res.Strategy,
			"chain_depth", res.ChainDepth,
			"retries", res.Retries,
			"tokens", res.Usage.Total(),
		)
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":  "ok",
		"version": h.version,
	})
}

// ListTools 工具目录（名称、说明、参数 JSON Schema）
func (h *Handler) ListTools(ctx context.Context, c *app.RequestContext) {
	body, err := h.catalog.CatalogJSON()
	if err != nil {
		h.logger.Error("encode tool catalog failed", "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "tool catalog unavailable"})
		return
	}
	c.Data(consts.StatusOK, "application/json; charset=utf-8", body)
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.logger.Error("gather metrics failed", "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "metrics unavailable"})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
