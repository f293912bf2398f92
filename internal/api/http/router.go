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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"finagent/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	audit      *middleware.AuditMiddleware
	extra      []app.HandlerFunc
	metrics    bool
}

// NewRouter 创建新的 HTTP 路由器；audit 为 nil 时不记录访问日志
func NewRouter(handler *Handler, mw *middleware.Middleware, audit *middleware.AuditMiddleware) *Router {
	return &Router{handler: handler, middleware: mw, audit: audit, metrics: true}
}

// SetMetricsEnabled 关闭后不注册 /metrics
func (r *Router) SetMetricsEnabled(enabled bool) {
	r.metrics = enabled
}

// Use 追加全局中间件（如 tracing），须在 Build 之前调用
func (r *Router) Use(mw ...app.HandlerFunc) {
	r.extra = append(r.extra, mw...)
}

// Build 创建 Hertz 实例并注册路由（opts 可追加 tracer 等）
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	r.Register(h)
	return h
}

// Register 在已有实例上注册路由
func (r *Router) Register(h *server.Hertz) {
	if len(r.extra) > 0 {
		h.Use(r.extra...)
	}
	if r.audit != nil {
		h.Use(r.audit.AuditAccess())
	}
	h.Use(r.middleware.CORS())

	h.GET("/health", r.handler.HealthCheck)
	if r.metrics {
		h.GET("/metrics", r.handler.Metrics)
	}

	api := h.Group("/api")
	api.GET("/tools", r.handler.ListTools)
	api.POST("/agent/chat", r.middleware.Bearer(), r.handler.Chat)
	// 预检由 CORS 中间件应答
	api.OPTIONS("/tools", preflight)
	api.OPTIONS("/agent/chat", preflight)
}

func preflight(context.Context, *app.RequestContext) {}
