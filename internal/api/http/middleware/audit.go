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

package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"finagent/pkg/log"
)

// AuditMiddleware 访问审计中间件
type AuditMiddleware struct {
	auditStore AuditStore
}

// AuditStore 审计日志存储接口
type AuditStore interface {
	LogAccess(ctx context.Context, log AuditLog) error
}

// AuditLog 审计日志记录；不含请求体与令牌
type AuditLog struct {
	Action        string
	Method        string
	Path          string
	Status        int
	Authenticated bool
	DurationMS    int64
	CreatedAt     time.Time
}

// NewAuditMiddleware 创建审计中间件
func NewAuditMiddleware(auditStore AuditStore) *AuditMiddleware {
	return &AuditMiddleware{auditStore: auditStore}
}

// AuditAccess 请求结束后记录一条访问日志。SSE 响应在 handler 返回前已写完。
func (a *AuditMiddleware) AuditAccess() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		_, authenticated := BearerToken(c.Request.Header.Get("Authorization"))

		c.Next(ctx)

		path := string(c.Path())
		_ = a.auditStore.LogAccess(ctx, AuditLog{
			Action:        determineAction(string(c.Method()), path),
			Method:        string(c.Method()),
			Path:          path,
			Status:        c.Response.StatusCode(),
			Authenticated: authenticated,
			DurationMS:    time.Since(start).Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		})
	}
}

// determineAction 根据 HTTP 方法和路径确定操作类型
func determineAction(method string, path string) string {
	switch {
	case method == "OPTIONS":
		return "preflight"
	case strings.HasPrefix(path, "/api/agent/chat"):
		return "chat_turn"
	case strings.HasPrefix(path, "/api/tools"):
		return "list_tools"
	case path == "/health":
		return "health"
	case path == "/metrics":
		return "scrape_metrics"
	}
	return "unknown"
}

// LogStore 把审计记录写入结构化日志
type LogStore struct {
	logger *log.Logger
}

// NewLogStore 创建 LogStore
func NewLogStore(logger *log.Logger) *LogStore {
	return &LogStore{logger: logger}
}

// LogAccess 实现 AuditStore
func (s *LogStore) LogAccess(_ context.Context, l AuditLog) error {
	s.logger.Info("access",
		"action", l.Action,
		"method", l.Method,
		"path", l.Path,
		"status", l.Status,
		"authenticated", l.Authenticated,
		"duration_ms", l.DurationMS,
	)
	return nil
}
