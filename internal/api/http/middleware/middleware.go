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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"finagent/internal/portfolio"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Origin, Content-Type, Content-Length, Accept, Authorization, Cache-Control"
)

// Middleware 中间件管理器
type Middleware struct {
	origins map[string]bool
}

// NewMiddleware origins 为允许跨域的来源（已去重）
func NewMiddleware(origins []string) *Middleware {
	m := &Middleware{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			m.origins[o] = true
		}
	}
	return m
}

// CORS 仅回显白名单内的 Origin；预检请求直接 204
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (m.origins["*"] || m.origins[origin]) {
			c.Response.Header.Set("Access-Control-Allow-Origin", origin)
			c.Response.Header.Set("Vary", "Origin")
			c.Response.Header.Set("Access-Control-Allow-Methods", allowMethods)
			c.Response.Header.Set("Access-Control-Allow-Headers", allowHeaders)
			c.Response.Header.Set("Access-Control-Allow-Credentials", "true")
			c.Response.Header.Set("Access-Control-Max-Age", "86400")
		}
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// Bearer 把 Authorization: Bearer <jwt> 放入 ctx，供数据源以调用方身份访问
func (m *Middleware) Bearer() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if token, ok := BearerToken(c.Request.Header.Get("Authorization")); ok {
			ctx = portfolio.WithBearer(ctx, token)
		}
		c.Next(ctx)
	}
}

// BearerToken 解析 Authorization 头，scheme 大小写不敏感
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
