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

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finagent/pkg/metrics"
)

// LimitConfig Provider 限流配置
type LimitConfig struct {
	TokensPerMinute   int     // 每分钟 token 配额
	RequestsPerMinute float64 // 每分钟请求数
	MaxConcurrent     int     // 最大并发请求数
}

// DefaultLimits 未单独配置的 provider 使用的限额
var DefaultLimits = LimitConfig{TokensPerMinute: 90000, RequestsPerMinute: 3500, MaxConcurrent: 50}

// RateLimiter Provider 维度限流：请求速率 + token 预算 + 并发槽
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*providerLimiter
	defaults LimitConfig
}

type providerLimiter struct {
	requests  *rate.Limiter
	tokens    *rate.Limiter
	semaphore chan struct{}
	tokenCap  int
}

// NewRateLimiter 创建限流器；defaults 为 nil 时使用 DefaultLimits
func NewRateLimiter(configs map[string]LimitConfig, defaults *LimitConfig) *RateLimiter {
	l := &RateLimiter{limiters: make(map[string]*providerLimiter), defaults: DefaultLimits}
	if defaults != nil {
		l.defaults = *defaults
	}
	for provider, cfg := range configs {
		l.limiters[provider] = newProviderLimiter(cfg)
	}
	return l
}

func newProviderLimiter(cfg LimitConfig) *providerLimiter {
	p := &providerLimiter{}
	if cfg.RequestsPerMinute > 0 {
		// burst 为 2 秒配额
		burst := max(int(cfg.RequestsPerMinute/60*2), 1)
		p.requests = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst)
	}
	if cfg.TokensPerMinute > 0 {
		burst := max(cfg.TokensPerMinute/60*2, 1)
		p.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60), burst)
		p.tokenCap = burst
	}
	if cfg.MaxConcurrent > 0 {
		p.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return p
}

func (l *RateLimiter) get(provider string) *providerLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.limiters[provider]
	if !ok {
		p = newProviderLimiter(l.defaults)
		l.limiters[provider] = p
	}
	return p
}

// Wait 阻塞直到获得执行许可；成功后必须调用 Release
func (l *RateLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	start := time.Now()
	defer func() {
		metrics.RateLimitWaitSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	p := l.get(provider)
	if p.requests != nil {
		if err := p.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	if p.tokens != nil && estimatedTokens > 0 {
		// 单次预估超过 burst 时按 burst 预扣，避免永远等不到
		if err := p.tokens.WaitN(ctx, min(estimatedTokens, p.tokenCap)); err != nil {
			return fmt.Errorf("token budget wait failed: %w", err)
		}
	}
	if p.semaphore != nil {
		select {
		case p.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 归还并发槽
func (l *RateLimiter) Release(provider string) {
	p := l.get(provider)
	if p.semaphore == nil {
		return
	}
	select {
	case <-p.semaphore:
	default:
	}
}

// InFlight 当前占用的并发槽数
func (l *RateLimiter) InFlight(provider string) int {
	return len(l.get(provider).semaphore)
}
