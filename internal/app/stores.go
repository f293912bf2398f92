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

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finagent/internal/portfolio"
	"finagent/internal/runtime/session"
	"finagent/pkg/config"
)

// newSessionStore type=memory 或空时用内存；redis/postgres 启动即探活
func newSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      config.Duration(cfg.TTL, 24*time.Hour),
			LockTTL:  config.Duration(cfg.LockTTL, 2*time.Minute),
		})
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("session.dsn is required for postgres")
		}
		return session.NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown session type %q", cfg.Type)
	}
}

// newSource source=mock 或空时用内置样例数据
func newSource(cfg config.PortfolioConfig) (portfolio.Source, error) {
	switch sourceName(cfg) {
	case "mock":
		if cfg.FixtureDir != "" {
			return portfolio.NewMockFromDir(cfg.FixtureDir)
		}
		return portfolio.NewMock()
	case "ghostfolio":
		return portfolio.NewGhostfolio(portfolio.GhostfolioConfig{
			BaseURL:     cfg.BaseURL,
			AccessToken: cfg.AccessToken,
			Timeout:     config.Duration(cfg.Timeout, 15*time.Second),
			TokenTTL:    config.Duration(cfg.TokenTTL, 60*time.Second),
		})
	default:
		return nil, fmt.Errorf("unknown portfolio source %q", cfg.Source)
	}
}

func sourceName(cfg config.PortfolioConfig) string {
	if s := strings.ToLower(strings.TrimSpace(cfg.Source)); s != "" {
		return s
	}
	return "mock"
}

// requireCredential ghostfolio 模式下未配置 access_token 时，每轮必须携带调用方 Bearer
func requireCredential(cfg config.PortfolioConfig) bool {
	return sourceName(cfg) == "ghostfolio" && strings.TrimSpace(cfg.AccessToken) == ""
}
