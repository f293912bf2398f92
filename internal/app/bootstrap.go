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
	"errors"
	"fmt"
	"time"

	"finagent/internal/agent"
	"finagent/internal/portfolio"
	"finagent/internal/runtime/session"
	"finagent/internal/tool/builtin"
	"finagent/internal/tool/registry"
	"finagent/pkg/config"
	"finagent/pkg/log"
	"finagent/pkg/secrets"
	"finagent/pkg/tracing"
)

// Version 构建版本，发布时由 -ldflags "-X finagent/internal/app.Version=..." 注入
var Version = "dev"

// Bootstrap 统一初始化：供 api 与 cli 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config       *config.Config
	Logger       *log.Logger
	Source       portfolio.Source
	Registry     *registry.Registry
	Threads      *session.Manager
	Orchestrator *agent.Orchestrator

	closers []func() error
}

// Options 装配时可覆盖的依赖（测试与 CLI 用）
type Options struct {
	// Logger 非空时不再按配置创建
	Logger *log.Logger
	// Offline 忽略模型配置，只走关键词路由与确定性合成
	Offline bool
	// Now 固定当前时间（评测用），为空取 time.Now
	Now func() time.Time
	// InitTracing 按 monitoring.tracing 自建 OTLP exporter；API 进程由 hertz provider 负责，不设置
	InitTracing bool
}

// NewBootstrap 根据配置创建 Bootstrap（日志、密钥、数据源、会话存储、模型、编排器）
func NewBootstrap(ctx context.Context, cfg *config.Config, opts Options) (*Bootstrap, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
		if err != nil {
			return nil, fmt.Errorf("初始化日志failed: %w", err)
		}
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	if err := resolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}
	if opts.InitTracing {
		if err := b.initTracing(cfg.Monitoring.Tracing); err != nil {
			return nil, fmt.Errorf("初始化链路追踪failed: %w", err)
		}
	}

	src, err := newSource(cfg.Portfolio)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化数据源failed: %w", err)
	}
	b.Source = src

	reg, err := builtin.NewRegistry(src, builtin.Options{Now: opts.Now})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("注册工具failed: %w", err)
	}
	b.Registry = reg

	store, err := newSessionStore(ctx, cfg.Session)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化会话存储failed: %w", err)
	}
	b.Threads = session.NewManager(store)
	b.closers = append(b.closers, b.Threads.Close)

	limits := agentLimits(cfg.Agent)
	var models chatModels
	if !opts.Offline {
		models, err = newChatModels(ctx, cfg)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("初始化模型failed: %w", err)
		}
	}
	if models.router == nil {
		logger.Info("no router model configured, using keyword routing")
	}

	router, err := agent.NewRouter(reg, agent.NewKeywordTable(reg, planRules()...), agent.RouterOptions{
		Model:        models.router,
		ModelTimeout: limits.ModelTimeout,
		Now:          opts.Now,
		Logger:       logger,
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("初始化路由failed: %w", err)
	}
	b.Orchestrator = agent.NewOrchestrator(reg, router,
		agent.NewExecutor(reg, limits.ToolTimeout, logger),
		agent.NewSynthesizer(reg, models.synth, limits.ModelTimeout, logger),
		b.Threads,
		agent.Config{
			Limits:            limits,
			RequireCredential: requireCredential(cfg.Portfolio),
			Logger:            logger,
		},
	)
	logger.Info("agent ready",
		"tools", reg.Len(),
		"source", sourceName(cfg.Portfolio),
		"session", cfg.Session.Type,
		"max_retries", limits.MaxRetries,
		"max_chain_depth", limits.MaxChainDepth,
	)
	return b, nil
}

// Close 释放会话存储等资源
func (b *Bootstrap) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Bootstrap) initTracing(cfg config.TracingConfig) error {
	if !cfg.Enable || cfg.ExportEndpoint == "" {
		return nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "finagent-cli"
	}
	tp, err := tracing.InitTracer(tracing.OTelConfig{
		ServiceName:    name,
		ExportEndpoint: cfg.ExportEndpoint,
		Insecure:       cfg.Insecure,
	})
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
	return nil
}

func agentLimits(cfg config.AgentConfig) agent.Limits {
	d := agent.DefaultLimits()
	return agent.Limits{
		MaxRetries:          cfg.MaxRetries,
		MaxChainDepth:       cfg.MaxChainDepth,
		ToolTimeout:         config.Duration(cfg.ToolTimeout, d.ToolTimeout),
		ModelTimeout:        config.Duration(cfg.ModelTimeout, d.ModelTimeout),
		TurnTimeout:         config.Duration(cfg.TurnTimeout, 0),
		FailOnChainOverflow: cfg.FailOnChainOverflow,
	}
}

func planRules() []agent.PlanRule {
	phrases := builtin.PlanPhrases()
	out := make([]agent.PlanRule, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, agent.PlanRule{Phrase: p.Phrase, Tools: p.Tools})
	}
	return out
}

// resolveSecrets 把 vault:/env: 引用替换为明文
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	var vaultStore secrets.Store
	if cfg.Secrets.VaultAddress != "" {
		s, err := secrets.NewVaultStore(secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddress,
			Token:      cfg.Secrets.VaultToken,
			PathPrefix: cfg.Secrets.PathPrefix,
		})
		if err != nil {
			return fmt.Errorf("初始化 vault failed: %w", err)
		}
		vaultStore = s
	}
	resolver := secrets.NewResolver(vaultStore)

	resolve := func(name string, v *string) error {
		if !secrets.IsReference(*v) {
			return nil
		}
		plain, err := resolver.Resolve(ctx, *v)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*v = plain
		return nil
	}
	for name, pc := range cfg.Model.LLM.Providers {
		if err := resolve("model.llm.providers."+name+".api_key", &pc.APIKey); err != nil {
			return err
		}
		cfg.Model.LLM.Providers[name] = pc
	}
	if err := resolve("portfolio.access_token", &cfg.Portfolio.AccessToken); err != nil {
		return err
	}
	return resolve("session.password", &cfg.Session.Password)
}
