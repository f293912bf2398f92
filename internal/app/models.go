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

	"github.com/cloudwego/eino/components/model"

	"finagent/internal/model/llm"
	"finagent/pkg/config"
)

// chatModels 路由与合成各用一个模型，可指向同一 provider
type chatModels struct {
	router model.ToolCallingChatModel
	synth  model.BaseChatModel
}

// newChatModels 按 model.defaults 创建模型并统一经过限流；未配置的一侧为 nil
func newChatModels(ctx context.Context, cfg *config.Config) (chatModels, error) {
	limiter := llm.NewRateLimiter(llm.LimitsFromConfig(cfg.RateLimits.LLM), nil)
	var out chatModels

	router, err := newLimitedModel(ctx, cfg.Model, cfg.Model.Defaults.Router, limiter)
	if err != nil {
		return out, err
	}
	if router != nil {
		out.router = router
	}

	synthKey := cfg.Model.Defaults.Synthesizer
	if synthKey == "" {
		synthKey = cfg.Model.Defaults.Router
	}
	synth, err := newLimitedModel(ctx, cfg.Model, synthKey, limiter)
	if err != nil {
		return out, err
	}
	if synth != nil {
		out.synth = synth
	}
	return out, nil
}

func newLimitedModel(ctx context.Context, cfg config.ModelConfig, key string, limiter *llm.RateLimiter) (*llm.Limited, error) {
	cm, provider, err := llm.NewChatModel(ctx, cfg, key)
	if err != nil || cm == nil {
		return nil, err
	}
	return llm.NewLimited(cm, provider, limiter), nil
}
