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
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"finagent/pkg/config"
)

// ParseModelKey 解析 provider.model_key
func ParseModelKey(key string) (provider, modelKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("model key 格式应为 provider.model_key，如 openai.gpt_4o，当前: %q", key)
	}
	return parts[0], parts[1], nil
}

// NewChatModel 按 provider.model_key 从配置创建 eino ChatModel。
// key 为空返回 (nil, "", nil)，调用方退化为确定性路径。
func NewChatModel(ctx context.Context, cfg config.ModelConfig, key string) (model.ToolCallingChatModel, string, error) {
	if strings.TrimSpace(key) == "" {
		return nil, "", nil
	}
	provider, modelKey, err := ParseModelKey(key)
	if err != nil {
		return nil, "", err
	}
	pc, ok := cfg.LLM.Providers[provider]
	if !ok {
		return nil, "", fmt.Errorf("LLM provider %q not configured", provider)
	}
	mi, ok := pc.Models[modelKey]
	if !ok {
		return nil, "", fmt.Errorf("LLM model %q not configured in provider %q", modelKey, provider)
	}
	if pc.APIKey == "" {
		return nil, "", fmt.Errorf("LLM provider %q api_key not configured", provider)
	}

	mc := &openai.ChatModelConfig{
		Model:   mi.Name,
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
	}
	if mi.Temperature > 0 {
		t := float32(mi.Temperature)
		mc.Temperature = &t
	}
	if mi.MaxTokens > 0 {
		n := mi.MaxTokens
		mc.MaxTokens = &n
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, "", fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return cm, provider, nil
}

// LimitsFromConfig 转换限流配置
func LimitsFromConfig(cfg map[string]config.LLMRateLimitConfig) map[string]LimitConfig {
	out := make(map[string]LimitConfig, len(cfg))
	for provider, c := range cfg {
		out[provider] = LimitConfig{
			TokensPerMinute:   c.TokensPerMinute,
			RequestsPerMinute: c.RequestsPerMinute,
			MaxConcurrent:     c.MaxConcurrent,
		}
	}
	return out
}
