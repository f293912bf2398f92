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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Model      ModelConfig      `mapstructure:"model"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
	Session    SessionConfig    `mapstructure:"session"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int        `mapstructure:"port"`
	Host    string     `mapstructure:"host"`
	Timeout string     `mapstructure:"timeout"`
	CORS    CORSConfig `mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AgentConfig 编排状态机参数
type AgentConfig struct {
	MaxRetries          int    `mapstructure:"max_retries"`            // 同一工具最大重试次数（不含首次），默认 2
	MaxChainDepth       int    `mapstructure:"max_chain_depth"`        // 单轮最多串联的不同工具数，默认 3
	ToolTimeout         string `mapstructure:"tool_timeout"`           // 单次工具调用超时，如 "10s"
	ModelTimeout        string `mapstructure:"model_timeout"`          // 单次模型调用预算，如 "30s"
	TurnTimeout         string `mapstructure:"turn_timeout"`           // 单轮硬上限；空则按 重试×工具超时×链深 推导
	FailOnChainOverflow bool   `mapstructure:"fail_on_chain_overflow"` // 计划超出链深时报 MAX_CHAIN_DEPTH_EXCEEDED 而非截断
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey  string               `mapstructure:"api_key"`
	BaseURL string               `mapstructure:"base_url"`
	Models  map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// DefaultsConfig 默认模型配置，格式 provider.model_key
type DefaultsConfig struct {
	Router      string `mapstructure:"router"`
	Synthesizer string `mapstructure:"synthesizer"`
}

// PortfolioConfig 组合数据源配置
type PortfolioConfig struct {
	Source      string `mapstructure:"source"`       // mock | ghostfolio
	BaseURL     string `mapstructure:"base_url"`     // Ghostfolio 地址，如 http://localhost:3333
	AccessToken string `mapstructure:"access_token"` // 匿名登录用 security token；为空时要求请求携带 Bearer
	Timeout     string `mapstructure:"timeout"`      // HTTP 超时，如 "15s"
	TokenTTL    string `mapstructure:"token_ttl"`    // Bearer 缓存时长，如 "60s"
	FixtureDir  string `mapstructure:"fixture_dir"`  // mock 模式下覆盖内置样例数据的目录
}

// SessionConfig 会话历史存储配置
type SessionConfig struct {
	Type     string `mapstructure:"type"` // memory | redis | postgres
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	DSN      string `mapstructure:"dsn"`
	TTL      string `mapstructure:"ttl"`      // redis 下会话过期时间，如 "24h"
	LockTTL  string `mapstructure:"lock_ttl"` // redis 下线程锁过期时间，默认 "2m"
}

// SecretsConfig 密钥解析配置（vault:path#key 引用）
type SecretsConfig struct {
	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
	PathPrefix   string `mapstructure:"path_prefix"`
}

// RateLimitsConfig 限流配置
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// DefaultCORSOrigins 前端默认来源
var DefaultCORSOrigins = []string{
	"http://localhost:3333",
	"https://localhost:3333",
	"http://localhost:4200",
	"https://localhost:4200",
}

// Default 返回无配置文件时使用的默认配置（mock 数据源 + 内存会话 + 关键词路由）
func Default() *Config {
	return &Config{
		API: APIConfig{Port: 8000, Host: "0.0.0.0", CORS: CORSConfig{Enable: true}},
		Agent: AgentConfig{
			MaxRetries:    2,
			MaxChainDepth: 3,
			ToolTimeout:   "10s",
			ModelTimeout:  "30s",
		},
		Portfolio: PortfolioConfig{Source: "mock", Timeout: "15s", TokenTTL: "60s"},
		Session:   SessionConfig{Type: "memory"},
		Log:       LogConfig{Level: "info", Format: "json"},
		Monitoring: MonitoringConfig{
			Prometheus: PrometheusConfig{Enable: true},
		},
	}
}

// LoadConfig 加载配置文件；同目录与工作目录下的 .env / .env.local 先行注入环境变量
func LoadConfig(configPath string) (*Config, error) {
	if err := loadDotEnv(".env", ".env.local"); err != nil {
		return nil, fmt.Errorf("无法加载 .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// LoadOrDefault 路径为空或文件不存在时返回 Default()
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return Default(), nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadConfig(configPath)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.cors.enable", d.API.CORS.Enable)
	v.SetDefault("agent.max_retries", d.Agent.MaxRetries)
	v.SetDefault("agent.max_chain_depth", d.Agent.MaxChainDepth)
	v.SetDefault("agent.tool_timeout", d.Agent.ToolTimeout)
	v.SetDefault("agent.model_timeout", d.Agent.ModelTimeout)
	v.SetDefault("portfolio.source", d.Portfolio.Source)
	v.SetDefault("portfolio.timeout", d.Portfolio.Timeout)
	v.SetDefault("portfolio.token_ttl", d.Portfolio.TokenTTL)
	v.SetDefault("session.type", d.Session.Type)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("monitoring.prometheus.enable", d.Monitoring.Prometheus.Enable)
}

// loadDotEnv 读取 .env 文件，已存在的环境变量优先
func loadDotEnv(names ...string) error {
	for _, name := range names {
		values, err := godotenv.Read(name)
		if err != nil {
			continue
		}
		for k, val := range values {
			if _, exists := os.LookupEnv(k); exists {
				continue
			}
			if err := os.Setenv(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// replaceEnvVars 替换配置中的 ${ENV} 引用
func replaceEnvVars(config *Config) {
	for provider, providerConfig := range config.Model.LLM.Providers {
		providerConfig.APIKey = expandEnv(providerConfig.APIKey)
		config.Model.LLM.Providers[provider] = providerConfig
	}
	config.Portfolio.AccessToken = expandEnv(config.Portfolio.AccessToken)
	config.Portfolio.BaseURL = expandEnv(config.Portfolio.BaseURL)
	config.Session.Password = expandEnv(config.Session.Password)
	config.Session.DSN = expandEnv(config.Session.DSN)
	config.Secrets.VaultToken = expandEnv(config.Secrets.VaultToken)

	if extra := os.Getenv("AGENT_CORS_ORIGINS"); extra != "" {
		config.API.CORS.AllowOrigins = append(config.API.CORS.AllowOrigins, strings.Split(extra, ",")...)
	}
}

// expandEnv 仅处理整值形如 ${VAR} 或 $VAR 的引用；变量未设置时保留原值
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// CORSOrigins 返回去重后的允许来源（默认来源 + 配置）
func (c *Config) CORSOrigins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range append(append([]string{}, DefaultCORSOrigins...), c.API.CORS.AllowOrigins...) {
		origin := strings.TrimRight(strings.TrimSpace(raw), "/")
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		out = append(out, origin)
	}
	return out
}

// Duration 解析时长字符串，无效或空时返回 defaultVal
func Duration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
