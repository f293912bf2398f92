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

package tool

import (
	"context"
)

// Handler 单个工具的能力实现：call_tool(name, args) → Result
type Handler interface {
	Call(ctx context.Context, args map[string]any) (Result, error)
}

// HandlerFunc 函数适配为 Handler
type HandlerFunc func(ctx context.Context, args map[string]any) (Result, error)

// Call 实现 Handler
func (f HandlerFunc) Call(ctx context.Context, args map[string]any) (Result, error) {
	return f(ctx, args)
}

// Format 引用字段的展示格式
type Format string

const (
	FormatPercent Format = "percent"
	FormatMoney   Format = "money"
	FormatCount   Format = "count"
	FormatText    Format = "text"
)

// Highlight 可被引用的输出字段（点分路径）
type Highlight struct {
	Field  string
	Format Format
}

// Definition 工具定义：注册一次，之后只读
type Definition struct {
	Name        string
	DisplayName string
	Description string
	InputSchema Schema
	// OutputSchema 成功结果 data 必须满足的结构
	OutputSchema Schema
	// Triggers 关键词路由短语（大小写不敏感子串匹配）
	Triggers []string
	// GenericTriggers 仅在没有任何工具命中 Triggers 时才参与匹配
	GenericTriggers []string
	// Highlights 合成答案时可引用的字段，顺序即引用顺序
	Highlights []Highlight
	// IsEmpty 成功但没有可用数据时返回 true（如持仓数为 0）
	IsEmpty func(data map[string]any) bool
	// Verify 结构之外的业务不变量校验（如配置占比之和约为 100）
	Verify func(data map[string]any) error
	// Summarize 生成单行摘要，供无模型时的确定性合成使用
	Summarize func(data map[string]any) string
	// FollowUps 根据输出提出的后续工具（如集中度告警 → 合规检查）
	FollowUps func(data map[string]any) []string
	Handler   Handler
}

// Error 工具错误
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result 统一结果信封：Success 为 true 时只有 Data，否则只有 Error
type Result struct {
	Tool     string         `json:"tool"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    *Error         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK 构造成功结果
func OK(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Success: true, Data: data}
}

// Fail 构造失败结果
func Fail(code, message string) Result {
	return Result{Success: false, Error: &Error{Code: code, Message: message}}
}

// WithMeta 附加元数据
func (r Result) WithMeta(key string, value any) Result {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[key] = value
	r.Metadata = meta
	return r
}

// Normalize 修正信封使其满足 data/error 互斥不变量
func (r Result) Normalize(name string, fallbackCode string) Result {
	r.Tool = name
	if r.Success {
		r.Error = nil
		if r.Data == nil {
			r.Data = map[string]any{}
		}
		return r
	}
	r.Data = nil
	if r.Error == nil || r.Error.Code == "" {
		msg := ""
		if r.Error != nil {
			msg = r.Error.Message
		}
		r.Error = &Error{Code: fallbackCode, Message: msg}
	}
	return r
}

// ErrorCode 失败结果的错误码，成功时为空
func (r Result) ErrorCode() string {
	if r.Success || r.Error == nil {
		return ""
	}
	return r.Error.Code
}
