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

// Package portfolio 提供组合数据源：Ghostfolio HTTP 客户端与基于夹具的 Mock
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 数据源错误码，工具层原样透出，由 ErrorHandler 归一化
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeAPITimeout        = "API_TIMEOUT"
	CodeAPIError          = "API_ERROR"
	CodeInvalidTimePeriod = "INVALID_TIME_PERIOD"
)

// DateRanges Ghostfolio 支持的区间
var DateRanges = []string{"1d", "wtd", "mtd", "ytd", "1y", "5y", "max"}

// ValidDateRange 是否为支持的区间
func ValidDateRange(s string) bool {
	for _, r := range DateRanges {
		if r == s {
			return true
		}
	}
	return false
}

// Source 组合数据能力；实现需并发安全
type Source interface {
	// Details 持仓与汇总（/api/v1/portfolio/details）
	Details(ctx context.Context) (*Details, error)
	// Orders 交易流水；dateRange 为空表示全部
	Orders(ctx context.Context, dateRange string) (*Orders, error)
}

// Error 数据源错误；Detail 仅用于服务端日志
type Error struct {
	Code   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	parts := []string{e.Code}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, " | ")
}

// CodeOf 提取错误码；非数据源错误一律视为 API_ERROR
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeAPIError
}

// StatusOf 提取上游 HTTP 状态码（无则为 0）
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// Details 组合详情
type Details struct {
	Holdings  map[string]Holding `json:"holdings"`
	Summary   *Summary           `json:"summary,omitempty"`
	HasErrors bool               `json:"hasErrors"`
}

// Holding 单个持仓
type Holding struct {
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Currency                 string  `json:"currency"`
	AssetClass               string  `json:"assetClass"`
	AssetSubClass            string  `json:"assetSubClass"`
	AllocationInPercentage   float64 `json:"allocationInPercentage"`
	MarketPrice              float64 `json:"marketPrice"`
	Quantity                 float64 `json:"quantity"`
	Value                    float64 `json:"value,omitempty"`
	ValueInBaseCurrency      float64 `json:"valueInBaseCurrency"`
	NetPerformance           float64 `json:"netPerformance"`
	NetPerformancePercentage float64 `json:"netPerformancePercentage"`
}

// MarketValue 持仓市值：优先基础货币市值，其次 value，最后价格×数量
func (h Holding) MarketValue() float64 {
	switch {
	case h.ValueInBaseCurrency != 0:
		return h.ValueInBaseCurrency
	case h.Value != 0:
		return h.Value
	default:
		return h.MarketPrice * h.Quantity
	}
}

// Summary 组合汇总（与 Ghostfolio 面板一致）
type Summary struct {
	CurrentNetWorth                            float64 `json:"currentNetWorth"`
	CurrentValueInBaseCurrency                 float64 `json:"currentValueInBaseCurrency"`
	NetPerformance                             float64 `json:"netPerformance"`
	NetPerformancePercentage                   float64 `json:"netPerformancePercentage"`
	NetPerformancePercentageWithCurrencyEffect float64 `json:"netPerformancePercentageWithCurrencyEffect"`
	NetPerformanceWithCurrencyEffect           float64 `json:"netPerformanceWithCurrencyEffect"`
	TotalInvestment                            float64 `json:"totalInvestment"`
	TotalInvestmentValueWithCurrencyEffect     float64 `json:"totalInvestmentValueWithCurrencyEffect"`
}

// Orders 交易流水
type Orders struct {
	Activities []Activity `json:"activities"`
	Count      int        `json:"count"`
}

// Activity 单笔交易
type Activity struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Date          string        `json:"date"`
	Quantity      float64       `json:"quantity"`
	UnitPrice     float64       `json:"unitPrice"`
	Value         float64       `json:"value,omitempty"`
	Fee           float64       `json:"fee"`
	SymbolProfile SymbolProfile `json:"SymbolProfile"`
}

// SymbolProfile 标的信息
type SymbolProfile struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Amount 交易金额：value 缺省时按数量×单价
func (a Activity) Amount() float64 {
	if a.Value != 0 {
		return a.Value
	}
	return a.Quantity * a.UnitPrice
}

// Symbol 标的代码，缺失时为 UNKNOWN
func (a Activity) Symbol() string {
	if s := strings.TrimSpace(a.SymbolProfile.Symbol); s != "" {
		return s
	}
	return "UNKNOWN"
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05Z", "2006-01-02"}

// Time 解析交易日期；无法解析时 ok 为 false
func (a Activity) Time() (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, a.Date); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type bearerKey struct{}

// WithBearer 将调用方的 Ghostfolio JWT 放入 ctx，本轮所有数据请求以该身份发起
func WithBearer(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey{}, token)
}

// BearerFrom 读取调用方 JWT
func BearerFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok && token != ""
}
