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

// Package builtin 六个组合分析工具：均以 portfolio.Source 为数据能力，通过统一 Handler 契约调用
package builtin

import (
	"math"
	"strings"
	"time"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

// 工具名
const (
	PerformanceToolName  = "analyze_portfolio_performance"
	TransactionsToolName = "categorize_transactions"
	TaxToolName          = "estimate_capital_gains_tax"
	AllocationToolName   = "advise_asset_allocation"
	ComplianceToolName   = "check_compliance"
	MarketToolName       = "get_market_data"
)

// 工具自身的参数错误码
const (
	CodeInvalidTaxYear       = "INVALID_TAX_YEAR"
	CodeInvalidIncomeBracket = "INVALID_INCOME_BRACKET"
	CodeInvalidTargetProfile = "INVALID_TARGET_PROFILE"
	CodeInvalidCheckType     = "INVALID_CHECK_TYPE"
	CodeInvalidMetric        = "INVALID_METRIC"
	CodeSymbolsNotFound      = "SYMBOLS_NOT_FOUND"
	CodeEmptyPortfolio       = "EMPTY_PORTFOLIO"
)

// Options 工具装配选项
type Options struct {
	// Now 当前时间，决定默认税年与税年上限
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// sourceFailure 数据源错误转为失败结果；上游细节只进 metadata 的状态码
func sourceFailure(err error) tool.Result {
	code := portfolio.CodeOf(err)
	res := tool.Fail(code, sourceMessages[code])
	if status := portfolio.StatusOf(err); status != 0 {
		res = res.WithMeta("status", status)
	}
	return res
}

var sourceMessages = map[string]string{
	portfolio.CodeAuthFailed:        "portfolio service rejected the credentials",
	portfolio.CodeAPITimeout:        "portfolio service timed out",
	portfolio.CodeAPIError:          "portfolio service returned an error",
	portfolio.CodeInvalidTimePeriod: "unsupported date range",
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	if n, ok := tool.ToFloat(args[key]); ok {
		return int(n)
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

func dateRangeField(desc, def string) tool.Field {
	return tool.Field{
		Type:        tool.String,
		Description: desc,
		Enum:        portfolio.DateRanges,
		Default:     def,
	}
}
