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

package builtin

import (
	"context"
	"fmt"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

// NewPerformanceTool 组合收益分析：与 Ghostfolio 面板同源（details.summary）
func NewPerformanceTool(src portfolio.Source) tool.Definition {
	return tool.Definition{
		Name:        PerformanceToolName,
		DisplayName: "Portfolio Analysis",
		Description: "Analyze portfolio returns and performance for a specific date range.",
		InputSchema: tool.Schema{
			"time_period": dateRangeField("Date range for performance calculation. Defaults to year-to-date.", "ytd"),
		},
		OutputSchema: tool.Schema{
			"performance": {Type: tool.Object, Required: true, Properties: tool.Schema{
				"currentNetWorth":          {Type: tool.Number, Required: true},
				"netPerformance":           {Type: tool.Number, Required: true},
				"netPerformancePercentage": {Type: tool.Number, Required: true, Minimum: tool.Bound(-100), Maximum: tool.Bound(10000)},
				"totalInvestment":          {Type: tool.Number, Required: true, Minimum: tool.Bound(0)},
			}},
		},
		Triggers: []string{
			"how is my portfolio", "portfolio doing", "portfolio perform", "performance",
			"return", "gain", "loss", "how am i doing", "net worth",
		},
		GenericTriggers: []string{"portfolio"},
		Highlights: []tool.Highlight{
			{Field: "performance.netPerformancePercentage", Format: tool.FormatPercent},
			{Field: "performance.totalInvestment", Format: tool.FormatMoney},
			{Field: "performance.currentNetWorth", Format: tool.FormatMoney},
		},
		IsEmpty: func(data map[string]any) bool {
			perf, _ := data["performance"].(map[string]any)
			return len(perf) == 0
		},
		Summarize: func(data map[string]any) string {
			pct, ok := tool.Lookup(data, "performance.netPerformancePercentage")
			if !ok {
				return "Portfolio performance data is ready."
			}
			worth, _ := tool.Lookup(data, "performance.currentNetWorth")
			return fmt.Sprintf("Portfolio net performance is %s for the selected range, with a current net worth of %s.",
				tool.FormatValue(pct, tool.FormatPercent), tool.FormatValue(worth, tool.FormatMoney))
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			period := stringArg(args, "time_period", "ytd")
			if !portfolio.ValidDateRange(period) {
				return tool.Fail(portfolio.CodeInvalidTimePeriod, "unsupported time_period").WithMeta("time_period", period), nil
			}
			details, err := src.Details(ctx)
			if err != nil {
				return sourceFailure(err).WithMeta("time_period", period), nil
			}
			if details.Summary == nil {
				return tool.OK(map[string]any{"performance": map[string]any{}}).WithMeta("time_period", period), nil
			}
			s := details.Summary
			return tool.OK(map[string]any{
				"performance": map[string]any{
					"currentNetWorth":                            s.CurrentNetWorth,
					"currentValueInBaseCurrency":                 s.CurrentValueInBaseCurrency,
					"netPerformance":                             s.NetPerformance,
					"netPerformancePercentage":                   s.NetPerformancePercentage,
					"netPerformancePercentageWithCurrencyEffect": s.NetPerformancePercentageWithCurrencyEffect,
					"netPerformanceWithCurrencyEffect":           s.NetPerformanceWithCurrencyEffect,
					"totalInvestment":                            s.TotalInvestment,
					"totalInvestmentValueWithCurrencyEffect":     s.TotalInvestmentValueWithCurrencyEffect,
				},
				"time_period": period,
				"hasErrors":   details.HasErrors,
			}).WithMeta("time_period", period), nil
		}),
	}
}
