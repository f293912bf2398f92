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
	"sort"
	"strings"
	"time"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

const (
	washSaleWindowDays   = 30
	dayTradeThreshold    = 4
	dayTradeWindowDays   = 5
	complianceDisclaimer = "Informational screening only, not legal or tax advice. Consult a qualified professional for compliance decisions."
)

// CheckTypes 合规检查类型
var CheckTypes = []string{"all", "wash_sale", "pattern_day_trading", "concentration"}

// NewComplianceTool 合规筛查：洗售、日内交易模式、集中度风险
func NewComplianceTool(src portfolio.Source) tool.Definition {
	return tool.Definition{
		Name:        ComplianceToolName,
		DisplayName: "Compliance Checker",
		Description: "Screen portfolio for regulatory red flags (wash sales, pattern day trading, concentration risk).",
		InputSchema: tool.Schema{
			"check_type": {
				Type:        tool.String,
				Description: "Type of compliance check to run. 'all' runs every check.",
				Enum:        CheckTypes,
				Default:     "all",
			},
		},
		OutputSchema: tool.Schema{
			"check_type":       {Type: tool.String, Required: true, Enum: CheckTypes},
			"violations":       {Type: tool.Array, Required: true},
			"warnings":         {Type: tool.Array, Required: true},
			"total_violations": {Type: tool.Integer, Required: true, Minimum: tool.Bound(0)},
			"total_warnings":   {Type: tool.Integer, Required: true, Minimum: tool.Bound(0)},
		},
		Triggers: []string{
			"compliance", "compliant", "wash sale", "pattern day trad", "regulation",
			"regulatory", "violation", "day trade", "day trading", "concentration risk",
		},
		Highlights: []tool.Highlight{
			{Field: "total_violations", Format: tool.FormatCount},
			{Field: "total_warnings", Format: tool.FormatCount},
		},
		Summarize: func(data map[string]any) string {
			return fmt.Sprintf("Compliance screening is complete. Found %v violation(s) and %v warning(s).",
				data["total_violations"], data["total_warnings"])
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			checkType := stringArg(args, "check_type", "all")
			if !oneOf(checkType, CheckTypes...) {
				return tool.Fail(CodeInvalidCheckType, "unknown check_type").WithMeta("check_type", checkType), nil
			}
			violations := []map[string]any{}
			warnings := []map[string]any{}

			if checkType != "concentration" {
				orders, err := src.Orders(ctx, "")
				if err != nil {
					return sourceFailure(err).WithMeta("check_type", checkType), nil
				}
				if checkType == "all" || checkType == "wash_sale" {
					violations = append(violations, detectWashSales(orders.Activities)...)
				}
				if checkType == "all" || checkType == "pattern_day_trading" {
					warnings = append(warnings, detectPatternDayTrading(orders.Activities)...)
				}
			}
			if checkType == "all" || checkType == "concentration" {
				details, err := src.Details(ctx)
				if err != nil {
					return sourceFailure(err).WithMeta("check_type", checkType), nil
				}
				warnings = append(warnings, detectConcentration(details.Holdings)...)
			}

			return tool.OK(map[string]any{
				"check_type":       checkType,
				"violations":       violations,
				"warnings":         warnings,
				"total_violations": len(violations),
				"total_warnings":   len(warnings),
				"disclaimer":       complianceDisclaimer,
			}).WithMeta("check_type", checkType), nil
		}),
	}
}

type dated struct {
	symbol string
	date   time.Time
}

func splitTrades(activities []portfolio.Activity) (buys, sells []dated) {
	for _, a := range activities {
		date, ok := a.Time()
		if !ok {
			continue
		}
		d := dated{symbol: a.Symbol(), date: date}
		switch strings.ToUpper(a.Type) {
		case "BUY":
			buys = append(buys, d)
		case "SELL":
			sells = append(sells, d)
		}
	}
	return buys, sells
}

func days(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// detectWashSales 卖出后 30 天内回购同一标的
func detectWashSales(activities []portfolio.Activity) []map[string]any {
	buys, sells := splitTrades(activities)
	var out []map[string]any
	for _, s := range sells {
		for _, b := range buys {
			if b.symbol != s.symbol {
				continue
			}
			diff := days(s.date, b.date)
			if diff <= 0 || diff > washSaleWindowDays {
				continue
			}
			sell, rebuy := s.date.Format("2006-01-02"), b.date.Format("2006-01-02")
			out = append(out, map[string]any{
				"type":         "WASH_SALE",
				"symbol":       s.symbol,
				"sell_date":    sell,
				"rebuy_date":   rebuy,
				"days_between": diff,
				"description": fmt.Sprintf("Sold %s on %s and repurchased on %s (%d days later, within %d-day window).",
					s.symbol, sell, rebuy, diff, washSaleWindowDays),
			})
		}
	}
	return out
}

// detectPatternDayTrading 5 天窗口内出现 4 次以上同日买卖
func detectPatternDayTrading(activities []portfolio.Activity) []map[string]any {
	buys, sells := splitTrades(activities)
	type key struct{ symbol, day string }
	sold := map[key]bool{}
	for _, s := range sells {
		sold[key{s.symbol, s.date.Format("2006-01-02")}] = true
	}
	seen := map[key]bool{}
	byDay := map[string][]string{}
	for _, b := range buys {
		k := key{b.symbol, b.date.Format("2006-01-02")}
		if sold[k] && !seen[k] {
			seen[k] = true
			byDay[k.day] = append(byDay[k.day], k.symbol)
		}
	}
	daysSorted := make([]string, 0, len(byDay))
	for d := range byDay {
		daysSorted = append(daysSorted, d)
	}
	sort.Strings(daysSorted)

	for _, end := range daysSorted {
		endDate, _ := time.Parse("2006-01-02", end)
		start := endDate.AddDate(0, 0, -dayTradeWindowDays).Format("2006-01-02")
		count := 0
		symbols := map[string]bool{}
		for _, d := range daysSorted {
			if d >= start && d <= end {
				count += len(byDay[d])
				for _, s := range byDay[d] {
					symbols[s] = true
				}
			}
		}
		if count >= dayTradeThreshold {
			list := make([]string, 0, len(symbols))
			for s := range symbols {
				list = append(list, s)
			}
			sort.Strings(list)
			return []map[string]any{{
				"type":                 "PATTERN_DAY_TRADING",
				"window_end":           end,
				"day_trades_in_window": count,
				"symbols":              list,
				"description": fmt.Sprintf("%d day trade(s) detected in the %d-day window ending %s. FINRA flags accounts with %d+ day trades in 5 business days as pattern day traders.",
					count, dayTradeWindowDays, end, dayTradeThreshold),
			}}
		}
	}
	return nil
}

// detectConcentration 单一持仓市值占比超过阈值
func detectConcentration(holdings map[string]portfolio.Holding) []map[string]any {
	var total float64
	for _, h := range holdings {
		total += h.MarketValue()
	}
	if total <= 0 {
		return nil
	}
	var out []map[string]any
	for symbol, h := range holdings {
		pct := h.MarketValue() / total * 100
		if pct <= ConcentrationThreshold {
			continue
		}
		out = append(out, map[string]any{
			"type":             "CONCENTRATION",
			"symbol":           symbol,
			"pct_of_portfolio": round2(pct),
			"threshold":        ConcentrationThreshold,
			"description": fmt.Sprintf("%s represents %.1f%% of portfolio value, exceeding the %.0f%% concentration threshold.",
				symbol, pct, ConcentrationThreshold),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["pct_of_portfolio"].(float64) > out[j]["pct_of_portfolio"].(float64)
	})
	return out
}
