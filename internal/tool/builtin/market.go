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

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

const marketDisclaimer = "Market data sourced from Ghostfolio portfolio. Prices may be delayed."

// MarketMetrics 可请求的行情指标
var MarketMetrics = []string{"price", "change", "change_percent", "currency", "market_value", "quantity", "all"}

// DefaultMarketMetrics 未指定时返回的指标
var DefaultMarketMetrics = []string{"price", "change", "change_percent", "currency", "market_value"}

// NewMarketTool 持仓行情
func NewMarketTool(src portfolio.Source) tool.Definition {
	return tool.Definition{
		Name:        MarketToolName,
		DisplayName: "Market Data",
		Description: "Fetch current prices and market metrics for portfolio holdings.",
		InputSchema: tool.Schema{
			"symbols": {
				Type:        tool.Array,
				Items:       tool.String,
				Description: "Specific ticker symbols to fetch (e.g. ['AAPL', 'SPY']). Omit for all holdings.",
			},
			"metrics": {
				Type:        tool.Array,
				Items:       tool.String,
				Enum:        MarketMetrics,
				Description: "Data points to return. Options: price, change, change_percent, currency, market_value, quantity, all.",
				Default:     DefaultMarketMetrics,
			},
		},
		OutputSchema: tool.Schema{
			"holdings":           {Type: tool.Array, Required: true},
			"total_holdings":     {Type: tool.Integer, Required: true, Minimum: tool.Bound(0)},
			"total_market_value": {Type: tool.Number, Required: true, Minimum: tool.Bound(0)},
		},
		Triggers: []string{
			"market data", "current price", "stock price", "market value", "price of",
			"prices", "quote", "trading at", "ticker",
		},
		Highlights: []tool.Highlight{
			{Field: "total_market_value", Format: tool.FormatMoney},
			{Field: "total_holdings", Format: tool.FormatCount},
		},
		IsEmpty: func(data map[string]any) bool {
			n, _ := data["total_holdings"].(int)
			return n == 0
		},
		Summarize: func(data map[string]any) string {
			msg := fmt.Sprintf("Market data retrieved. Showing data for %v holding(s)", data["total_holdings"])
			if v, ok := tool.ToFloat(data["total_market_value"]); ok && v > 0 {
				msg += " with total value " + tool.Money(v)
			}
			return msg + "."
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			metrics := stringsArg(args, "metrics")
			if len(metrics) == 0 {
				metrics = DefaultMarketMetrics
			}
			for _, m := range metrics {
				if !oneOf(m, MarketMetrics...) {
					return tool.Fail(CodeInvalidMetric, "unsupported metric").WithMeta("metric", m), nil
				}
			}
			wanted := map[string]bool{}
			for _, s := range stringsArg(args, "symbols") {
				if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
					wanted[s] = true
				}
			}

			details, err := src.Details(ctx)
			if err != nil {
				return sourceFailure(err), nil
			}
			if len(details.Holdings) == 0 {
				return tool.Fail(CodeEmptyPortfolio, "no holdings"), nil
			}

			rows := []map[string]any{}
			var total float64
			for symbol, h := range details.Holdings {
				if len(wanted) > 0 && !wanted[strings.ToUpper(symbol)] {
					continue
				}
				rows = append(rows, marketRow(symbol, h, metrics))
				total += h.MarketValue()
			}
			if len(rows) == 0 {
				return tool.Fail(CodeSymbolsNotFound, "none of the requested symbols are held").WithMeta("requested_symbols", sortedKeys(wanted)), nil
			}
			sort.Slice(rows, func(i, j int) bool {
				vi, _ := tool.ToFloat(rows[i]["market_value"])
				vj, _ := tool.ToFloat(rows[j]["market_value"])
				if vi != vj {
					return vi > vj
				}
				return rows[i]["symbol"].(string) < rows[j]["symbol"].(string)
			})
			return tool.OK(map[string]any{
				"holdings":           rows,
				"total_holdings":     len(rows),
				"total_market_value": round2(total),
				"metrics_requested":  metrics,
				"disclaimer":         marketDisclaimer,
			}), nil
		}),
	}
}

func marketRow(symbol string, h portfolio.Holding, metrics []string) map[string]any {
	all := oneOf("all", metrics...)
	has := func(m string) bool { return all || oneOf(m, metrics...) }

	row := map[string]any{"symbol": symbol}
	if has("price") {
		row["price"] = h.MarketPrice
	}
	if has("change") {
		row["change"] = h.NetPerformance
	}
	if has("change_percent") {
		pct := h.NetPerformancePercentage
		if pct >= -1 && pct <= 1 {
			pct *= 100
		}
		row["change_percent"] = round2(pct)
	}
	if has("currency") {
		row["currency"] = defaultString(h.Currency, "USD")
	}
	if has("market_value") {
		row["market_value"] = round2(h.MarketValue())
	}
	if has("quantity") {
		row["quantity"] = h.Quantity
	}
	row["name"] = defaultString(h.Name, symbol)
	row["asset_class"] = defaultString(h.AssetClass, "UNKNOWN")
	row["asset_sub_class"] = defaultString(h.AssetSubClass, "UNKNOWN")
	return row
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
