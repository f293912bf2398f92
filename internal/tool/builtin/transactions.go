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
	"strings"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

// ActivityTypes 交易分类
var ActivityTypes = []string{"BUY", "SELL", "DIVIDEND", "FEE", "INTEREST", "LIABILITY"}

// NewTransactionsTool 交易流水分类
func NewTransactionsTool(src portfolio.Source) tool.Definition {
	return tool.Definition{
		Name:        TransactionsToolName,
		DisplayName: "Transaction Categorizer",
		Description: "Retrieve and group transactions by type (BUY/SELL/DIVIDEND/FEE/INTEREST/LIABILITY).",
		InputSchema: tool.Schema{
			"date_range": dateRangeField("Date range filter for transactions. Defaults to all-time.", "max"),
		},
		OutputSchema: tool.Schema{
			"total_transactions": {Type: tool.Integer, Required: true, Minimum: tool.Bound(0)},
			"by_type_counts":     {Type: tool.Object, Required: true},
			"summary": {Type: tool.Object, Required: true, Properties: tool.Schema{
				"buy_total":  {Type: tool.Number, Required: true},
				"sell_total": {Type: tool.Number, Required: true},
			}},
		},
		Triggers: []string{
			"transaction", "activity", "activities", "bought", "sold",
			"dividend", "fee", "interest", "order", "categorize",
		},
		Highlights: []tool.Highlight{
			{Field: "total_transactions", Format: tool.FormatCount},
			{Field: "summary.buy_total", Format: tool.FormatMoney},
		},
		IsEmpty: func(data map[string]any) bool {
			total, _ := data["total_transactions"].(int)
			return total == 0
		},
		Summarize: func(data map[string]any) string {
			total, ok := data["total_transactions"].(int)
			if !ok {
				return "Transaction categorization is complete."
			}
			counts, _ := data["by_type_counts"].(map[string]int)
			var parts []string
			for _, t := range ActivityTypes {
				if n := counts[t]; n > 0 {
					parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(t)))
				}
			}
			msg := fmt.Sprintf("Transaction categorization is complete. I found %d activities in the selected range", total)
			if len(parts) > 0 {
				msg += " (" + strings.Join(parts, ", ") + ")"
			}
			return msg + "."
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			dateRange := stringArg(args, "date_range", "max")
			if !portfolio.ValidDateRange(dateRange) {
				return tool.Fail(portfolio.CodeInvalidTimePeriod, "unsupported date_range").WithMeta("date_range", dateRange), nil
			}
			orders, err := src.Orders(ctx, dateRange)
			if err != nil {
				return sourceFailure(err).WithMeta("date_range", dateRange), nil
			}
			return tool.OK(categorize(orders)).WithMeta("date_range", dateRange), nil
		}),
	}
}

func categorize(orders *portfolio.Orders) map[string]any {
	grouped := make(map[string][]map[string]any, len(ActivityTypes))
	totals := make(map[string]float64, len(ActivityTypes))
	counts := make(map[string]int, len(ActivityTypes))
	for _, t := range ActivityTypes {
		grouped[t] = []map[string]any{}
		counts[t] = 0
	}
	for _, a := range orders.Activities {
		t := strings.ToUpper(a.Type)
		if _, ok := grouped[t]; !ok {
			continue
		}
		grouped[t] = append(grouped[t], map[string]any{
			"id":        a.ID,
			"date":      a.Date,
			"symbol":    a.Symbol(),
			"quantity":  a.Quantity,
			"unitPrice": a.UnitPrice,
			"value":     round2(a.Amount()),
		})
		counts[t]++
		totals[t] += a.Amount()
	}
	out := map[string]any{
		"total_transactions": len(orders.Activities),
		"by_type":            grouped,
		"by_type_counts":     counts,
		"summary": map[string]any{
			"buy_total":       round2(totals["BUY"]),
			"sell_total":      round2(totals["SELL"]),
			"dividend_total":  round2(totals["DIVIDEND"]),
			"interest_total":  round2(totals["INTEREST"]),
			"fee_total":       round2(totals["FEE"]),
			"liability_total": round2(totals["LIABILITY"]),
		},
	}
	if orders.Count > 0 {
		out["reported_count"] = orders.Count
	}
	return out
}
