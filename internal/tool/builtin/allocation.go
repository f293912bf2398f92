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
	"math"
	"sort"
	"strings"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

// AssetClasses Ghostfolio 资产大类
var AssetClasses = []string{"EQUITY", "FIXED_INCOME", "LIQUIDITY", "COMMODITY", "REAL_ESTATE", "ALTERNATIVE_INVESTMENT"}

// ConcentrationThreshold 单一持仓占比告警阈值（%）
const ConcentrationThreshold = 25.0

const allocationDisclaimer = "Analysis for informational purposes only. Not financial advice."

var targetAllocations = map[string]map[string]float64{
	"conservative": {"EQUITY": 40, "FIXED_INCOME": 50, "LIQUIDITY": 10},
	"balanced":     {"EQUITY": 60, "FIXED_INCOME": 30, "LIQUIDITY": 10},
	"aggressive":   {"EQUITY": 80, "FIXED_INCOME": 15, "LIQUIDITY": 5},
}

// NewAllocationTool 资产配置建议：对比目标画像并给出再平衡建议
func NewAllocationTool(src portfolio.Source) tool.Definition {
	return tool.Definition{
		Name:        AllocationToolName,
		DisplayName: "Allocation Advisor",
		Description: "Compare current allocation against a target profile and suggest rebalancing.",
		InputSchema: tool.Schema{
			"target_profile": {
				Type:        tool.String,
				Description: "Risk profile to compare against.",
				Enum:        []string{"conservative", "balanced", "aggressive"},
				Default:     "balanced",
			},
		},
		OutputSchema: tool.Schema{
			"holdings_count":         {Type: tool.Integer, Required: true, Minimum: tool.Bound(0)},
			"current_allocation":     {Type: tool.Object, Required: true},
			"target_allocation":      {Type: tool.Object, Required: true},
			"drift":                  {Type: tool.Object, Required: true},
			"concentration_warnings": {Type: tool.Array, Required: true},
		},
		Triggers: []string{
			"allocation", "allocate", "diversification", "diversified", "diversify",
			"rebalanc", "re-balance", "overweight", "underweight", "concentrat", "asset mix",
		},
		Highlights: []tool.Highlight{
			{Field: "holdings_count", Format: tool.FormatCount},
			{Field: "current_allocation.EQUITY", Format: tool.FormatPercent},
		},
		IsEmpty: func(data map[string]any) bool {
			n, _ := data["holdings_count"].(int)
			return n == 0
		},
		Verify: func(data map[string]any) error {
			alloc, _ := data["current_allocation"].(map[string]float64)
			if len(alloc) == 0 {
				return fmt.Errorf("current_allocation is empty")
			}
			var total float64
			for _, v := range alloc {
				total += v
			}
			if math.Abs(total-100) > 1 {
				return fmt.Errorf("allocation sums to %.2f%%", total)
			}
			return nil
		},
		Summarize: func(data map[string]any) string {
			warnings, _ := data["concentration_warnings"].([]map[string]any)
			msg := fmt.Sprintf("Allocation analysis is complete. I found %d concentration warning(s).", len(warnings))
			if tips, ok := data["rebalancing_suggestions"].([]string); ok && len(tips) > 0 {
				msg += " " + tips[0]
			}
			return msg
		},
		FollowUps: func(data map[string]any) []string {
			if warnings, _ := data["concentration_warnings"].([]map[string]any); len(warnings) > 0 {
				return []string{ComplianceToolName}
			}
			return nil
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			profile := stringArg(args, "target_profile", "balanced")
			target, ok := targetAllocations[profile]
			if !ok {
				return tool.Fail(CodeInvalidTargetProfile, "unknown target_profile").WithMeta("target_profile", profile), nil
			}
			details, err := src.Details(ctx)
			if err != nil {
				return sourceFailure(err).WithMeta("target_profile", profile), nil
			}
			if len(details.Holdings) == 0 {
				return tool.Fail(CodeEmptyPortfolio, "no holdings").WithMeta("target_profile", profile), nil
			}
			return tool.OK(adviseAllocation(details.Holdings, profile, target)).WithMeta("target_profile", profile), nil
		}),
	}
}

// allocationPct Ghostfolio 可能返回 0..1 的比例
func allocationPct(v float64) float64 {
	if v >= 0 && v <= 1 {
		return v * 100
	}
	return v
}

func adviseAllocation(holdings map[string]portfolio.Holding, profile string, target map[string]float64) map[string]any {
	current := make(map[string]float64, len(AssetClasses))
	for _, c := range AssetClasses {
		current[c] = 0
	}
	warnings := []map[string]any{}
	for symbol, h := range holdings {
		pct := allocationPct(h.AllocationInPercentage)
		if _, known := current[h.AssetClass]; known {
			current[h.AssetClass] += pct
		} else {
			// 缺失资产类别时归入权益，保证总和
			current["EQUITY"] += pct
		}
		if pct > ConcentrationThreshold {
			warnings = append(warnings, map[string]any{
				"symbol":           symbol,
				"pct_of_portfolio": round2(pct),
				"threshold":        ConcentrationThreshold,
			})
		}
	}

	var total float64
	for _, v := range current {
		total += v
	}
	if total > 0 && math.Abs(total-100) > 1 {
		for c, v := range current {
			current[c] = v / total * 100
		}
	}

	targetOut := make(map[string]float64, len(AssetClasses))
	drift := make(map[string]float64, len(AssetClasses))
	for _, c := range AssetClasses {
		current[c] = round2(current[c])
		targetOut[c] = round2(target[c])
		drift[c] = round2(current[c] - targetOut[c])
	}

	sort.Slice(warnings, func(i, j int) bool {
		pi, pj := warnings[i]["pct_of_portfolio"].(float64), warnings[j]["pct_of_portfolio"].(float64)
		if pi != pj {
			return pi > pj
		}
		return warnings[i]["symbol"].(string) < warnings[j]["symbol"].(string)
	})

	return map[string]any{
		"target_profile":          profile,
		"current_allocation":      current,
		"target_allocation":       targetOut,
		"drift":                   drift,
		"concentration_warnings":  warnings,
		"rebalancing_suggestions": rebalancingSuggestions(drift, profile),
		"holdings_count":          len(holdings),
		"disclaimer":              allocationDisclaimer,
	}
}

func rebalancingSuggestions(drift map[string]float64, profile string) []string {
	var over, under []string
	for _, c := range AssetClasses {
		switch {
		case drift[c] > 0:
			over = append(over, c)
		case drift[c] < 0:
			under = append(under, c)
		}
	}
	sort.SliceStable(over, func(i, j int) bool { return drift[over[i]] > drift[over[j]] })
	sort.SliceStable(under, func(i, j int) bool { return drift[under[i]] < drift[under[j]] })

	var out []string
	if len(over) > 0 {
		out = append(out, fmt.Sprintf("Consider trimming %s by about %.2f%% to align with the %s profile.",
			assetClassLabel(over[0]), drift[over[0]], profile))
	}
	if len(under) > 0 {
		out = append(out, fmt.Sprintf("Consider increasing %s by about %.2f%% to align with the %s profile.",
			assetClassLabel(under[0]), -drift[under[0]], profile))
	}
	if len(out) == 0 {
		out = append(out, "Current allocation is already close to the selected target profile.")
	}
	return out
}

// assetClassLabel FIXED_INCOME → Fixed Income
func assetClassLabel(c string) string {
	words := strings.Split(strings.ToLower(c), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
