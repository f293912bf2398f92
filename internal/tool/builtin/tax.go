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
	minTaxYear       = 2020
	shortTermMaxDays = 365
	taxDisclaimer    = "Simplified estimate using FIFO. Not financial advice."
)

type taxRates struct {
	shortTerm float64
	longTerm  float64
}

var ratesByBracket = map[string]taxRates{
	"low":    {shortTerm: 0.22, longTerm: 0},
	"middle": {shortTerm: 0.24, longTerm: 0.15},
	"high":   {shortTerm: 0.24, longTerm: 0.20},
}

// NewTaxTool 资本利得税估算（FIFO 批次匹配）
func NewTaxTool(src portfolio.Source, opts Options) tool.Definition {
	currentYear := opts.now().Year()
	return tool.Definition{
		Name:        TaxToolName,
		DisplayName: "Tax Estimator",
		Description: "Estimate capital gains tax liability using FIFO lot matching.",
		InputSchema: tool.Schema{
			"tax_year": {
				Type:        tool.Integer,
				Description: fmt.Sprintf("Tax year to estimate (%d to current year).", minTaxYear),
				Minimum:     tool.Bound(minTaxYear),
				Maximum:     tool.Bound(float64(currentYear)),
				Default:     currentYear,
			},
			"income_bracket": {
				Type:        tool.String,
				Description: "Income bracket for tax rate lookup: low (22%/0%), middle (24%/15%), high (24%/20%).",
				Enum:        []string{"low", "middle", "high"},
				Default:     "middle",
			},
		},
		OutputSchema: tool.Schema{
			"tax_year":           {Type: tool.Integer, Required: true},
			"combined_liability": {Type: tool.Number, Required: true, Minimum: tool.Bound(0)},
			"short_term":         {Type: tool.Object, Required: true, Properties: termSchema()},
			"long_term":          {Type: tool.Object, Required: true, Properties: termSchema()},
			"per_asset":          {Type: tool.Array, Required: true},
		},
		Triggers: []string{
			"tax", "capital gains", "liability", "short term", "long term",
			"short-term", "long-term",
		},
		Highlights: []tool.Highlight{
			{Field: "combined_liability", Format: tool.FormatMoney},
			{Field: "tax_year", Format: tool.FormatText},
		},
		Summarize: func(data map[string]any) string {
			return fmt.Sprintf("Capital gains estimate is ready. Estimated combined liability for %v is %s.",
				data["tax_year"], tool.FormatValue(data["combined_liability"], tool.FormatMoney))
		},
		Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
			year := intArg(args, "tax_year", opts.now().Year())
			bracket := stringArg(args, "income_bracket", "middle")
			if year < minTaxYear || year > opts.now().Year() {
				return tool.Fail(CodeInvalidTaxYear, "tax_year out of range").WithMeta("tax_year", year), nil
			}
			rates, ok := ratesByBracket[bracket]
			if !ok {
				return tool.Fail(CodeInvalidIncomeBracket, "unknown income_bracket").WithMeta("income_bracket", bracket), nil
			}
			orders, err := src.Orders(ctx, "")
			if err != nil {
				return sourceFailure(err).WithMeta("tax_year", year), nil
			}
			data := estimateTax(orders.Activities, year, rates)
			data["income_bracket"] = bracket
			return tool.OK(data).WithMeta("tax_year", year).WithMeta("income_bracket", bracket), nil
		}),
	}
}

func termSchema() tool.Schema {
	return tool.Schema{
		"total_gains":   {Type: tool.Number, Required: true, Minimum: tool.Bound(0)},
		"total_losses":  {Type: tool.Number, Required: true, Maximum: tool.Bound(0)},
		"net":           {Type: tool.Number, Required: true},
		"estimated_tax": {Type: tool.Number, Required: true, Minimum: tool.Bound(0)},
		"rate_applied":  {Type: tool.Number, Required: true, Minimum: tool.Bound(0), Maximum: tool.Bound(1)},
	}
}

type lot struct {
	acquired  time.Time
	remaining float64
	unitPrice float64
}

type trade struct {
	buy       bool
	date      time.Time
	quantity  float64
	unitPrice float64
}

type realized struct {
	symbol    string
	gainLoss  float64
	longTerm  bool
	costBasis float64
	proceeds  float64
}

// estimateTax 按标的 FIFO 匹配卖出批次，只统计卖出日落在 year 的已实现损益
func estimateTax(activities []portfolio.Activity, year int, rates taxRates) map[string]any {
	bySymbol := map[string][]trade{}
	for _, a := range activities {
		typ := strings.ToUpper(a.Type)
		if typ != "BUY" && typ != "SELL" {
			continue
		}
		date, ok := a.Time()
		symbol := strings.TrimSpace(a.SymbolProfile.Symbol)
		if !ok || symbol == "" || a.Quantity <= 0 || a.UnitPrice < 0 {
			continue
		}
		bySymbol[symbol] = append(bySymbol[symbol], trade{buy: typ == "BUY", date: date, quantity: a.Quantity, unitPrice: a.UnitPrice})
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var entries []realized
	for _, symbol := range symbols {
		trades := bySymbol[symbol]
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].date.Before(trades[j].date) })
		var lots []lot
		for _, t := range trades {
			if t.buy {
				lots = append(lots, lot{acquired: t.date, remaining: t.quantity, unitPrice: t.unitPrice})
				continue
			}
			toMatch := t.quantity
			for toMatch > 0 && len(lots) > 0 {
				oldest := &lots[0]
				matched := min(toMatch, oldest.remaining)
				cost := matched * oldest.unitPrice
				proceeds := matched * t.unitPrice
				acquired := oldest.acquired
				oldest.remaining -= matched
				toMatch -= matched
				if oldest.remaining <= 0 {
					lots = lots[1:]
				}
				if t.date.Year() != year {
					continue
				}
				held := int(t.date.Sub(acquired).Hours() / 24)
				entries = append(entries, realized{
					symbol:    symbol,
					gainLoss:  round2(proceeds - cost),
					longTerm:  held > shortTermMaxDays,
					costBasis: round2(cost),
					proceeds:  round2(proceeds),
				})
			}
		}
	}

	var short, long []realized
	perAsset := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		period := "short_term"
		if e.longTerm {
			period = "long_term"
			long = append(long, e)
		} else {
			short = append(short, e)
		}
		perAsset = append(perAsset, map[string]any{
			"symbol":         e.symbol,
			"gain_loss":      e.gainLoss,
			"holding_period": period,
			"cost_basis":     e.costBasis,
			"proceeds":       e.proceeds,
		})
	}
	shortTerm := termSummary(rates.shortTerm, short)
	longTerm := termSummary(rates.longTerm, long)
	return map[string]any{
		"tax_year":           year,
		"short_term":         shortTerm,
		"long_term":          longTerm,
		"combined_liability": round2(shortTerm["estimated_tax"] + longTerm["estimated_tax"]),
		"per_asset":          perAsset,
		"disclaimer":         taxDisclaimer,
	}
}

func termSummary(rate float64, entries []realized) map[string]float64 {
	var gains, losses float64
	for _, e := range entries {
		if e.gainLoss > 0 {
			gains += e.gainLoss
		} else {
			losses += e.gainLoss
		}
	}
	gains, losses = round2(gains), round2(losses)
	net := round2(gains + losses)
	return map[string]float64{
		"total_gains":   gains,
		"total_losses":  losses,
		"net":           net,
		"estimated_tax": round2(max(net, 0) * rate),
		"rate_applied":  rate,
	}
}
