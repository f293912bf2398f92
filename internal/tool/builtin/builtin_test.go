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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/portfolio"
	"finagent/internal/tool"
)

var testOpts = Options{Now: func() time.Time { return time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC) }}

func fixtureSource(t *testing.T) portfolio.Source {
	t.Helper()
	m, err := portfolio.NewMock()
	require.NoError(t, err)
	return m
}

type failingSource struct{ err error }

func (f failingSource) Details(context.Context) (*portfolio.Details, error) { return nil, f.err }
func (f failingSource) Orders(context.Context, string) (*portfolio.Orders, error) {
	return nil, f.err
}

func call(t *testing.T, def tool.Definition, args map[string]any) tool.Result {
	t.Helper()
	normalized, err := def.InputSchema.ValidateArgs(args)
	require.NoError(t, err)
	res, err := def.Handler.Call(context.Background(), normalized)
	require.NoError(t, err)
	if res.Success {
		assert.Empty(t, def.OutputSchema.CheckData(res.Data), "output must satisfy %s schema", def.Name)
		if def.Verify != nil {
			assert.NoError(t, def.Verify(res.Data))
		}
	}
	return res
}

func TestPerformanceTool(t *testing.T) {
	def := NewPerformanceTool(fixtureSource(t))
	res := call(t, def, map[string]any{"time_period": "YTD"})
	require.True(t, res.Success)
	v, ok := tool.Lookup(res.Data, "performance.netPerformancePercentage")
	require.True(t, ok)
	assert.Equal(t, 14.29, v)
	assert.Equal(t, "ytd", res.Metadata["time_period"])
	assert.Contains(t, def.Summarize(res.Data), "14.29%")
	assert.Contains(t, def.Summarize(res.Data), "$100,000.00")
	assert.False(t, def.IsEmpty(res.Data))

	res, _ = def.Handler.Call(context.Background(), map[string]any{"time_period": "decade"})
	assert.Equal(t, portfolio.CodeInvalidTimePeriod, res.ErrorCode())

	empty := NewPerformanceTool(portfolio.EmptyMock())
	res, err := empty.Handler.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, empty.IsEmpty(res.Data))
}

func TestSourceFailuresKeepCodes(t *testing.T) {
	src := failingSource{err: &portfolio.Error{Code: portfolio.CodeAPITimeout, Status: 504, Detail: "upstream body"}}
	for _, def := range Tools(src, testOpts) {
		t.Run(def.Name, func(t *testing.T) {
			normalized, err := def.InputSchema.ValidateArgs(nil)
			require.NoError(t, err)
			res, err := def.Handler.Call(context.Background(), normalized)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, portfolio.CodeAPITimeout, res.ErrorCode())
			assert.Equal(t, 504, res.Metadata["status"])
			assert.NotContains(t, res.Error.Message, "upstream body")
		})
	}
}

func TestTransactionsTool(t *testing.T) {
	def := NewTransactionsTool(fixtureSource(t))
	res := call(t, def, nil)
	require.True(t, res.Success)
	assert.Equal(t, 17, res.Data["total_transactions"])
	counts := res.Data["by_type_counts"].(map[string]int)
	assert.Equal(t, 9, counts["BUY"])
	assert.Equal(t, 4, counts["SELL"])
	assert.Equal(t, 2, counts["DIVIDEND"])
	assert.Equal(t, 0, counts["LIABILITY"])

	summary := res.Data["summary"].(map[string]any)
	assert.Equal(t, 89750.0, summary["buy_total"])
	assert.Equal(t, 11950.0, summary["sell_total"])
	assert.Equal(t, 134.5, summary["dividend_total"])
	assert.Contains(t, def.Summarize(res.Data), "17 activities")

	empty := NewTransactionsTool(portfolio.EmptyMock())
	res = call(t, empty, map[string]any{"date_range": "1y"})
	assert.True(t, empty.IsEmpty(res.Data))
}

func TestTaxTool(t *testing.T) {
	def := NewTaxTool(fixtureSource(t), testOpts)

	tests := []struct {
		name      string
		args      map[string]any
		liability float64
		shortNet  float64
		longNet   float64
	}{
		{"middle bracket", map[string]any{"tax_year": 2025}, 228, 200, 1200},
		{"low bracket", map[string]any{"tax_year": 2025, "income_bracket": "low"}, 44, 200, 1200},
		{"high bracket", map[string]any{"tax_year": 2025, "income_bracket": "high"}, 288, 200, 1200},
		{"no sales that year", map[string]any{"tax_year": 2024}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, def, tt.args)
			require.True(t, res.Success)
			assert.InDelta(t, tt.liability, res.Data["combined_liability"], 0.001)
			assert.InDelta(t, tt.shortNet, res.Data["short_term"].(map[string]float64)["net"], 0.001)
			assert.InDelta(t, tt.longNet, res.Data["long_term"].(map[string]float64)["net"], 0.001)
		})
	}

	res, _ := def.Handler.Call(context.Background(), map[string]any{"tax_year": 2019})
	assert.Equal(t, CodeInvalidTaxYear, res.ErrorCode())
	res, _ = def.Handler.Call(context.Background(), map[string]any{"tax_year": 2025, "income_bracket": "ultra"})
	assert.Equal(t, CodeInvalidIncomeBracket, res.ErrorCode())

	_, err := def.InputSchema.ValidateArgs(map[string]any{"tax_year": 2026})
	assert.ErrorIs(t, err, tool.ErrValidation)

	args, err := def.InputSchema.ValidateArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, 2025, args["tax_year"])
}

func TestTaxFIFO_PartialLots(t *testing.T) {
	acts := []portfolio.Activity{
		{Type: "BUY", Date: "2024-01-01", Quantity: 10, UnitPrice: 10, SymbolProfile: portfolio.SymbolProfile{Symbol: "X"}},
		{Type: "BUY", Date: "2025-01-01", Quantity: 10, UnitPrice: 20, SymbolProfile: portfolio.SymbolProfile{Symbol: "X"}},
		{Type: "SELL", Date: "2025-06-01", Quantity: 15, UnitPrice: 30, SymbolProfile: portfolio.SymbolProfile{Symbol: "X"}},
	}
	data := estimateTax(acts, 2025, ratesByBracket["middle"])
	perAsset := data["per_asset"].([]map[string]any)
	require.Len(t, perAsset, 2)
	assert.Equal(t, 200.0, perAsset[0]["gain_loss"])
	assert.Equal(t, "long_term", perAsset[0]["holding_period"])
	assert.Equal(t, 50.0, perAsset[1]["gain_loss"])
	assert.Equal(t, "short_term", perAsset[1]["holding_period"])
	assert.InDelta(t, 200*0.15+50*0.24, data["combined_liability"], 0.001)
}

func TestAllocationTool(t *testing.T) {
	def := NewAllocationTool(fixtureSource(t))
	res := call(t, def, nil)
	require.True(t, res.Success)
	current := res.Data["current_allocation"].(map[string]float64)
	assert.Equal(t, 55.0, current["EQUITY"])
	assert.Equal(t, 25.0, current["FIXED_INCOME"])
	drift := res.Data["drift"].(map[string]float64)
	assert.Equal(t, 8.0, drift["COMMODITY"])
	assert.Equal(t, -5.0, drift["EQUITY"])
	tips := res.Data["rebalancing_suggestions"].([]string)
	assert.Equal(t, "Consider trimming Commodity by about 8.00% to align with the balanced profile.", tips[0])
	assert.Equal(t, 8, res.Data["holdings_count"])
	assert.Empty(t, def.FollowUps(res.Data))

	res, _ = def.Handler.Call(context.Background(), map[string]any{"target_profile": "yolo"})
	assert.Equal(t, CodeInvalidTargetProfile, res.ErrorCode())

	res, _ = NewAllocationTool(portfolio.EmptyMock()).Handler.Call(context.Background(), map[string]any{})
	assert.Equal(t, CodeEmptyPortfolio, res.ErrorCode())
}

func TestAllocationTool_ConcentrationFlagsCompliance(t *testing.T) {
	src := portfolio.NewMockWith(&portfolio.Details{Holdings: map[string]portfolio.Holding{
		"NVDA": {AssetClass: "EQUITY", AllocationInPercentage: 60},
		"BND":  {AssetClass: "FIXED_INCOME", AllocationInPercentage: 30},
		"ZZZ":  {AllocationInPercentage: 10},
	}}, nil)
	def := NewAllocationTool(src)
	res := call(t, def, map[string]any{"target_profile": "aggressive"})
	require.True(t, res.Success)
	warnings := res.Data["concentration_warnings"].([]map[string]any)
	require.Len(t, warnings, 2)
	assert.Equal(t, "NVDA", warnings[0]["symbol"])
	assert.Equal(t, []string{ComplianceToolName}, def.FollowUps(res.Data))
	assert.Equal(t, 70.0, res.Data["current_allocation"].(map[string]float64)["EQUITY"])
}

func TestAllocationVerify_RejectsBadSum(t *testing.T) {
	def := NewAllocationTool(portfolio.EmptyMock())
	assert.Error(t, def.Verify(map[string]any{"current_allocation": map[string]float64{"EQUITY": 150}}))
	assert.Error(t, def.Verify(map[string]any{}))
}

func TestComplianceTool(t *testing.T) {
	def := NewComplianceTool(fixtureSource(t))
	res := call(t, def, nil)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data["total_violations"])
	assert.Equal(t, 0, res.Data["total_warnings"])
	v := res.Data["violations"].([]map[string]any)[0]
	assert.Equal(t, "WASH_SALE", v["type"])
	assert.Equal(t, "TSLA", v["symbol"])
	assert.Equal(t, 17, v["days_between"])

	res = call(t, def, map[string]any{"check_type": "concentration"})
	assert.Equal(t, 0, res.Data["total_violations"])

	res, _ = def.Handler.Call(context.Background(), map[string]any{"check_type": "everything"})
	assert.Equal(t, CodeInvalidCheckType, res.ErrorCode())
}

func TestDetectPatternDayTrading(t *testing.T) {
	var acts []portfolio.Activity
	for i, day := range []string{"2025-02-03", "2025-02-04", "2025-02-05", "2025-02-06"} {
		sym := portfolio.SymbolProfile{Symbol: []string{"A", "B", "C", "D"}[i]}
		acts = append(acts,
			portfolio.Activity{Type: "BUY", Date: day, Quantity: 1, UnitPrice: 1, SymbolProfile: sym},
			portfolio.Activity{Type: "SELL", Date: day, Quantity: 1, UnitPrice: 1, SymbolProfile: sym},
		)
	}
	warnings := detectPatternDayTrading(acts)
	require.Len(t, warnings, 1)
	assert.Equal(t, 4, warnings[0]["day_trades_in_window"])
	assert.Equal(t, "2025-02-06", warnings[0]["window_end"])
	assert.Equal(t, []string{"A", "B", "C", "D"}, warnings[0]["symbols"])

	assert.Empty(t, detectPatternDayTrading(acts[:6]))
}

func TestMarketTool(t *testing.T) {
	def := NewMarketTool(fixtureSource(t))

	res := call(t, def, map[string]any{"symbols": []any{"msft", "aapl"}})
	require.True(t, res.Success)
	rows := res.Data["holdings"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0]["symbol"])
	assert.Equal(t, 50.0, rows[0]["change_percent"])
	assert.Equal(t, 35000.0, res.Data["total_market_value"])
	assert.NotContains(t, rows[0], "quantity")

	res = call(t, def, map[string]any{"metrics": []any{"all"}})
	rows = res.Data["holdings"].([]map[string]any)
	assert.Len(t, rows, 8)
	assert.Equal(t, "VTI", rows[0]["symbol"])
	assert.Contains(t, rows[0], "quantity")
	assert.Equal(t, "Market data retrieved. Showing data for 8 holding(s) with total value $100,000.00.", def.Summarize(res.Data))

	res, _ = def.Handler.Call(context.Background(), map[string]any{"symbols": []string{"ZZZZ"}})
	assert.Equal(t, CodeSymbolsNotFound, res.ErrorCode())

	res, _ = def.Handler.Call(context.Background(), map[string]any{"metrics": []string{"volume"}})
	assert.Equal(t, CodeInvalidMetric, res.ErrorCode())

	res, _ = NewMarketTool(portfolio.EmptyMock()).Handler.Call(context.Background(), map[string]any{})
	assert.Equal(t, CodeEmptyPortfolio, res.ErrorCode())
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(fixtureSource(t), testOpts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		PerformanceToolName, TransactionsToolName, TaxToolName,
		AllocationToolName, ComplianceToolName, MarketToolName,
	}, reg.Names())

	for _, plan := range PlanPhrases() {
		for _, name := range plan.Tools {
			_, ok := reg.Get(name)
			assert.True(t, ok, "%s references %s", plan.Phrase, name)
		}
	}
	for _, def := range reg.List() {
		assert.NotEmpty(t, def.Triggers, def.Name)
		assert.NotNil(t, def.Summarize, def.Name)
		assert.NotEmpty(t, def.Highlights, def.Name)
	}
}
