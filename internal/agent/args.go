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

package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"finagent/internal/tool"
)

// extractor 从用户原话中抽取单个参数；ok 为 false 表示未提及
type extractor func(message string, now time.Time) (value any, ok bool)

// argExtractors 按参数名注册，与具体工具无关
var argExtractors = map[string]extractor{
	"time_period":    extractDateRange,
	"date_range":     extractDateRange,
	"tax_year":       extractTaxYear,
	"income_bracket": extractIncomeBracket,
	"target_profile": extractTargetProfile,
	"check_type":     extractCheckType,
	"symbols":        extractSymbols,
}

var (
	dateRangeRe = regexp.MustCompile(`\b(1d|wtd|mtd|ytd|1y|5y|max)\b`)
	taxYearRe   = regexp.MustCompile(`\b(20\d{2})\b`)
	bracketRe   = regexp.MustCompile(`\b(low|middle|mid|high)\b`)
	profileRe   = regexp.MustCompile(`\b(conservative|balanced|moderate|aggressive)\b`)
	tickerRe    = regexp.MustCompile(`\$?\b[A-Z]{1,5}\b`)
)

var dateRangePhrases = []struct {
	phrase string
	value  string
}{
	{"year to date", "ytd"},
	{"year-to-date", "ytd"},
	{"this year", "ytd"},
	{"month to date", "mtd"},
	{"this month", "mtd"},
	{"week to date", "wtd"},
	{"this week", "wtd"},
	{"today", "1d"},
	{"past year", "1y"},
	{"last year", "1y"},
	{"12 months", "1y"},
	{"5 years", "5y"},
	{"five years", "5y"},
	{"all time", "max"},
	{"all-time", "max"},
	{"since inception", "max"},
}

// tickerStopwords 大写但不是代码的常见词
var tickerStopwords = map[string]bool{
	"I": true, "A": true, "AM": true, "AN": true, "AND": true, "OR": true, "MY": true, "ME": true,
	"IS": true, "IT": true, "OF": true, "ON": true, "TO": true, "IN": true, "THE": true, "FOR": true,
	"WHAT": true, "HOW": true, "ETF": true, "USD": true, "EUR": true, "YTD": true, "MTD": true,
	"WTD": true, "MAX": true, "PDT": true, "IRA": true, "TAX": true,
}

// ExtractArgs 按工具输入字段逐个抽取；未提及的字段交给 Schema 默认值
func ExtractArgs(def tool.Definition, message string, now time.Time) map[string]any {
	args := make(map[string]any)
	for _, name := range def.InputSchema.Names() {
		ex, ok := argExtractors[name]
		if !ok {
			continue
		}
		if v, ok := ex(message, now); ok {
			args[name] = v
		}
	}
	return args
}

func extractDateRange(message string, _ time.Time) (any, bool) {
	text := strings.ToLower(message)
	if m := dateRangeRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	for _, p := range dateRangePhrases {
		if strings.Contains(text, p.phrase) {
			return p.value, true
		}
	}
	return nil, false
}

func extractTaxYear(message string, now time.Time) (any, bool) {
	if m := taxYearRe.FindStringSubmatch(message); m != nil {
		year, err := strconv.Atoi(m[1])
		if err == nil {
			return year, true
		}
	}
	text := strings.ToLower(message)
	switch {
	case strings.Contains(text, "last year"):
		return now.Year() - 1, true
	case strings.Contains(text, "this year"):
		return now.Year(), true
	}
	return nil, false
}

func extractIncomeBracket(message string, _ time.Time) (any, bool) {
	m := bracketRe.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return nil, false
	}
	if m[1] == "mid" {
		return "middle", true
	}
	return m[1], true
}

func extractTargetProfile(message string, _ time.Time) (any, bool) {
	m := profileRe.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return nil, false
	}
	if m[1] == "moderate" {
		return "balanced", true
	}
	return m[1], true
}

func extractCheckType(message string, _ time.Time) (any, bool) {
	text := strings.ToLower(message)
	var found []string
	if strings.Contains(text, "wash sale") || strings.Contains(text, "wash-sale") {
		found = append(found, "wash_sale")
	}
	if strings.Contains(text, "pattern day") || strings.Contains(text, "day trad") {
		found = append(found, "pattern_day_trading")
	}
	if strings.Contains(text, "concentration") {
		found = append(found, "concentration")
	}
	if len(found) != 1 {
		return nil, false
	}
	return found[0], true
}

func extractSymbols(message string, _ time.Time) (any, bool) {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range tickerRe.FindAllString(message, -1) {
		sym := strings.TrimPrefix(raw, "$")
		if tickerStopwords[sym] || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
