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
	"strings"

	"finagent/internal/tool/registry"
)

// injectionMarkers 命中即视为越界请求
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore your instructions",
	"ignore all previous",
	"system prompt",
	"developer message",
	"reveal prompt",
	"reveal your prompt",
	"show hidden instructions",
}

// followUpMarkers 承接上一轮的话术
var followUpMarkers = []string{
	"based on that",
	"based on this",
	"from that",
	"following up",
	"given that",
	"what should i do next",
}

// PlanRule 显式多步短语
type PlanRule struct {
	Phrase string
	Tools  []string
}

type keywordEntry struct {
	tool     string
	triggers []string
	generic  []string
}

type span struct {
	tool       string
	start, end int
}

// KeywordTable 关键词路由表：按注册顺序匹配，构建后只读
type KeywordTable struct {
	entries []keywordEntry
	plans   []PlanRule
}

// NewKeywordTable 从注册表读取触发词
func NewKeywordTable(reg *registry.Registry, plans ...PlanRule) *KeywordTable {
	k := &KeywordTable{plans: plans}
	for _, def := range reg.List() {
		k.entries = append(k.entries, keywordEntry{
			tool:     def.Name,
			triggers: lowerAll(def.Triggers),
			generic:  lowerAll(def.GenericTriggers),
		})
	}
	for i := range k.plans {
		k.plans[i].Phrase = strings.ToLower(k.plans[i].Phrase)
	}
	return k
}

// Match 返回命中的工具（去重，按注册顺序）。
// 某工具的命中片段完全落在另一工具更长的命中片段内时不计，如 "concentration risk" 不算 "concentrat"。
func (k *KeywordTable) Match(message string) []string {
	text := strings.ToLower(message)
	var spans []span
	for _, e := range k.entries {
		spans = append(spans, findSpans(text, e.tool, e.triggers)...)
	}

	var out []string
	seen := make(map[string]bool)
	for _, e := range k.entries {
		if seen[e.tool] {
			continue
		}
		for _, s := range spans {
			if s.tool == e.tool && !shadowed(s, spans) {
				out = append(out, e.tool)
				seen[e.tool] = true
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range k.entries {
		if len(findSpans(text, e.tool, e.generic)) > 0 {
			return []string{e.tool}
		}
	}
	return nil
}

// Plan 显式多步短语优先，否则为 Match
func (k *KeywordTable) Plan(message string) []string {
	text := strings.ToLower(message)
	for _, p := range k.plans {
		if strings.Contains(text, p.Phrase) {
			return append([]string(nil), p.Tools...)
		}
	}
	return k.Match(message)
}

// IsInjection 是否包含提示注入话术
func IsInjection(message string) bool {
	return containsAny(strings.ToLower(message), injectionMarkers)
}

// IsFollowUp 是否承接上一轮
func IsFollowUp(message string) bool {
	return containsAny(strings.ToLower(message), followUpMarkers)
}

func findSpans(text, tool string, phrases []string) []span {
	var out []span
	for _, p := range phrases {
		if p == "" {
			continue
		}
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], p)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, span{tool: tool, start: start, end: start + len(p)})
			from = start + 1
		}
	}
	return out
}

func shadowed(s span, all []span) bool {
	for _, o := range all {
		if o.tool == s.tool {
			continue
		}
		if o.start <= s.start && s.end <= o.end && o.end-o.start > s.end-s.start {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func lowerAll(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, strings.ToLower(s))
	}
	return out
}
