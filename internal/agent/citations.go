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
	"fmt"

	"finagent/internal/agent/event"
	"finagent/internal/tool"
	"finagent/internal/tool/registry"
)

// MaxCitationsPerTool 单个工具结果最多引用的字段数
const MaxCitationsPerTool = 3

// BuildCitations 只从 chain_history 中成功且有数据的结果里取 Highlights 字段
func BuildCitations(reg *registry.Registry, steps []Step) []event.Citation {
	out := []event.Citation{}
	cited := make(map[string]bool)
	for _, step := range steps {
		if !step.Result.Success || len(step.Result.Data) == 0 || cited[step.Tool] {
			continue
		}
		def, ok := reg.Get(step.Tool)
		if !ok {
			continue
		}
		cited[step.Tool] = true
		n := 0
		for _, h := range def.Highlights {
			if n == MaxCitationsPerTool {
				break
			}
			v, ok := tool.Lookup(step.Result.Data, h.Field)
			if !ok {
				continue
			}
			n++
			out = append(out, event.Citation{
				Label:       fmt.Sprintf("[%d]", len(out)+1),
				Tool:        step.Tool,
				Field:       h.Field,
				DisplayName: def.DisplayName,
				Value:       tool.FormatValue(v, h.Format),
			})
		}
	}
	return out
}

// Grounded 每条引用的 (tool, field) 都能在 chain_history 中找到
func Grounded(citations []event.Citation, steps []Step) bool {
	for _, c := range citations {
		found := false
		for _, step := range steps {
			if step.Tool != c.Tool || !step.Result.Success {
				continue
			}
			if _, ok := tool.Lookup(step.Result.Data, c.Field); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func citationLine(c event.Citation) string {
	return fmt.Sprintf("%s %s %s: %s", c.Label, c.DisplayName, c.Field, c.Value)
}
