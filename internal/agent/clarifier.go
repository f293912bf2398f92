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

	"finagent/internal/agent/event"
)

// Capabilities 支持的分析能力
var Capabilities = []string{
	"Portfolio performance analysis across supported date ranges",
	"Transaction categorization and activity summaries",
	"Capital gains tax estimation (FIFO-based, informational only)",
	"Asset allocation and concentration analysis by target profile",
	"Compliance screening for wash sales, pattern day trading and concentration risk",
	"Current market data for your holdings",
}

// ExampleQuestions 示例问题
var ExampleQuestions = []string{
	"How is my portfolio doing ytd?",
	"Categorize my transactions for max range.",
	"Estimate my 2025 capital gains tax in middle bracket.",
	"Analyze my allocation with a balanced profile.",
}

// Clarify 越界请求的固定回复：无模型、无工具、无引用
func Clarify() event.Response {
	var b strings.Builder
	b.WriteString("I can help with financial analysis inside Ghostfolio, but I could not map that request to a supported tool.\n\nSupported capabilities:")
	for _, c := range Capabilities {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	b.WriteString("\n\nTry asking:")
	for _, q := range ExampleQuestions {
		b.WriteString("\n- ")
		b.WriteString(q)
	}
	return event.Response{
		Message:    b.String(),
		Citations:  []event.Citation{},
		Confidence: 0,
		Category:   event.CategoryClarification,
	}
}
