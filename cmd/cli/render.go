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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"finagent/internal/agent/event"
)

// printer 把事件流渲染到终端；实现 event.Sink
type printer struct {
	out  io.Writer
	json bool
	// midLine 已输出 token 但尚未换行
	midLine bool
}

func newPrinter(out io.Writer, asJSON bool) *printer {
	return &printer{out: out, json: asJSON}
}

type ndjsonLine struct {
	Event event.Kind `json:"event"`
	Data  any        `json:"data"`
}

// Emit 实现 event.Sink
func (p *printer) Emit(_ context.Context, e event.Event) error {
	if p.json {
		b, err := json.Marshal(ndjsonLine{Event: e.Kind, Data: e.Data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", b)
		return err
	}

	switch d := e.Data.(type) {
	case event.ThinkingData:
		p.line("… %s", d.Message)
	case event.ToolCallData:
		p.line("→ %s(%s) attempt %d", d.Tool, formatArgs(d.Args), d.Attempt)
	case event.ToolResultData:
		status := d.Outcome
		if d.Error != nil {
			status += " " + d.Error.Code
		}
		p.line("← %s %s (%dms)", d.Tool, status, d.DurationMS)
	case event.TokenData:
		p.midLine = true
		_, err := io.WriteString(p.out, d.Text)
		return err
	case event.DoneData:
		p.endLine()
		for _, c := range d.Response.Citations {
			p.line("  %s %s: %s", c.Label, c.DisplayName, c.Value)
		}
		p.line("confidence %.2f · %s", d.Response.Confidence, d.Response.Category)
	case event.ErrorData:
		p.line("error %s: %s", d.Code, d.Message)
	default:
		p.line("%s", e.Kind)
	}
	return nil
}

func (p *printer) line(format string, args ...any) {
	p.endLine()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}
