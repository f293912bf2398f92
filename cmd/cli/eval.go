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
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"finagent/internal/agent"
	"finagent/internal/agent/event"
	"finagent/internal/app"
	"finagent/pkg/config"
	"finagent/pkg/log"
)

//go:embed evals.yaml
var evalCorpus []byte

// evalNow 评测固定时钟，保证默认税年与日期区间可复现
var evalNow = func() time.Time { return time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC) }

// evalCase 一条评测用例
type evalCase struct {
	Name     string            `yaml:"name"`
	Question string            `yaml:"question"`
	Category string            `yaml:"category"`
	Tools    []string          `yaml:"tools"`
	Args     map[string]string `yaml:"args"`
}

// evalOutcome 单条用例结果
type evalOutcome struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Tools    []string `json:"tools"`
	Category string   `json:"category"`
	Failures []string `json:"failures,omitempty"`
}

func loadEvalCases(raw []byte) ([]evalCase, error) {
	var cases []evalCase
	if err := yaml.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("parse eval corpus: %w", err)
	}
	for i, c := range cases {
		if c.Name == "" || c.Question == "" {
			return nil, fmt.Errorf("eval case %d: name and question are required", i)
		}
	}
	return cases, nil
}

func newEvalCmd(global *globalFlags) *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the offline scenario corpus over fixture data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cases, err := loadEvalCases(evalCorpus)
			if err != nil {
				return err
			}
			if only != "" {
				cases = slices.DeleteFunc(cases, func(c evalCase) bool { return c.Name != only })
				if len(cases) == 0 {
					return fmt.Errorf("no eval case named %q", only)
				}
			}
			outcomes, err := runEval(cmd.Context(), global.logger(cmd.ErrOrStderr()), cases)
			if err != nil {
				return err
			}
			return reportEval(cmd.OutOrStdout(), outcomes, global.JSON)
		},
	}
	cmd.Flags().StringVar(&only, "case", "", "run a single case by name")
	return cmd
}

// runEval 每条用例一个新会话：mock 数据源、内存会话、无模型
func runEval(ctx context.Context, logger *log.Logger, cases []evalCase) ([]evalOutcome, error) {
	b, err := app.NewBootstrap(ctx, config.Default(), app.Options{Logger: logger, Offline: true, Now: evalNow})
	if err != nil {
		return nil, err
	}
	defer b.Close()

	out := make([]evalOutcome, 0, len(cases))
	for _, c := range cases {
		rec := &event.Recorder{}
		res, err := b.Orchestrator.Run(ctx, agent.Request{Message: c.Question}, rec)
		if err != nil {
			return nil, fmt.Errorf("eval %s: %w", c.Name, err)
		}
		out = append(out, scoreCase(c, res, rec))
	}
	return out, nil
}

// scoreCase 比较工具序列、回复类别与抽取参数
func scoreCase(c evalCase, res *agent.Result, rec *event.Recorder) evalOutcome {
	o := evalOutcome{Name: c.Name, Tools: distinctTools(res.Steps)}
	fail := func(format string, args ...any) {
		o.Failures = append(o.Failures, fmt.Sprintf(format, args...))
	}

	if done, ok := rec.Done(); ok {
		o.Category = done.Response.Category
	} else if e, ok := rec.Err(); ok {
		o.Category = "error"
		fail("turn errored: %s", e.Code)
	}
	if c.Category != "" && o.Category != c.Category {
		fail("category %q, want %q", o.Category, c.Category)
	}
	if !slices.Equal(o.Tools, c.Tools) {
		fail("tools %v, want %v", o.Tools, c.Tools)
	}
	for name, want := range c.Args {
		got, ok := firstArg(res.Steps, name)
		if !ok {
			fail("arg %s missing, want %s", name, want)
			continue
		}
		if got != want {
			fail("arg %s = %s, want %s", name, got, want)
		}
	}
	o.Passed = len(o.Failures) == 0
	return o
}

func distinctTools(steps []agent.Step) []string {
	var out []string
	for _, s := range steps {
		if !slices.Contains(out, s.Tool) {
			out = append(out, s.Tool)
		}
	}
	return out
}

func firstArg(steps []agent.Step, name string) (string, bool) {
	for _, s := range steps {
		if v, ok := s.Args[name]; ok {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

// reportEval 输出结果；有失败用例时返回错误
func reportEval(w io.Writer, outcomes []evalOutcome, asJSON bool) error {
	failed := 0
	for _, o := range outcomes {
		if !o.Passed {
			failed++
		}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		for _, o := range outcomes {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
	} else {
		for _, o := range outcomes {
			mark := "PASS"
			if !o.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(w, "%s  %-26s %s %v\n", mark, o.Name, o.Category, o.Tools)
			for _, f := range o.Failures {
				fmt.Fprintf(w, "      %s\n", f)
			}
		}
		fmt.Fprintf(w, "%d/%d passed\n", len(outcomes)-failed, len(outcomes))
	}
	if failed > 0 {
		return fmt.Errorf("%d eval case(s) failed", failed)
	}
	return nil
}
