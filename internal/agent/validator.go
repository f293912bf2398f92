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

	"finagent/internal/tool"
)

// Outcome Validator 分类
type Outcome string

const (
	OutcomeValid           Outcome = "valid"
	OutcomeEmpty           Outcome = "empty"
	OutcomeSchemaViolation Outcome = "schema_violation"
	OutcomeToolError       Outcome = "tool_error"
)

// Verdict 分类结果；Code 为非 valid 时编排使用的原始错误码
type Verdict struct {
	Outcome    Outcome
	Code       string
	Retryable  bool
	Violations []tool.Violation
}

// Classify 纯函数：只看结果信封与工具声明的输出约束
func Classify(def tool.Definition, res tool.Result) Verdict {
	if !res.Success {
		code := res.ErrorCode()
		if code == "" {
			code = string(CodeToolError)
		}
		return Verdict{Outcome: OutcomeToolError, Code: code, Retryable: IsRetryable(code)}
	}
	if len(res.Data) == 0 || (def.IsEmpty != nil && def.IsEmpty(res.Data)) {
		return Verdict{Outcome: OutcomeEmpty, Code: string(CodeEmptyPortfolio)}
	}
	if violations := def.OutputSchema.CheckData(res.Data); len(violations) > 0 {
		return Verdict{Outcome: OutcomeSchemaViolation, Code: string(CodeSchemaViolation), Violations: violations}
	}
	if def.Verify != nil {
		if err := def.Verify(res.Data); err != nil {
			return Verdict{
				Outcome:    OutcomeSchemaViolation,
				Code:       string(CodeSchemaViolation),
				Violations: []tool.Violation{{Field: "*", Reason: err.Error()}},
			}
		}
	}
	return Verdict{Outcome: OutcomeValid}
}

func (v Verdict) String() string {
	if v.Outcome == OutcomeValid {
		return string(v.Outcome)
	}
	return fmt.Sprintf("%s(%s)", v.Outcome, v.Code)
}
