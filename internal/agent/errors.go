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

import "strings"

// Code 对外错误码
type Code string

const (
	CodeAuthRequired          Code = "AUTH_REQUIRED"
	CodeEmptyPortfolio        Code = "EMPTY_PORTFOLIO"
	CodeSchemaViolation       Code = "SCHEMA_VIOLATION"
	CodeToolTimeout           Code = "TOOL_TIMEOUT"
	CodeToolError             Code = "TOOL_ERROR"
	CodeMaxRetriesExceeded    Code = "MAX_RETRIES_EXCEEDED"
	CodeMaxChainDepthExceeded Code = "MAX_CHAIN_DEPTH_EXCEEDED"
	CodeAPIError              Code = "API_ERROR"
	// CodeOutOfScope 交给 Clarifier，不是错误
	CodeOutOfScope Code = "OUT_OF_SCOPE"
	// CodeInternal 编排内部故障，不属于业务错误分类
	CodeInternal Code = "INTERNAL_ERROR"
)

// 工具层补充错误码
const (
	codeAuthFailed        = "AUTH_FAILED"
	codeAPITimeout        = "API_TIMEOUT"
	codeInvalidTimePeriod = "INVALID_TIME_PERIOD"
)

var taxonomy = map[Code]bool{
	CodeAuthRequired: true, CodeEmptyPortfolio: true, CodeSchemaViolation: true,
	CodeToolTimeout: true, CodeToolError: true, CodeMaxRetriesExceeded: true,
	CodeMaxChainDepthExceeded: true, CodeAPIError: true, CodeInternal: true,
}

var retryable = map[string]bool{
	string(CodeToolTimeout): true,
	string(CodeToolError):   true,
	string(CodeAPIError):    true,
	codeAPITimeout:          true,
}

// IsRetryable 瞬时故障可重试
func IsRetryable(code string) bool {
	return retryable[code]
}

// Normalize 工具层错误码归入对外分类
func Normalize(code string) Code {
	switch {
	case code == codeAuthFailed:
		return CodeAuthRequired
	case code == codeAPITimeout:
		return CodeToolTimeout
	case strings.HasPrefix(code, "INVALID_"), code == "SYMBOLS_NOT_FOUND":
		return CodeToolError
	case taxonomy[Code(code)]:
		return Code(code)
	default:
		return CodeAPIError
	}
}

// ErrorInfo 对外安全的错误
type ErrorInfo struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

const genericMessage = "I ran into an issue while analyzing your request. Please try again."

// safeMessages 先按原始码查，再按归一后的码查
var safeMessages = map[string]string{
	string(CodeAuthRequired):          "Please sign in or create an account to get portfolio insights.",
	codeAuthFailed:                    "Your session has expired. Please sign in again.",
	string(CodeEmptyPortfolio):        "No holdings found. Use the 'Load Sample Portfolio' button on the home page, or add your own investments in Ghostfolio.",
	string(CodeSchemaViolation):       "The portfolio data came back in an unexpected shape, so I could not analyze it reliably.",
	string(CodeToolTimeout):           "The analysis took too long to finish. Please try again.",
	codeAPITimeout:                    "Having trouble reaching portfolio data. Is Ghostfolio running?",
	string(CodeToolError):             genericMessage,
	codeInvalidTimePeriod:             "Please use a valid period such as ytd, 1y, or max.",
	string(CodeMaxRetriesExceeded):    "I could not complete the analysis after several attempts. Please try again shortly.",
	string(CodeMaxChainDepthExceeded): "That request needs more analysis steps than I can run at once. Try asking about one topic at a time.",
	string(CodeAPIError):              "Received an error from the portfolio service.",
	string(CodeInternal):              "Something went wrong on our side. Please try again.",
}

// HandleError 错误码 → 对外 {code, message}；不接受任何上游原文
func HandleError(code string) ErrorInfo {
	normalized := Normalize(code)
	msg, ok := safeMessages[code]
	if !ok {
		msg = safeMessages[string(normalized)]
	}
	return ErrorInfo{Code: normalized, Message: msg}
}
