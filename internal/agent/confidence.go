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

import "math"

// 置信度权重
const (
	scoreValid   = 1.0
	scoreRetried = 0.6
	retryPenalty = 0.05
)

// Confidence 对每次调用打分取均值，再按重试次数扣分，结果限制在 [0,1]。
// 空结果在决策时即转入错误，不会走到合成，因此只区分有效与失败后重试两类
func Confidence(steps []Step, retries int) float64 {
	if len(steps) == 0 {
		return 0
	}
	var sum float64
	for i, step := range steps {
		switch {
		case step.Verdict.Outcome == OutcomeValid:
			sum += scoreValid
		case retriedLater(steps, i):
			sum += scoreRetried
		}
	}
	score := sum/float64(len(steps)) - retryPenalty*float64(retries)
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

func retriedLater(steps []Step, i int) bool {
	for _, s := range steps[i+1:] {
		if s.Tool == steps[i].Tool {
			return true
		}
	}
	return false
}
