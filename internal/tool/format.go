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

package tool

import (
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// FormatValue 按展示格式渲染字段值：percent → 5.23%，money → $10,000.00
func FormatValue(v any, f Format) string {
	n, isNum := ToFloat(v)
	switch f {
	case FormatPercent:
		if isNum {
			return strconv.FormatFloat(round2(n), 'f', 2, 64) + "%"
		}
	case FormatMoney:
		if isNum {
			return Money(n)
		}
	case FormatCount:
		if isNum {
			return humanize.Comma(int64(math.Round(n)))
		}
	}
	if isNum {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Money 1234.5 → $1,234.50
func Money(v float64) string {
	if v < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -v)
	}
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
