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

package event

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hertz-contrib/sse"
)

// ToSSE 转为 SSE 事件：event 为类型，data 为 JSON 负载
func ToSSE(e Event) (*sse.Event, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	return &sse.Event{Event: string(e.Kind), Data: data}, nil
}

// Encode 按 SSE 格式写出一帧（无底层连接的响应体、测试与 CLI 复用）
func Encode(w io.Writer, e Event) error {
	ev, err := ToSSE(e)
	if err != nil {
		return err
	}
	return sse.Encode(w, ev)
}
