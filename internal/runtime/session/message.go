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

package session

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 会话历史中的一条记录；Tool 为该轮助手回复主要依据的工具
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tool      string    `json:"tool,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToSchema 转为 eino 消息（供 Router / Synthesizer 作为上下文）
func ToSchema(list []Message) []*schema.Message {
	if len(list) == 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(list))
	for _, m := range list {
		switch m.Role {
		case RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}

// LastTool 最近一条带工具记录的助手消息所用工具
func LastTool(list []Message) string {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Role == RoleAssistant && list[i].Tool != "" {
			return list[i].Tool
		}
	}
	return ""
}
