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

package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Store 只读 secret 来源
type Store interface {
	// Get 读取 secret 值
	Get(ctx context.Context, key string) (string, error)
}

// Resolver 将配置中的引用解析为明文：
//
//	vault:<path>[#field]  从 Vault 读取
//	env:<NAME>            从环境变量读取
//
// 其他值原样返回。
type Resolver struct {
	vault Store
	env   Store
}

// NewResolver 创建 Resolver，vault 可为 nil（此时 vault: 引用报错）
func NewResolver(vault Store) *Resolver {
	return &Resolver{vault: vault, env: NewEnvStore()}
}

// Resolve 解析单个引用
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "vault:"):
		if r.vault == nil {
			return "", fmt.Errorf("secret %q references vault but no vault is configured", ref)
		}
		return r.vault.Get(ctx, strings.TrimPrefix(ref, "vault:"))
	case strings.HasPrefix(ref, "env:"):
		return r.env.Get(ctx, strings.TrimPrefix(ref, "env:"))
	default:
		return ref, nil
	}
}

// IsReference 判断值是否需要解析
func IsReference(s string) bool {
	return strings.HasPrefix(s, "vault:") || strings.HasPrefix(s, "env:")
}
