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

package portfolio

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenCache JWT 缓存：TTL 过期后重新换取，并发刷新合并为一次请求
type tokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
	fetch   func(ctx context.Context) (string, error)
	group   singleflight.Group
}

func newTokenCache(ttl time.Duration, fetch func(ctx context.Context) (string, error)) *tokenCache {
	return &tokenCache{ttl: ttl, now: time.Now, fetch: fetch}
}

// Get 返回有效 JWT；force 为 true 时跳过缓存
func (c *tokenCache) Get(ctx context.Context, force bool) (string, error) {
	if !force {
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.expires) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()
	}
	v, err, _ := c.group.Do("token", func() (any, error) {
		token, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.expires = c.now().Add(c.ttl)
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate 丢弃缓存的 JWT
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
