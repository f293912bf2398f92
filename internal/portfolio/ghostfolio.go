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
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	authPath    = "/api/v1/auth/anonymous"
	detailsPath = "/api/v1/portfolio/details"
	ordersPath  = "/api/v1/order"
)

// GhostfolioConfig 客户端配置
type GhostfolioConfig struct {
	BaseURL string
	// AccessToken 用于匿名换取 JWT 的安全令牌；调用方通过 WithBearer 提供 JWT 时可为空
	AccessToken string
	Timeout     time.Duration
	TokenTTL    time.Duration
}

// Ghostfolio Ghostfolio REST 客户端
type Ghostfolio struct {
	baseURL     string
	accessToken string
	http        *resty.Client
	tokens      *tokenCache
}

// NewGhostfolio 创建客户端
func NewGhostfolio(cfg GhostfolioConfig) (*Ghostfolio, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ghostfolio base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 60 * time.Second
	}
	g := &Ghostfolio{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
	}
	g.tokens = newTokenCache(cfg.TokenTTL, g.exchangeToken)
	return g, nil
}

// Details 实现 Source
func (g *Ghostfolio) Details(ctx context.Context) (*Details, error) {
	var out Details
	if err := g.getJSON(ctx, detailsPath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Orders 实现 Source
func (g *Ghostfolio) Orders(ctx context.Context, dateRange string) (*Orders, error) {
	var query map[string]string
	if dateRange != "" {
		if !ValidDateRange(dateRange) {
			return nil, &Error{Code: CodeInvalidTimePeriod, Detail: "unsupported range: " + dateRange}
		}
		query = map[string]string{"range": dateRange}
	}
	var out Orders
	if err := g.getJSON(ctx, ordersPath, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Ghostfolio) getJSON(ctx context.Context, path string, query map[string]string, out any) error {
	token, caller := BearerFrom(ctx)
	if !caller {
		var err error
		if token, err = g.tokens.Get(ctx, false); err != nil {
			return err
		}
	}

	resp, err := g.send(ctx, path, query, token)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		// 调用方 JWT 无法刷新，直接判定过期
		if caller {
			return &Error{Code: CodeAuthFailed, Status: http.StatusUnauthorized}
		}
		g.tokens.Invalidate()
		if token, err = g.tokens.Get(ctx, true); err != nil {
			return err
		}
		if resp, err = g.send(ctx, path, query, token); err != nil {
			return err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return &Error{Code: CodeAuthFailed, Status: http.StatusUnauthorized}
		}
	}
	if resp.IsError() {
		return &Error{Code: CodeAPIError, Status: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Code: CodeAPIError, Status: resp.StatusCode(), Detail: "ghostfolio returned a non-object JSON response"}
	}
	return nil
}

func (g *Ghostfolio) send(ctx context.Context, path string, query map[string]string, token string) (*resty.Response, error) {
	req := g.http.R().SetContext(ctx).SetAuthToken(token)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// exchangeToken 用安全令牌换取 JWT
func (g *Ghostfolio) exchangeToken(ctx context.Context) (string, error) {
	if g.accessToken == "" {
		return "", &Error{Code: CodeAuthFailed, Detail: "no access token configured"}
	}
	var out struct {
		AuthToken string `json:"authToken"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"accessToken": g.accessToken}).
		Post(authPath)
	if err != nil {
		return "", transportError(err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return "", &Error{Code: CodeAuthFailed, Status: resp.StatusCode()}
	case resp.IsError():
		return "", &Error{Code: CodeAPIError, Status: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || strings.TrimSpace(out.AuthToken) == "" {
		return "", &Error{Code: CodeAuthFailed, Status: resp.StatusCode(), Detail: "auth response missing authToken"}
	}
	return strings.TrimSpace(out.AuthToken), nil
}

func transportError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Code: CodeAPITimeout, Detail: err.Error()}
	}
	return &Error{Code: CodeAPIError, Detail: err.Error()}
}
