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

package registry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/tool"
)

func noop() tool.Handler {
	return tool.HandlerFunc(func(ctx context.Context, args map[string]any) (tool.Result, error) {
		return tool.OK(map[string]any{"ok": true}), nil
	})
}

func sampleDefs() []tool.Definition {
	return []tool.Definition{
		{
			Name:        "analyze_portfolio_performance",
			DisplayName: "Portfolio Analysis",
			Description: "Portfolio returns",
			InputSchema: tool.Schema{
				"time_period": {Type: tool.String, Enum: []string{"ytd", "max"}, Default: "ytd"},
			},
			Handler: noop(),
		},
		{
			Name:        "get_market_data",
			Description: "Quotes",
			InputSchema: tool.Schema{
				"symbols": {Type: tool.Array, Items: tool.String, Required: true},
			},
			Handler: noop(),
		},
	}
}

func TestBuild_PreservesDeclarationOrder(t *testing.T) {
	r, err := NewBuilder().Register(sampleDefs()...).Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze_portfolio_performance", "get_market_data"}, r.Names())
	assert.Equal(t, 2, r.Len())

	def, ok := r.Get("get_market_data")
	require.True(t, ok)
	assert.Equal(t, "get_market_data", def.DisplayName, "display name defaults to the tool name")

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBuild_Rejects(t *testing.T) {
	defs := sampleDefs()
	_, err := NewBuilder().Register(defs[0], defs[0]).Build()
	assert.ErrorContains(t, err, "registered twice")

	_, err = NewBuilder().Register(tool.Definition{Name: "x"}).Build()
	assert.ErrorContains(t, err, "no handler")

	_, err = NewBuilder().Register(tool.Definition{Handler: noop()}).Build()
	assert.ErrorContains(t, err, "name is required")
}

func TestCatalog(t *testing.T) {
	r := NewBuilder().Register(sampleDefs()...).MustBuild()
	catalog := r.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "analyze_portfolio_performance", catalog[0].Name)
	assert.Equal(t, "Portfolio returns", catalog[0].Desc)
	require.NotNil(t, catalog[0].ParamsOneOf)

	// 修改返回的切片不影响注册表
	catalog[0] = &schema.ToolInfo{Name: "hijacked"}
	assert.Equal(t, "analyze_portfolio_performance", r.Catalog()[0].Name)
}

func TestCatalogJSON(t *testing.T) {
	r := NewBuilder().Register(sampleDefs()...).MustBuild()
	raw, err := r.CatalogJSON()
	require.NoError(t, err)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)
	params := list[0]["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	period := props["time_period"].(map[string]any)
	assert.Equal(t, "string", period["type"])
	assert.Equal(t, []any{"ytd", "max"}, period["enum"])

	market := list[1]["parameters"].(map[string]any)
	assert.Equal(t, []any{"symbols"}, market["required"])
}

func TestConcurrentReads(t *testing.T) {
	r := NewBuilder().Register(sampleDefs()...).MustBuild()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get("get_market_data")
			_ = r.Catalog()
			_ = r.List()
		}()
	}
	wg.Wait()
}
