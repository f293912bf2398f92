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
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"finagent/internal/tool"
)

// Registry 工具注册表：启动时构建，之后只读，可无锁并发读取
type Registry struct {
	defs    []tool.Definition
	index   map[string]int
	catalog []*schema.ToolInfo
}

// Builder 收集工具定义，Build 后冻结
type Builder struct {
	defs []tool.Definition
}

// NewBuilder 创建 Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Register 登记工具；声明顺序即关键词路由的优先顺序
func (b *Builder) Register(defs ...tool.Definition) *Builder {
	b.defs = append(b.defs, defs...)
	return b
}

// Build 校验并冻结注册表
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		defs:  make([]tool.Definition, 0, len(b.defs)),
		index: make(map[string]int, len(b.defs)),
	}
	for _, def := range b.defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", def.Name)
		}
		if _, dup := r.index[def.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", def.Name)
		}
		if def.DisplayName == "" {
			def.DisplayName = def.Name
		}
		r.index[def.Name] = len(r.defs)
		r.defs = append(r.defs, def)
		r.catalog = append(r.catalog, toToolInfo(def))
	}
	return r, nil
}

// MustBuild Build 失败时 panic，仅用于启动期与测试
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Get 按名称获取工具定义
func (r *Registry) Get(name string) (tool.Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return tool.Definition{}, false
	}
	return r.defs[i], true
}

// List 按声明顺序返回全部工具定义
func (r *Registry) List() []tool.Definition {
	out := make([]tool.Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names 按声明顺序返回工具名
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// Len 工具数量
func (r *Registry) Len() int { return len(r.defs) }

// Catalog 供模型 function-calling 使用的工具描述
func (r *Registry) Catalog() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// ToolSchemaForLLM 单个工具对外的 JSON 描述（name, description, parameters）
type ToolSchemaForLLM struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CatalogJSON 返回 JSON Schema 形式的工具列表（/api/tools 与 CLI 使用）
func (r *Registry) CatalogJSON() ([]byte, error) {
	list := make([]ToolSchemaForLLM, 0, len(r.defs))
	for _, def := range r.defs {
		list = append(list, ToolSchemaForLLM{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Parameters:  objectSchema(def.InputSchema),
		})
	}
	return json.Marshal(list)
}

func toToolInfo(def tool.Definition) *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(def.InputSchema))
	for name, field := range def.InputSchema {
		params[name] = toParameterInfo(field)
	}
	return &schema.ToolInfo{
		Name:        def.Name,
		Desc:        def.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func toParameterInfo(f tool.Field) *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type:     dataType(f.Type),
		Desc:     f.Description,
		Enum:     f.Enum,
		Required: f.Required,
	}
	switch f.Type {
	case tool.Array:
		p.Enum = nil
		p.ElemInfo = &schema.ParameterInfo{Type: dataType(f.Items), Enum: f.Enum}
	case tool.Object:
		if len(f.Properties) > 0 {
			p.SubParams = make(map[string]*schema.ParameterInfo, len(f.Properties))
			for name, sub := range f.Properties {
				p.SubParams[name] = toParameterInfo(sub)
			}
		}
	}
	return p
}

func dataType(t tool.Type) schema.DataType {
	switch t {
	case tool.Integer:
		return schema.Integer
	case tool.Number:
		return schema.Number
	case tool.Boolean:
		return schema.Boolean
	case tool.Array:
		return schema.Array
	case tool.Object:
		return schema.Object
	default:
		return schema.String
	}
}

func objectSchema(s tool.Schema) map[string]any {
	props := make(map[string]any, len(s))
	for _, name := range s.Names() {
		props[name] = fieldSchema(s[name])
	}
	out := map[string]any{"type": "object", "properties": props}
	if req := s.RequiredNames(); len(req) > 0 {
		out["required"] = req
	}
	return out
}

func fieldSchema(f tool.Field) map[string]any {
	m := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		m["description"] = f.Description
	}
	if f.Minimum != nil {
		m["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		m["maximum"] = *f.Maximum
	}
	if f.Default != nil {
		m["default"] = f.Default
	}
	switch f.Type {
	case tool.Array:
		items := map[string]any{"type": string(f.Items)}
		if len(f.Enum) > 0 {
			items["enum"] = f.Enum
		}
		m["items"] = items
	case tool.Object:
		if len(f.Properties) > 0 {
			return mergeObject(m, objectSchema(f.Properties))
		}
	default:
		if len(f.Enum) > 0 {
			m["enum"] = f.Enum
		}
	}
	return m
}

func mergeObject(dst, src map[string]any) map[string]any {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
