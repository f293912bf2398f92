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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Type 字段类型
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Number  Type = "number"
	Boolean Type = "boolean"
	Array   Type = "array"
	Object  Type = "object"
)

// Field 单个字段描述：类型、约束、是否必填
type Field struct {
	Type        Type
	Description string
	Required    bool
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	// Items 数组元素类型（仅支持标量）
	Items Type
	// Properties 对象字段的子结构
	Properties Schema
	Default    any
}

// Schema 字段名 → 字段描述
type Schema map[string]Field

// Bound 便于书写 Minimum/Maximum
func Bound(v float64) *float64 { return &v }

// ErrValidation 参数或输出不满足 Schema
var ErrValidation = errors.New("schema validation failed")

// Violation 单条校验失败
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Reason
}

// ValidationError 校验错误，errors.Is(err, ErrValidation) 为真
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Is 支持 errors.Is(err, ErrValidation)
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Names 字段名（字典序）
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredNames 必填字段名（字典序）
func (s Schema) RequiredNames() []string {
	var names []string
	for _, name := range s.Names() {
		if s[name].Required {
			names = append(names, name)
		}
	}
	return names
}

// ValidateArgs 校验并规范化调用参数：填充默认值、数值收窄、枚举小写化、拒绝未知字段。
// 返回的新 map 不与入参共享。
func (s Schema) ValidateArgs(args map[string]any) (map[string]any, error) {
	var violations []Violation
	out := s.validateObject("", args, &violations)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

func (s Schema) validateObject(prefix string, args map[string]any, violations *[]Violation) map[string]any {
	out := make(map[string]any, len(s))
	unknown := make([]string, 0)
	for key := range args {
		if _, ok := s[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		*violations = append(*violations, Violation{Field: join(prefix, key), Reason: "unknown field"})
	}

	for _, name := range s.Names() {
		field := s[name]
		path := join(prefix, name)
		raw, present := args[name]
		if !present || raw == nil {
			switch {
			case field.Default != nil:
				out[name] = cloneDefault(field.Default)
			case field.Required:
				*violations = append(*violations, Violation{Field: path, Reason: "required"})
			}
			continue
		}
		value, reason := field.coerce(path, raw, violations)
		if reason != "" {
			*violations = append(*violations, Violation{Field: path, Reason: reason})
			continue
		}
		out[name] = value
	}
	return out
}

// coerce 按字段类型收窄参数值；返回非空 reason 表示失败
func (f Field) coerce(path string, raw any, violations *[]Violation) (any, string) {
	switch f.Type {
	case String:
		s, ok := raw.(string)
		if !ok {
			return nil, "expected string"
		}
		s = strings.TrimSpace(s)
		if len(f.Enum) > 0 {
			s = strings.ToLower(s)
			if !contains(f.Enum, s) {
				return nil, fmt.Sprintf("must be one of %s", strings.Join(f.Enum, ", "))
			}
		}
		return s, ""
	case Integer:
		n, ok := toNumber(raw)
		if !ok || n != math.Trunc(n) {
			return nil, "expected integer"
		}
		if reason := f.checkBounds(n); reason != "" {
			return nil, reason
		}
		return int(n), ""
	case Number:
		n, ok := toNumber(raw)
		if !ok {
			return nil, "expected number"
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, "must be finite"
		}
		if reason := f.checkBounds(n); reason != "" {
			return nil, reason
		}
		return n, ""
	case Boolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, "expected boolean"
		}
		return b, ""
	case Array:
		items, ok := toSlice(raw)
		if !ok {
			return nil, "expected array"
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, "expected array of strings"
			}
			s = strings.TrimSpace(s)
			if len(f.Enum) > 0 {
				s = strings.ToLower(s)
				if !contains(f.Enum, s) {
					return nil, fmt.Sprintf("items must be one of %s", strings.Join(f.Enum, ", "))
				}
			}
			out = append(out, s)
		}
		return out, ""
	case Object:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, "expected object"
		}
		if f.Properties == nil {
			return m, ""
		}
		return f.Properties.validateObject(path, m, violations), ""
	default:
		return nil, fmt.Sprintf("unsupported type %q", f.Type)
	}
}

func (f Field) checkBounds(n float64) string {
	if f.Minimum != nil && n < *f.Minimum {
		return fmt.Sprintf("must be >= %v", *f.Minimum)
	}
	if f.Maximum != nil && n > *f.Maximum {
		return fmt.Sprintf("must be <= %v", *f.Maximum)
	}
	return ""
}

// CheckData 校验工具输出：必填字段、类型、取值范围，以及整棵数据树中的数值均为有限值。
// 与 ValidateArgs 共享同一字段描述；不修改 data。
func (s Schema) CheckData(data map[string]any) []Violation {
	var violations []Violation
	s.checkObject("", data, &violations)
	walkNumbers("", data, func(path string, n float64) {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			violations = append(violations, Violation{Field: path, Reason: "non-finite number"})
		}
	})
	return violations
}

func (s Schema) checkObject(prefix string, data map[string]any, violations *[]Violation) {
	for _, name := range s.Names() {
		field := s[name]
		path := join(prefix, name)
		raw, present := data[name]
		if !present || raw == nil {
			if field.Required {
				*violations = append(*violations, Violation{Field: path, Reason: "missing"})
			}
			continue
		}
		if reason := field.checkValue(path, raw, violations); reason != "" {
			*violations = append(*violations, Violation{Field: path, Reason: reason})
		}
	}
}

func (f Field) checkValue(path string, raw any, violations *[]Violation) string {
	switch f.Type {
	case String:
		s, ok := raw.(string)
		if !ok {
			return "expected string"
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return "unexpected value " + s
		}
	case Integer, Number:
		n, ok := toNumber(raw)
		if !ok {
			return "expected " + string(f.Type)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			// walkNumbers 统一报告
			return ""
		}
		if f.Type == Integer && n != math.Trunc(n) {
			return "expected integer"
		}
		return f.checkBounds(n)
	case Boolean:
		if _, ok := raw.(bool); !ok {
			return "expected boolean"
		}
	case Array:
		if _, ok := toSlice(raw); !ok {
			return "expected array"
		}
	case Object:
		m, ok := toMap(raw)
		if !ok {
			return "expected object"
		}
		if f.Properties != nil {
			f.Properties.checkObject(path, m, violations)
		}
	}
	return ""
}

// Lookup 按点分路径读取嵌套字段
func Lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := toMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// ToFloat 将任意数值类型转为 float64
func ToFloat(v any) (float64, bool) {
	return toNumber(v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// walkNumbers 遍历数据树中的所有数值
func walkNumbers(path string, v any, fn func(path string, n float64)) {
	if n, ok := toNumber(v); ok {
		fn(path, n)
		return
	}
	if m, ok := toMap(v); ok {
		for k, child := range m {
			walkNumbers(join(path, k), child, fn)
		}
		return
	}
	if s, ok := toSlice(v); ok {
		for i, child := range s {
			walkNumbers(fmt.Sprintf("%s[%d]", path, i), child, fn)
		}
	}
}

func cloneDefault(v any) any {
	if s, ok := v.([]string); ok {
		return append([]string(nil), s...)
	}
	return v
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
